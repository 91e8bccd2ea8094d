package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pository/pository/internal/validate"
)

// Index is the ordered, per-repo sequence of PackageMetadata persisted at
// <repo>/index.json. At most one entry exists per
// (distribution, component, architecture, name, version).
type Index struct {
	Entries []Metadata `json:"entries"`
}

func (idx *Index) indexOf(m Metadata) int {
	for i, e := range idx.Entries {
		if e.MatchLocation(m.Location()) {
			return i
		}
	}
	return -1
}

// Upsert replaces the matching entry or appends m, preserving insertion
// order for everything else.
func (idx *Index) Upsert(m Metadata) {
	if i := idx.indexOf(m); i >= 0 {
		idx.Entries[i] = m
		return
	}
	idx.Entries = append(idx.Entries, m)
}

// Remove deletes the entry matching loc, reporting whether one was found.
func (idx *Index) Remove(loc validate.Location) bool {
	for i, e := range idx.Entries {
		if e.MatchLocation(loc) {
			idx.Entries = append(idx.Entries[:i], idx.Entries[i+1:]...)
			return true
		}
	}
	return false
}

func indexPath(repoDir string) string {
	return filepath.Join(repoDir, "index.json")
}

func loadIndexFile(repoDir string) (*Index, error) {
	b, err := os.ReadFile(indexPath(repoDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func saveIndexFile(repoDir string, idx *Index) error {
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(indexPath(repoDir), b, 0644)
}
