// Package storage owns the on-disk artifact tree: one directory per repo
// holding an index.json and a nested
// distribution/component/architecture/name/version directory per package
// containing package.deb and metadata.json. All other components reach the
// tree exclusively through Engine.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pository/pository/internal/deb"
	"github.com/pository/pository/internal/events"
	"github.com/pository/pository/internal/validate"
)

// FallbackFunc extracts control metadata from an artifact already written
// to disk, used both for upload-time enrichment and self-heal backfill.
type FallbackFunc func(ctx context.Context, debPath string) (*deb.ControlFields, error)

// Engine is the Storage Engine (C3). The zero value is not usable;
// construct with New.
type Engine struct {
	dataRoot string
	bus      *events.Bus
	fallback FallbackFunc

	mu            sync.Mutex // guards the two lock maps below
	repoLocks     map[string]*sync.Mutex
	locationLocks map[string]*sync.Mutex

	indexMu    sync.Mutex
	indexCache map[string]*Index
	healed     map[string]bool
}

// New constructs an Engine rooted at dataRoot. bus may be nil. fallback may
// be nil, in which case enrichment and self-heal are skipped.
func New(dataRoot string, bus *events.Bus, fallback FallbackFunc) *Engine {
	if bus == nil {
		bus = events.New()
	}
	return &Engine{
		dataRoot:      dataRoot,
		bus:           bus,
		fallback:      fallback,
		repoLocks:     make(map[string]*sync.Mutex),
		locationLocks: make(map[string]*sync.Mutex),
		indexCache:    make(map[string]*Index),
		healed:        make(map[string]bool),
	}
}

func (e *Engine) repoDir(repo string) string {
	return filepath.Join(e.dataRoot, repo)
}

func (e *Engine) artifactDir(loc validate.Location) string {
	return filepath.Join(e.repoDir(loc.Repo), loc.Distribution, loc.Component, loc.Architecture, loc.Name, loc.Version)
}

func (e *Engine) lockFor(m map[string]*sync.Mutex, key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := m[key]
	if !ok {
		l = &sync.Mutex{}
		m[key] = l
	}
	return l
}

func (e *Engine) repoLock(repo string) *sync.Mutex {
	return e.lockFor(e.repoLocks, repo)
}

func (e *Engine) locationLock(loc validate.Location) *sync.Mutex {
	key := fmt.Sprintf("%s/%s/%s/%s/%s/%s", loc.Repo, loc.Distribution, loc.Component, loc.Architecture, loc.Name, loc.Version)
	return e.lockFor(e.locationLocks, key)
}

// StorePackage writes the artifact and its metadata atomically and upserts
// the per-repo index. A repeated call with identical bytes is idempotent:
// it yields the same digest and a single index entry.
func (e *Engine) StorePackage(ctx context.Context, loc validate.Location, data []byte, uploaderKeyID string, control *deb.ControlFields) (Metadata, error) {
	lock := e.locationLock(loc)
	lock.Lock()
	defer lock.Unlock()

	dir := e.artifactDir(loc)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Metadata{}, fmt.Errorf("create artifact directory: %w", err)
	}

	sum := sha256.Sum256(data)
	sha256Hex := hex.EncodeToString(sum[:])

	debPath := filepath.Join(dir, "package.deb")
	if err := atomicWriteFile(debPath, data, 0644); err != nil {
		return Metadata{}, fmt.Errorf("write package.deb: %w", err)
	}

	if (control == nil || control.Description == "") && e.fallback != nil {
		if cf, err := e.fallback(ctx, debPath); err == nil {
			control = cf
		}
	}

	m := Metadata{
		Repo:          loc.Repo,
		Distribution:  loc.Distribution,
		Component:     loc.Component,
		Architecture:  loc.Architecture,
		Name:          loc.Name,
		Version:       loc.Version,
		Size:          int64(len(data)),
		SHA256:        sha256Hex,
		MIME:          "application/vnd.debian.binary-package",
		UploadedAt:    time.Now().UTC(),
		UploaderKeyID: uploaderKeyID,
		SchemaVersion: 1,
	}
	applyControl(&m, control)

	metaBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Metadata{}, err
	}
	if err := atomicWriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0644); err != nil {
		return Metadata{}, fmt.Errorf("write metadata.json: %w", err)
	}

	if err := e.upsertIndex(loc.Repo, m); err != nil {
		return Metadata{}, fmt.Errorf("update index: %w", err)
	}

	e.bus.Emit(events.PackageStored{
		Repo: loc.Repo, Distribution: loc.Distribution, Component: loc.Component,
		Architecture: loc.Architecture, Name: loc.Name, Version: loc.Version,
	})
	return m, nil
}

func applyControl(m *Metadata, cf *deb.ControlFields) {
	if cf == nil {
		return
	}
	m.Description = cf.Description
	m.MultiArch = cf.MultiArch
	m.Maintainer = cf.Maintainer
	m.Depends = cf.Depends
	m.PreDepends = cf.PreDepends
	m.Suggests = cf.Suggests
	m.Conflicts = cf.Conflicts
	m.Breaks = cf.Breaks
	m.Replaces = cf.Replaces
	m.Provides = cf.Provides
	m.Homepage = cf.Homepage
	m.Section = cf.Section
	m.Priority = cf.Priority
	m.InstalledSize = cf.InstalledSize
}

// GetPackageFile returns the absolute path to a stored artifact.
func (e *Engine) GetPackageFile(loc validate.Location) (string, bool) {
	path := filepath.Join(e.artifactDir(loc), "package.deb")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// GetPackageMetadata returns the metadata for a stored artifact.
func (e *Engine) GetPackageMetadata(loc validate.Location) (Metadata, bool) {
	idx, err := e.loadIndex(loc.Repo)
	if err != nil {
		return Metadata{}, false
	}
	for _, m := range idx.Entries {
		if m.MatchLocation(loc) {
			return m, true
		}
	}
	return Metadata{}, false
}

// DeletePackage removes the artifact directory, its index entry, and walks
// upward removing any directory that became empty, stopping at the repo's
// own directory.
func (e *Engine) DeletePackage(loc validate.Location) (bool, error) {
	lock := e.locationLock(loc)
	lock.Lock()
	defer lock.Unlock()

	dir := e.artifactDir(loc)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}

	repoLock := e.repoLock(loc.Repo)
	repoLock.Lock()
	idx, err := loadIndexFile(e.repoDir(loc.Repo))
	if err != nil {
		repoLock.Unlock()
		return false, err
	}
	found := idx.Remove(loc)
	if found {
		if err := saveIndexFile(e.repoDir(loc.Repo), idx); err != nil {
			repoLock.Unlock()
			return false, err
		}
		e.setCachedIndex(loc.Repo, idx)
	}
	repoLock.Unlock()

	e.removeEmptyParents(dir, e.repoDir(loc.Repo))

	e.bus.Emit(events.PackageDeleted{
		Repo: loc.Repo, Distribution: loc.Distribution, Component: loc.Component,
		Architecture: loc.Architecture, Name: loc.Name, Version: loc.Version,
	})
	return found, nil
}

func (e *Engine) removeEmptyParents(start, stopAt string) {
	dir := filepath.Dir(start)
	for dir != stopAt && len(dir) > len(stopAt) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ListPackages returns all index entries matching filters. When
// filters.Repo is set only that repo is consulted; otherwise every repo
// under dataRoot is scanned.
func (e *Engine) ListPackages(filters Filters) ([]Metadata, error) {
	var repos []string
	if filters.Repo != "" {
		repos = []string{filters.Repo}
	} else {
		entries, err := os.ReadDir(e.dataRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, ent := range entries {
			if ent.IsDir() {
				repos = append(repos, ent.Name())
			}
		}
	}

	var out []Metadata
	for _, repo := range repos {
		idx, err := e.loadIndex(repo)
		if err != nil {
			continue
		}
		for _, m := range idx.Entries {
			if filters.match(m) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// GetStorageStats sums the size and count of every stored artifact.
func (e *Engine) GetStorageStats() (totalSize int64, packageCount int, err error) {
	entries, rerr := e.ListPackages(Filters{})
	if rerr != nil {
		return 0, 0, rerr
	}
	for _, m := range entries {
		totalSize += m.Size
		packageCount++
	}
	return totalSize, packageCount, nil
}

// IsStorageReady verifies read+write access to dataRoot.
func (e *Engine) IsStorageReady() bool {
	if err := os.MkdirAll(e.dataRoot, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(e.dataRoot, ".readyz-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func (e *Engine) setCachedIndex(repo string, idx *Index) {
	e.indexMu.Lock()
	e.indexCache[repo] = idx
	e.indexMu.Unlock()
}

func (e *Engine) loadIndex(repo string) (*Index, error) {
	e.indexMu.Lock()
	if idx, ok := e.indexCache[repo]; ok {
		e.indexMu.Unlock()
		e.selfHeal(repo, idx)
		return idx, nil
	}
	e.indexMu.Unlock()

	idx, err := loadIndexFile(e.repoDir(repo))
	if err != nil {
		return nil, err
	}
	e.setCachedIndex(repo, idx)
	e.selfHeal(repo, idx)
	e.bus.Emit(events.IndexRebuilt{Repo: repo})
	return idx, nil
}

// selfHeal backfills the description (and the rest of the optional control
// fields) for index entries whose control metadata could not be extracted
// at upload time. Best-effort: failures are silent.
func (e *Engine) selfHeal(repo string, idx *Index) {
	if e.fallback == nil {
		return
	}
	e.indexMu.Lock()
	if e.healed[repo] {
		e.indexMu.Unlock()
		return
	}
	e.healed[repo] = true
	e.indexMu.Unlock()

	changed := false
	for i, m := range idx.Entries {
		if m.Description != "" {
			continue
		}
		debPath := filepath.Join(e.artifactDir(m.Location()), "package.deb")
		cf, err := e.fallback(context.Background(), debPath)
		if err != nil {
			continue
		}
		applyControl(&idx.Entries[i], cf)
		metaBytes, err := json.MarshalIndent(idx.Entries[i], "", "  ")
		if err != nil {
			continue
		}
		_ = atomicWriteFile(filepath.Join(e.artifactDir(m.Location()), "metadata.json"), metaBytes, 0644)
		changed = true
	}
	if changed {
		repoLock := e.repoLock(repo)
		repoLock.Lock()
		_ = saveIndexFile(e.repoDir(repo), idx)
		repoLock.Unlock()
	}
}

func (e *Engine) upsertIndex(repo string, m Metadata) error {
	lock := e.repoLock(repo)
	lock.Lock()
	defer lock.Unlock()

	idx, err := loadIndexFile(e.repoDir(repo))
	if err != nil {
		return err
	}
	idx.Upsert(m)
	if err := saveIndexFile(e.repoDir(repo), idx); err != nil {
		return err
	}
	e.setCachedIndex(repo, idx)
	return nil
}
