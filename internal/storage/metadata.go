package storage

import (
	"time"

	"github.com/pository/pository/internal/validate"
)

// Metadata is the immutable record created at upload time. It is never
// mutated after creation except by the self-heal backfill of optional
// control fields, which must still produce the bytes dpkg would produce.
type Metadata struct {
	Repo          string    `json:"repo"`
	Distribution  string    `json:"distribution"`
	Component     string    `json:"component"`
	Architecture  string    `json:"architecture"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Size          int64     `json:"size"`
	SHA256        string    `json:"sha256"`
	MIME          string    `json:"mime"`
	UploadedAt    time.Time `json:"uploadedAt"`
	UploaderKeyID string    `json:"uploaderKeyId"`

	Description   string `json:"description,omitempty"`
	MultiArch     string `json:"multiArch,omitempty"`
	Maintainer    string `json:"maintainer,omitempty"`
	Depends       string `json:"depends,omitempty"`
	PreDepends    string `json:"preDepends,omitempty"`
	Suggests      string `json:"suggests,omitempty"`
	Conflicts     string `json:"conflicts,omitempty"`
	Breaks        string `json:"breaks,omitempty"`
	Replaces      string `json:"replaces,omitempty"`
	Provides      string `json:"provides,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Section       string `json:"section,omitempty"`
	Priority      string `json:"priority,omitempty"`
	InstalledSize string `json:"installedSize,omitempty"`

	SchemaVersion int `json:"schemaVersion"`
}

// Location returns the six-tuple primary key of m.
func (m Metadata) Location() validate.Location {
	return validate.Location{
		Repo:         m.Repo,
		Distribution: m.Distribution,
		Component:    m.Component,
		Architecture: m.Architecture,
		Name:         m.Name,
		Version:      m.Version,
	}
}

// MatchLocation reports whether loc identifies the same artifact as m.
func (m Metadata) MatchLocation(loc validate.Location) bool {
	return m.Distribution == loc.Distribution &&
		m.Component == loc.Component &&
		m.Architecture == loc.Architecture &&
		m.Name == loc.Name &&
		m.Version == loc.Version
}

// Filters narrows a listPackages call. A zero-valued field matches anything.
type Filters struct {
	Repo         string
	Distribution string
	Component    string
	Architecture string
	Name         string
	Version      string
}

func (f Filters) match(m Metadata) bool {
	if f.Repo != "" && f.Repo != m.Repo {
		return false
	}
	if f.Distribution != "" && f.Distribution != m.Distribution {
		return false
	}
	if f.Component != "" && f.Component != m.Component {
		return false
	}
	if f.Architecture != "" && f.Architecture != m.Architecture {
		return false
	}
	if f.Name != "" && f.Name != m.Name {
		return false
	}
	if f.Version != "" && f.Version != m.Version {
		return false
	}
	return true
}
