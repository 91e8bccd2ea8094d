package deb

import (
	"errors"
	"strings"
)

// ControlFields holds the fields of a Debian control stanza relevant to this
// service. Raw carries every field exactly as seen, keyed by field name, so
// callers can tell a field that was genuinely absent from one that was empty.
type ControlFields struct {
	Package       string
	Version       string
	Architecture  string
	Maintainer    string
	Description   string
	MultiArch     string
	Homepage      string
	Section       string
	Priority      string
	PreDepends    string
	Depends       string
	Suggests      string
	Conflicts     string
	Breaks        string
	Replaces      string
	Provides      string
	InstalledSize string
	Raw           map[string]string
}

// Has reports whether the named field was present in the parsed stanza,
// independent of whether its value happened to be empty.
func (c *ControlFields) Has(field string) bool {
	_, ok := c.Raw[field]
	return ok
}

var errEmptyControl = errors.New("control file contained no recognizable fields")

// ParseControlFile parses an RFC-822-style Debian control stanza: lines
// beginning with a space or tab continue the previous field's value.
func ParseControlFile(content string) (*ControlFields, error) {
	cf := &ControlFields{Raw: map[string]string{}}
	var key string
	var val strings.Builder

	flush := func() {
		if key == "" {
			return
		}
		v := strings.TrimSpace(val.String())
		cf.Raw[key] = v
		switch key {
		case "Package":
			cf.Package = v
		case "Version":
			cf.Version = v
		case "Architecture":
			cf.Architecture = v
		case "Maintainer":
			cf.Maintainer = v
		case "Description":
			cf.Description = v
		case "Multi-Arch":
			cf.MultiArch = v
		case "Homepage":
			cf.Homepage = v
		case "Section":
			cf.Section = v
		case "Priority":
			cf.Priority = v
		case "Pre-Depends":
			cf.PreDepends = v
		case "Depends":
			cf.Depends = v
		case "Suggests":
			cf.Suggests = v
		case "Conflicts":
			cf.Conflicts = v
		case "Breaks":
			cf.Breaks = v
		case "Replaces":
			cf.Replaces = v
		case "Provides":
			cf.Provides = v
		case "Installed-Size":
			cf.InstalledSize = v
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if key == "" {
				continue
			}
			folded := line
			if strings.TrimSpace(line) == "." {
				folded = ""
			}
			val.WriteString("\n" + folded)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		flush()
		key = strings.TrimSpace(line[:idx])
		val.Reset()
		val.WriteString(strings.TrimSpace(line[idx+1:]))
	}
	flush()

	if cf.Package == "" && cf.Version == "" && cf.Architecture == "" {
		return nil, errEmptyControl
	}
	return cf, nil
}
