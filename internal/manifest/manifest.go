// Package manifest owns the reconciliation ledger: the list of tracked files,
// where each came from, and the digest of its snapshot.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// CurrentVersion is the manifest format version written by this tool
const CurrentVersion = 1

// DateLayout is the format of the installed_at and updated_at stamps
const DateLayout = "2006-01-02"

// ErrNotFound is returned by Read when no manifest exists at the given path
var ErrNotFound = errors.New("manifest not found")

// Manifest is the persisted list of tracked files
type Manifest struct {
	Version     int     `json:"manifest_version"`
	InstalledAt string  `json:"installed_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
	AixVersion  string  `json:"aix_version,omitempty"`
	Files       []Entry `json:"files"`

	// top-level keys owned by other tools, written back as found
	extra map[string]json.RawMessage
}

// Entry records one tracked file
type Entry struct {
	Path       string `json:"path"`                 // relative to the repo root, unique
	Source     string `json:"source"`               // locator within the upstream tree
	Hash       string `json:"sha256"`               // digest of the snapshot, not the local file
	Capability string `json:"capability,omitempty"` // optional classification label

	extra map[string]json.RawMessage
	// raw holds the original element when it did not decode as an entry
	raw json.RawMessage
}

// Malformed reports whether the entry could not be decoded. Such entries are
// kept verbatim in the manifest and never reconciled.
func (e *Entry) Malformed() bool {
	return e.raw != nil
}

// UnmarshalJSON decodes one files element. Elements that are not objects or
// whose known fields are not strings do not fail the manifest; they are kept
// as malformed entries.
func (e *Entry) UnmarshalJSON(data []byte) error {
	*e = Entry{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		e.raw = slices.Clone(data)
		return nil
	}

	malformed := false
	for key, dst := range map[string]*string{
		"path":       &e.Path,
		"source":     &e.Source,
		"sha256":     &e.Hash,
		"capability": &e.Capability,
	} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, key)
		if string(value) == "null" || json.Unmarshal(value, dst) != nil {
			malformed = true
		}
	}

	if malformed {
		e.raw = slices.Clone(data)
		return nil
	}
	if len(fields) > 0 {
		e.extra = fields
	}
	return nil
}

// MarshalJSON writes known fields first, then unknown keys in sorted order
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	type known Entry
	data, err := json.Marshal(known(e))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, e.extra)
}

// UnmarshalJSON decodes the known fields and keeps every other key
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type known Manifest
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, key := range []string{"manifest_version", "installed_at", "updated_at", "aix_version", "files"} {
		delete(fields, key)
	}

	*m = Manifest(k)
	if len(fields) > 0 {
		m.extra = fields
	}
	return nil
}

// MarshalJSON writes known fields first, then unknown keys in sorted order
func (m Manifest) MarshalJSON() ([]byte, error) {
	type known Manifest
	data, err := json.Marshal(known(m))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, m.extra)
}

// appendExtra splices extra into the encoded object obj
func appendExtra(obj []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return obj, nil
	}

	var buf bytes.Buffer
	buf.Write(obj[:len(obj)-1])
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// New returns an empty manifest skeleton
func New() *Manifest {
	return &Manifest{Version: CurrentVersion, Files: []Entry{}}
}

// Load reads the manifest at path. A missing file yields an empty skeleton.
func Load(path string) (*Manifest, error) {
	m, err := Read(path)
	if errors.Is(err, ErrNotFound) {
		return New(), nil
	}
	return m, err
}

// Read reads the manifest at path and fails with ErrNotFound when it is absent
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.normalize()

	return &m, nil
}

// Save writes the manifest to path, creating parent directories. Output is
// deterministic: saving identical data twice yields identical bytes.
func Save(path string, m *Manifest) error {
	m.normalize()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path with data through a temp file and rename
func writeFileAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".manifest-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// Add appends e unless an entry with the same path already exists.
// It reports whether the entry was added.
func (m *Manifest) Add(e Entry) bool {
	if _, ok := m.Lookup(e.Path); ok {
		return false
	}
	m.Files = append(m.Files, e)
	return true
}

// Lookup returns the entry tracking path
func (m *Manifest) Lookup(path string) (*Entry, bool) {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// Capabilities returns the distinct non-empty capability tags, in first-seen order
func (m *Manifest) Capabilities() []string {
	seen := make(map[string]bool)
	var caps []string
	for _, e := range m.Files {
		if e.Capability == "" || seen[e.Capability] {
			continue
		}
		seen[e.Capability] = true
		caps = append(caps, e.Capability)
	}
	return caps
}

// Stamp sets updated_at to the date of now
func (m *Manifest) Stamp(now time.Time) {
	m.UpdatedAt = now.Format(DateLayout)
}

func (m *Manifest) normalize() {
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	if m.Files == nil {
		m.Files = []Entry{}
	}
}
