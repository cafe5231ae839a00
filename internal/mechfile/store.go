// Package mechfile persists the Mechfile: the JSON document in the project
// directory that maps instance names to their box and configuration.
//
// The file is small and owned by a single operator, so every mutation is a
// whole-document read-modify-write with no locking. Two processes writing at
// once can lose an update; the last writer wins.
package mechfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// FileName is the manifest file name inside the project directory.
const FileName = "Mechfile"

var (
	// ErrNotFound is returned when a Mechfile is required but absent.
	ErrNotFound = errors.New("mechfile not found")

	// ErrCorrupt is returned for unparsable Mechfiles under CorruptFail.
	ErrCorrupt = errors.New("mechfile is not valid JSON")

	// ErrInvalidEntry is returned for well-formed Mechfiles whose content
	// does not fit the entry schema. It is never reset by CorruptReset.
	ErrInvalidEntry = errors.New("invalid mechfile entry")

	// ErrNoEntry is returned by Get for unknown instance names.
	ErrNoEntry = errors.New("no such instance in mechfile")
)

// CorruptPolicy selects how Load treats a Mechfile that is not valid JSON.
type CorruptPolicy string

const (
	// CorruptReset treats a corrupt file as empty. The next save replaces it.
	CorruptReset CorruptPolicy = "reset"

	// CorruptFail returns ErrCorrupt.
	CorruptFail CorruptPolicy = "fail"
)

// ParseCorruptPolicy validates a policy name. Empty selects CorruptReset.
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch CorruptPolicy(s) {
	case "", CorruptReset:
		return CorruptReset, nil
	case CorruptFail:
		return CorruptFail, nil
	default:
		return "", fmt.Errorf("invalid corrupt policy: %s (valid: reset, fail)", s)
	}
}

// Mechfile maps instance names to entries.
type Mechfile map[string]Entry

// Names returns the instance names in sorted order.
func (m Mechfile) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal renders m with sorted keys and 2-space indentation.
// An empty Mechfile renders as "{}".
func Marshal(m Mechfile) ([]byte, error) {
	if m == nil {
		m = Mechfile{}
	}
	data, err := encode(m, "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mechfile: %w", err)
	}
	return data, nil
}

// Store reads and writes the Mechfile of one project directory.
type Store struct {
	dir    string
	policy CorruptPolicy
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCorruptPolicy sets how corrupt files are handled.
func WithCorruptPolicy(p CorruptPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a Store for the Mechfile in projectDir.
func NewStore(projectDir string, opts ...Option) *Store {
	s := &Store{
		dir:    projectDir,
		policy: CorruptReset,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the Mechfile path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the Mechfile.
//
// A missing file is ErrNotFound when shouldExist is set, and an empty
// Mechfile otherwise. A file that is not valid JSON is handled according to
// the store's CorruptPolicy. Valid JSON with a mistyped entry is always an
// error so a later save cannot drop the other entries.
func (s *Store) Load(shouldExist bool) (Mechfile, error) {
	path := s.Path()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if shouldExist {
			return nil, fmt.Errorf("could not find a Mechfile in %s; run `mech add <location>` to create one: %w", s.dir, ErrNotFound)
		}
		return Mechfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if !json.Valid(data) {
		if s.policy == CorruptFail {
			return nil, fmt.Errorf("%s: %w", path, ErrCorrupt)
		}
		s.logger.Warn("ignoring corrupt mechfile", zap.String("path", path))
		return Mechfile{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: top level must be an object", path, ErrInvalidEntry)
	}

	m := make(Mechfile, len(raw))
	for name, value := range raw {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			return nil, fmt.Errorf("%s: %w %q: %v", path, ErrInvalidEntry, name, err)
		}
		m[name] = entry
	}

	return m, nil
}

// Save overwrites the Mechfile with m.
func (s *Store) Save(m Mechfile) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.Path(), err)
	}

	s.logger.Debug("saved mechfile", zap.String("path", s.Path()), zap.Int("entries", len(m)))
	return nil
}

// SaveEntry stores entry under name, or under the entry's own name when name
// is empty. An existing entry with the same name is replaced.
func (s *Store) SaveEntry(entry Entry, name string, shouldExist bool) error {
	if name == "" {
		name = entry.NameOrEmpty()
	}
	if name == "" {
		return errors.New("cannot save a mechfile entry without a name")
	}

	m, err := s.Load(shouldExist)
	if err != nil {
		return err
	}

	m[name] = entry

	return s.Save(m)
}

// RemoveEntry deletes name. Removing an absent name is not an error.
func (s *Store) RemoveEntry(name string, shouldExist bool) error {
	m, err := s.Load(shouldExist)
	if err != nil {
		return err
	}

	delete(m, name)

	return s.Save(m)
}

// Get returns the entry stored under name.
func (s *Store) Get(name string) (Entry, error) {
	m, err := s.Load(true)
	if err != nil {
		return Entry{}, err
	}

	entry, ok := m[name]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", name, ErrNoEntry)
	}
	return entry, nil
}
