// Package history manages the directory of raw capture outputs. Each capture
// writes one file named after its start time; files are listed, read and
// removed by bare filename only.
package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FilenameLayout is the time layout of capture output filenames.
const FilenameLayout = "2006-01-02T15-04-05"

// Sentinel errors returned by Store.
var (
	ErrNotFound    = errors.New("history: entry not found")
	ErrInvalidName = errors.New("history: invalid entry name")
	ErrIO          = errors.New("history: i/o failure")
)

// Entry is one capture output file.
type Entry struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Store is a flat directory of capture outputs. Subdirectories are ignored.
type Store struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for new filenames.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a Store rooted at dir. Call Init before first use.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    filepath.Clean(dir),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the history directory.
func (s *Store) Dir() string { return s.dir }

// Init creates the history directory if it does not exist.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, s.dir, err)
	}
	return nil
}

// NewFilename returns the filename for a capture starting now.
func (s *Store) NewFilename() string {
	return s.now().Format(FilenameLayout)
}

// Path resolves a bare filename inside the history directory.
func (s *Store) Path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// List returns the regular files in the history directory sorted by name,
// which for capture outputs is chronological. A missing directory yields an
// empty list.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, s.dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{
			Filename: d.Name(),
			Path:     filepath.Join(s.dir, d.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Filename < entries[k].Filename })
	return entries, nil
}

// Names returns the filenames from List.
func (s *Store) Names() ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Filename
	}
	return names, nil
}

// Load returns the raw contents of a capture output.
func (s *Store) Load(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, name, err)
	}
	return data, nil
}

// Delete removes one capture output. Deleting a missing entry succeeds.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: stat %s: %v", ErrIO, name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, name, err)
	}
	s.logger.Debug("history entry deleted", zap.String("file", name))
	return nil
}

// Clear removes every regular file in the history directory and returns
// how many were removed. It keeps going past individual failures and
// returns the first one.
func (s *Store) Clear() (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	var firstErr error
	removed := 0
	for _, e := range entries {
		if err := os.Remove(e.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.logger.Warn("clear history entry", zap.String("file", e.Filename), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: remove %s: %v", ErrIO, e.Filename, err)
			}
			continue
		}
		removed++
	}
	s.logger.Info("history cleared", zap.Int("removed", removed))
	return removed, firstErr
}
