// Package bookmarks stores saved telnet destinations as one YAML file
// per bookmark.
package bookmarks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var bookmarkIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var (
	// ErrNotFound is returned when a bookmark id is unknown.
	ErrNotFound = errors.New("bookmark not found")
	ErrInvalid  = errors.New("invalid bookmark")
)

type Store struct {
	dir       string
	bookmarks map[string]*Bookmark
	mu        sync.RWMutex
}

// NewStore loads every bookmark in dir, seeding the shipped defaults
// when the directory holds no YAML files yet.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("bookmarks dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bookmarks dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	s := &Store{
		dir:       dir,
		bookmarks: make(map[string]*Bookmark),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(id string) *Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return nil
	}
	out := *b
	return &out
}

func (s *Store) List() []*Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Bookmark, 0, len(s.bookmarks))
	for _, b := range s.bookmarks {
		out := *b
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Label == result[j].Label {
			return result[i].ID < result[j].ID
		}
		return result[i].Label < result[j].Label
	})
	return result
}

func (s *Store) Reload() error {
	loaded, err := loadDir(s.dir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bookmarks = loaded
	s.mu.Unlock()
	return nil
}

func (s *Store) Save(b *Bookmark) error {
	if b == nil {
		return errors.New("bookmark is required")
	}
	clean := *b
	if err := validate(&clean); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("marshal bookmark: %w", err)
	}
	path := filepath.Join(s.dir, clean.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bookmark %q: %w", path, err)
	}

	s.mu.Lock()
	s.bookmarks[clean.ID] = &clean
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.mu.RLock()
	_, ok := s.bookmarks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.dir, id+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete bookmark %q: %w", path, err)
	}

	s.mu.Lock()
	delete(s.bookmarks, id)
	s.mu.Unlock()
	return nil
}

func loadDir(dir string) (map[string]*Bookmark, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bookmarks dir: %w", err)
	}

	loaded := make(map[string]*Bookmark)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		b, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := loaded[b.ID]; exists {
			return nil, fmt.Errorf("duplicate bookmark id %q", b.ID)
		}
		loaded[b.ID] = b
	}
	return loaded, nil
}

func loadFile(path string) (*Bookmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bookmark %q: %w", path, err)
	}
	var b Bookmark
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bookmark %q: %w", path, err)
	}
	if err := validate(&b); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &b, nil
}

func validate(b *Bookmark) error {
	if err := validateID(b.ID); err != nil {
		return err
	}
	b.Host = strings.TrimSpace(b.Host)
	if b.Host == "" {
		return errors.New("host is required")
	}
	if strings.HasPrefix(b.Host, "-") || strings.ContainsAny(b.Host, " \t\r\n") {
		return fmt.Errorf("invalid host %q", b.Host)
	}
	if b.Port < 0 || b.Port > 65535 {
		return fmt.Errorf("port %d out of range", b.Port)
	}
	if b.Cols < 0 || b.Rows < 0 {
		return errors.New("cols and rows must not be negative")
	}
	if strings.TrimSpace(b.Label) == "" {
		b.Label = b.Host
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id is required")
	}
	if !bookmarkIDPattern.MatchString(id) {
		return errors.New("id must be lowercase alphanumeric with hyphens")
	}
	return nil
}
