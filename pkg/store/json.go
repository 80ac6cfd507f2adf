package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JSONStore keeps locations and the contact in two JSON files. The
// locations file is a plain array so it can be edited by hand.
type JSONStore struct {
	locationsPath string
	contactPath   string

	mu        sync.RWMutex
	locations []Location
	contact   string
}

type contactRecord struct {
	Number    string `json:"number"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// NewJSONStore opens (or prepares) the two files. Missing files are
// created on first write.
func NewJSONStore(locationsPath, contactPath string) (*JSONStore, error) {
	s := &JSONStore{locationsPath: locationsPath, contactPath: contactPath}

	for _, p := range []string{locationsPath, contactPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.locationsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read locations: %w", err)
	case len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &s.locations); err != nil {
			return fmt.Errorf("failed to parse locations: %w", err)
		}
	}

	data, err = os.ReadFile(s.contactPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read contact: %w", err)
	default:
		var rec contactRecord
		if json.Unmarshal(data, &rec) == nil {
			s.contact = rec.Number
		} else {
			// Older devices wrote the bare number.
			s.contact = strings.TrimSpace(string(data))
		}
	}
	return nil
}

// writeAtomic writes to a temp file and renames it into place.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Locations implements LocationStore.
func (s *JSONStore) Locations(ctx context.Context) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Location, len(s.locations))
	copy(out, s.locations)
	return out, nil
}

// AddLocation implements LocationStore.
func (s *JSONStore) AddLocation(ctx context.Context, loc Location) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.Name == "" {
		loc.Name = DefaultName(len(s.locations) + 1)
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now()
	}

	next := append(s.locations[:len(s.locations):len(s.locations)], loc)
	if err := writeAtomic(s.locationsPath, next); err != nil {
		return Location{}, err
	}
	s.locations = next
	return loc, nil
}

// FindLocation implements LocationStore.
func (s *JSONStore) FindLocation(ctx context.Context, name string) (Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.locations {
		if strings.EqualFold(l.Name, strings.TrimSpace(name)) {
			return l, nil
		}
	}
	return Location{}, fmt.Errorf("%w: location %q", ErrNotFound, name)
}

// Contact implements ContactStore.
func (s *JSONStore) Contact(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contact == "" {
		return "", ErrNoContact
	}
	return s.contact, nil
}

// SetContact implements ContactStore.
func (s *JSONStore) SetContact(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrNoContact
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := contactRecord{Number: number, UpdatedAt: time.Now().Format(time.RFC3339)}
	if err := writeAtomic(s.contactPath, rec); err != nil {
		return err
	}
	s.contact = number
	return nil
}

// Close is a no-op; every write is already on disk.
func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)
