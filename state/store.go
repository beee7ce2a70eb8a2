// Package state persists one classifier head per loader so a single shared
// backbone can emulate N classifier models.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"twostream/fileutil"
	"twostream/ml"
)

var ErrMissingState = errors.New("classifier state not found")

// MissingStateError names the slot that was read before ever being written.
type MissingStateError struct {
	ID   int
	Path string
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf("no classifier state for loader %d at %s", e.ID, e.Path)
}

func (e *MissingStateError) Unwrap() error {
	return ErrMissingState
}

// Store keeps slot params{ID}.json under dir. Saves overwrite the slot
// unconditionally. Reads go through an LRU of deep copies, so a Load after a
// Save returns exactly the saved values.
type Store struct {
	dir   string
	cache *lru.Cache[int, ml.StateDict]
}

// NewStore opens dir, creating it if needed. cacheSize <= 0 disables caching.
func NewStore(dir string, cacheSize int) (*Store, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	if cacheSize > 0 {
		cache, err := lru.New[int, ml.StateDict](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create slot cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Store) Path(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("params%d.json", id))
}

func (s *Store) Load(id int) (ml.StateDict, error) {
	if s.cache != nil {
		if sd, ok := s.cache.Get(id); ok {
			return sd.Clone(), nil
		}
	}

	var sd ml.StateDict
	if err := fileutil.ReadJSON(s.Path(id), &sd); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingStateError{ID: id, Path: s.Path(id)}
		}
		return nil, fmt.Errorf("load classifier state %d: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Add(id, sd.Clone())
	}
	return sd, nil
}

func (s *Store) Save(id int, sd ml.StateDict) error {
	if err := fileutil.WriteJSON(s.Path(id), sd); err != nil {
		if s.cache != nil {
			s.cache.Remove(id)
		}
		return fmt.Errorf("save classifier state %d: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Add(id, sd.Clone())
	}
	return nil
}
