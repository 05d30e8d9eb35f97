package filestore

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Store keeps calendars, objects and scheduling messages as JSON files
// under a root directory. Mutations on one calendar are serialized by a
// per-calendar mutex.
type Store struct {
	root   string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		root:   root,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Close() {}

func (s *Store) calLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) withCalLock(id string, fn func() error) error {
	l := s.calLock(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}
