package credstore

import "sync"

// MemStore is an in-memory Store. Sessions do not survive a restart; useful
// for tests and for callers that explicitly opt out of persistence.
type MemStore struct {
	mu    sync.Mutex
	creds *Credentials
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := creds
	cp.User = append([]byte(nil), creds.User...)
	s.creds = &cp
	return nil
}

func (s *MemStore) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return Credentials{}, ErrNotFound
	}

	cp := *s.creds
	cp.User = append([]byte(nil), s.creds.User...)
	return cp, nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	return nil
}
