package conversation

import (
	"context"
	"sync"
	"time"
)

// SessionStore persists booking sessions. Lock serializes processing for one key
// and must be held across Get, handling and Put/Delete.
type SessionStore interface {
	Get(ctx context.Context, key SessionKey) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, key SessionKey) error
	Lock(ctx context.Context, key SessionKey) (unlock func(), err error)
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[SessionKey]*Session

	lockMu sync.Mutex
	locks  map[SessionKey]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[SessionKey]*Session),
		locks:    make(map[SessionKey]*keyLock),
	}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) Get(_ context.Context, key SessionKey) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

func (s *MemorySessionStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key()] = sess.Clone()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, key SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Lock blocks until the key is free or ctx is done.
func (s *MemorySessionStore) Lock(ctx context.Context, key SessionKey) (func(), error) {
	s.lockMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.lockMu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.releaseRef(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.releaseRef(key, l)
		})
	}, nil
}

func (s *MemorySessionStore) releaseRef(key SessionKey, l *keyLock) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// Len reports how many sessions are stored.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PurgeIdle drops sessions whose last interaction is older than retention and
// returns how many were removed. Expired sessions are otherwise only replaced lazily.
func (s *MemorySessionStore) PurgeIdle(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, sess := range s.sessions {
		if now.Sub(sess.LastInteraction) > retention {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}
