package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Sessions are stored as
// copies so a caller mutating its value does not race other readers.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*roomLock
}

// roomLock is a one-slot semaphore. refs counts the holder and the waiters;
// the entry is dropped when it reaches zero.
type roomLock struct {
	sem  chan struct{}
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
		locks:    map[string]*roomLock{},
	}
}

func (m *MemoryStore) Load(_ context.Context, roomID string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return nil, false, nil
	}
	return clone(s), true, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	m.sessions[s.RoomID] = clone(s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	delete(m.sessions, roomID)
	m.mu.Unlock()
	return nil
}

// Lock serializes turns per room.
func (m *MemoryStore) Lock(ctx context.Context, roomID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[roomID]
	if !ok {
		l = &roomLock{sem: make(chan struct{}, 1)}
		m.locks[roomID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(roomID, l)
		return nil, ErrLocked
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.release(roomID, l)
		})
	}, nil
}

func (m *MemoryStore) release(roomID string, l *roomLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(m.locks, roomID)
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Messages = append(c.Messages[:0:0], s.Messages...)
	return &c
}
