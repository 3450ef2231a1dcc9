package exam

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrSessionSubmitted = errors.New("session already submitted")
	ErrForbidden        = errors.New("session belongs to another user")
	ErrSelectionKind    = errors.New("several answers chosen for a single-choice question")
)

// Store persists exam sessions. Put inserts or replaces.
type Store interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	ListInProgress(ctx context.Context) ([]Session, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemoryStore() Store {
	return &memoryStore{sessions: map[string]Session{}}
}

func (m *memoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.clone(), nil
}

func (m *memoryStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	return m.filter(func(s Session) bool { return s.UserID == userID }), nil
}

func (m *memoryStore) ListInProgress(_ context.Context) ([]Session, error) {
	return m.filter(func(s Session) bool { return s.Status == StatusInProgress }), nil
}

func (m *memoryStore) filter(keep func(Session) bool) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// clone copies the mutable parts so callers never share maps with the store.
func (s Session) clone() Session {
	c := s
	if s.Selections != nil {
		c.Selections = make(scoring.Selections, len(s.Selections))
		for k, v := range s.Selections {
			c.Selections[k] = v
		}
	}
	if s.Result != nil {
		r := *s.Result
		r.Correct = make(map[string]bool, len(s.Result.Correct))
		for k, v := range s.Result.Correct {
			r.Correct[k] = v
		}
		c.Result = &r
	}
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		c.SubmittedAt = &t
	}
	return c
}
