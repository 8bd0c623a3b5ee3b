package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	mu  sync.Mutex
	ctx *Context
}

// Store keeps the live context of every open session. Calls for one session
// are serialized; different sessions proceed independently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) entry(id string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.sessions[id]; ok {
		return e
	}
	e = &entry{ctx: New(id)}
	s.sessions[id] = e
	return e
}

// With runs fn against a copy of the session's context while holding the
// session lock, creating the session on first use. A nil error commits the
// returned context; the committed value is returned as a snapshot.
func (s *Store) With(id string, fn func(cur *Context) (*Context, error)) (*Context, error) {
	return s.apply(s.entry(id, true), id, fn)
}

// Update is With for sessions that must already exist. It returns
// ErrSessionNotFound instead of creating one.
func (s *Store) Update(id string, fn func(cur *Context) (*Context, error)) (*Context, error) {
	e := s.entry(id, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	return s.apply(e, id, fn)
}

func (s *Store) apply(e *entry, id string, fn func(cur *Context) (*Context, error)) (*Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.ctx.Clone())
	if err != nil {
		return e.ctx.Clone(), err
	}
	if next == nil {
		return e.ctx.Clone(), nil
	}
	next.SessionID = id
	next.UpdatedAt = s.now()
	e.ctx = next
	return next.Clone(), nil
}

// Snapshot returns a deep copy of the session's current context.
func (s *Store) Snapshot(id string) (*Context, error) {
	e := s.entry(id, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.Clone(), nil
}

// Put installs ctx as the live context, replacing any existing one.
func (s *Store) Put(ctx *Context) {
	e := s.entry(ctx.SessionID, true)
	e.mu.Lock()
	e.ctx = ctx.Clone()
	e.mu.Unlock()
}

func (s *Store) Has(id string) bool {
	return s.entry(id, false) != nil
}

// End drops the session. It reports whether the session existed.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
