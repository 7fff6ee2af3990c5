package session

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/metrics"
)

const shardCount = 32

type entry struct {
	sess    domain.Session
	touched time.Time
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// MemoryStore is an in-process Store sharded by key hash.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (domain.Session, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[key]
	if !ok {
		return domain.NewSession(key), false, nil
	}
	e.touched = s.now()
	return e.sess.Clone(), true, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, patch domain.SessionPatch) (domain.Session, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := s.getOrCreate(sh, key)
	s.write(e, domain.ApplyTransition(e.sess, patch))
	return e.sess.Clone(), nil
}

// CompareAndSet implements Store.
func (s *MemoryStore) CompareAndSet(_ context.Context, key string, version uint64, patch domain.SessionPatch) (domain.Session, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[key]
	var current uint64
	if ok {
		current = e.sess.Version
	}
	if current != version {
		if !ok {
			return domain.NewSession(key), false, nil
		}
		return e.sess.Clone(), false, nil
	}
	if !ok {
		e = s.getOrCreate(sh, key)
	}
	s.write(e, domain.ApplyTransition(e.sess, patch))
	return e.sess.Clone(), true, nil
}

// Clear implements Store. The version keeps counting so stale CompareAndSet calls fail.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[key]
	if !ok {
		return nil
	}
	fresh := domain.NewSession(key)
	fresh.Version = e.sess.Version
	s.write(e, fresh)
	return nil
}

// ArmExpectedAnswer implements Store.
func (s *MemoryStore) ArmExpectedAnswer(_ context.Context, key, value string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := s.getOrCreate(sh, key)
	next := e.sess
	next.ExpectedAnswer = value
	s.write(e, next)
	return nil
}

// ConsumeExpectedAnswer implements Store.
func (s *MemoryStore) ConsumeExpectedAnswer(_ context.Context, key string) (string, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[key]
	if !ok || e.sess.ExpectedAnswer == "" {
		return "", false, nil
	}
	v := e.sess.ExpectedAnswer
	next := e.sess
	next.ExpectedAnswer = ""
	s.write(e, next)
	return v, true, nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context, idle time.Duration) ([]string, error) {
	cutoff := s.now().Add(-idle)
	var evicted []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.sessions {
			if e.touched.Before(cutoff) {
				delete(sh.sessions, key)
				evicted = append(evicted, key)
			}
		}
		sh.mu.Unlock()
	}
	if len(evicted) > 0 {
		metrics.SessionsActive.Sub(float64(len(evicted)))
	}
	return evicted, nil
}

// Len returns the number of held sessions.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// getOrCreate must be called with sh.mu held.
func (s *MemoryStore) getOrCreate(sh *shard, key string) *entry {
	e, ok := sh.sessions[key]
	if !ok {
		e = &entry{sess: domain.NewSession(key)}
		sh.sessions[key] = e
		metrics.SessionsActive.Inc()
	}
	return e
}

// write must be called with the shard lock held.
func (s *MemoryStore) write(e *entry, next domain.Session) {
	now := s.now()
	next.Version = e.sess.Version + 1
	next.UpdatedAt = now
	e.sess = next
	e.touched = now
}

var _ Store = (*MemoryStore)(nil)
