// Package conversation holds per-client dialogue history for the lifetime of
// the process and serializes work on a single client's history.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/audio-dialogue-lab/internal/logging"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a dialogue.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store is the conversation state seen by request handlers. Implementations
// must serialize mutations per key while never blocking unrelated keys.
type Store interface {
	// Get returns a copy of the ordered history for key, creating an empty
	// one if absent.
	Get(key string) []Turn
	// EnsureSeeded inserts seed iff the history for key is empty and
	// reports whether it did.
	EnsureSeeded(key string, seed Turn) bool
	// Append adds turns to the end of the history as one unit.
	Append(key string, turns ...Turn)
	// Len returns the number of turns stored for key without creating it.
	Len(key string) int
	// Evict drops the whole history for key and reports whether one existed.
	Evict(key string) bool
}

type entry struct {
	mu         sync.Mutex
	turns      []Turn
	lastAccess time.Time
}

// MemoryStore is a volatile Store. The map lock only guards lookups and
// inserts; each conversation carries its own mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl     time.Duration
	onEvict func(key string, turns int)
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL evicts whole conversations that have not been touched for d.
// Zero disables eviction.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = d }
}

// WithOnEvict registers a callback invoked after a conversation is evicted.
func WithOnEvict(fn func(key string, turns int)) MemoryOption {
	return func(s *MemoryStore) { s.onEvict = fn }
}

func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]*entry), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) lookup(key string) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{lastAccess: s.now()}
	s.entries[key] = e
	return e
}

func (s *MemoryStore) Get(key string) []Turn {
	e := s.lookup(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = s.now()
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

func (s *MemoryStore) EnsureSeeded(key string, seed Turn) bool {
	e := s.lookup(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = s.now()
	if len(e.turns) > 0 {
		return false
	}
	e.turns = append(e.turns, seed)
	return true
}

func (s *MemoryStore) Append(key string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	e := s.lookup(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = s.now()
	e.turns = append(e.turns, turns...)
}

func (s *MemoryStore) Len(key string) int {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.turns)
}

// Conversations returns how many keys currently hold a history.
func (s *MemoryStore) Conversations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict drops the whole conversation for key. It reports whether one existed.
func (s *MemoryStore) Evict(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	n := len(e.turns)
	e.mu.Unlock()
	if s.onEvict != nil {
		s.onEvict(key, n)
	}
	return true
}

// Sweep evicts conversations idle for longer than the configured TTL and
// returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)
	var expired []string
	s.mu.RLock()
	for key, e := range s.entries {
		e.mu.Lock()
		idle := e.lastAccess.Before(cutoff)
		e.mu.Unlock()
		if idle {
			expired = append(expired, key)
		}
	}
	s.mu.RUnlock()
	removed := 0
	for _, key := range expired {
		if s.evictIfIdle(key, cutoff) {
			removed++
		}
	}
	return removed
}

// evictIfIdle removes key only if it is still idle past cutoff. A request
// may have touched it since Sweep listed it.
func (s *MemoryStore) evictIfIdle(key string, cutoff time.Time) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.mu.Lock()
	if !e.lastAccess.Before(cutoff) {
		e.mu.Unlock()
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key)
	n := len(e.turns)
	e.mu.Unlock()
	s.mu.Unlock()
	if s.onEvict != nil {
		s.onEvict(key, n)
	}
	return true
}

// StartJanitor starts a background goroutine that sweeps expired
// conversations every interval. Caller must call wg.Add(1) before calling
// this function; the goroutine will call wg.Done() on exit.
func (s *MemoryStore) StartJanitor(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	go func() {
		defer wg.Done()
		if s.ttl <= 0 || interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					logging.Infow("conversation janitor: evicted idle conversations", "count", n, "ttl", s.ttl.String())
				}
			}
		}
	}()
}
