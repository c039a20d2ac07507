package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seed = Turn{Role: RoleSystem, Content: "be nice"}

func TestGetCreatesEmptyHistory(t *testing.T) {
	s := NewMemoryStore()
	assert.Empty(t, s.Get("a"))
	assert.Equal(t, 1, s.Conversations())
	assert.Equal(t, 0, s.Len("missing"))
	assert.Equal(t, 1, s.Conversations(), "Len must not create entries")
}

func TestEnsureSeededOnlyOnce(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.EnsureSeeded("a", seed))
	assert.False(t, s.EnsureSeeded("a", seed))
	s.Append("a", Turn{Role: RoleUser, Content: "hi"})
	assert.False(t, s.EnsureSeeded("a", seed))
	assert.Equal(t, []Turn{seed, {Role: RoleUser, Content: "hi"}}, s.Get("a"))
}

func TestEnsureSeededConcurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.EnsureSeeded("a", seed) {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, s.Len("a"))
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := NewMemoryStore()
	s.EnsureSeeded("a", seed)
	got := s.Get("a")
	got[0].Content = "mutated"
	got = append(got, Turn{Role: RoleUser, Content: "x"})
	assert.Equal(t, []Turn{seed}, s.Get("a"))
}

func TestAppendPairsNeverInterleave(t *testing.T) {
	s := NewMemoryStore()
	s.EnsureSeeded("a", seed)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append("a",
				Turn{Role: RoleUser, Content: fmt.Sprintf("q%d", i)},
				Turn{Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)})
		}(i)
	}
	wg.Wait()
	turns := s.Get("a")
	require.Len(t, turns, 1+2*n)
	for i := 1; i < len(turns); i += 2 {
		require.Equal(t, RoleUser, turns[i].Role)
		require.Equal(t, RoleAssistant, turns[i+1].Role)
		assert.Equal(t, "a"+turns[i].Content[1:], turns[i+1].Content)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			s.EnsureSeeded(key, seed)
			for i := 0; i < 20; i++ {
				s.Append(key, Turn{Role: RoleUser, Content: key})
			}
		}(key)
	}
	wg.Wait()
	for _, key := range []string{"a", "b"} {
		turns := s.Get(key)
		require.Len(t, turns, 21)
		for _, tr := range turns[1:] {
			assert.Equal(t, key, tr.Content)
		}
	}
}

func TestSweepEvictsIdleConversations(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	var evicted []string
	s := NewMemoryStore(WithTTL(time.Minute), withClock(clock), WithOnEvict(func(key string, turns int) {
		evicted = append(evicted, fmt.Sprintf("%s:%d", key, turns))
	}))
	s.EnsureSeeded("old", seed)
	now = now.Add(45 * time.Second)
	s.EnsureSeeded("fresh", seed)

	assert.Equal(t, 0, s.Sweep(now))
	assert.Equal(t, 1, s.Sweep(now.Add(30*time.Second)))
	assert.Equal(t, []string{"old:1"}, evicted)
	assert.Equal(t, 0, s.Len("old"))
	assert.Equal(t, 1, s.Len("fresh"))
}

func TestSweepSparesConversationTouchedAfterListing(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	evictions := 0
	s := NewMemoryStore(WithTTL(time.Minute), withClock(clock), WithOnEvict(func(string, int) { evictions++ }))
	s.EnsureSeeded("k", seed)

	// Sweep has listed "k" as idle using this cutoff...
	now = now.Add(2 * time.Minute)
	cutoff := now.Add(-time.Minute)

	// ...and a request reaches the conversation before the eviction runs.
	assert.False(t, s.EnsureSeeded("k", seed))
	history := s.Get("k")
	require.Len(t, history, 1)

	assert.False(t, s.evictIfIdle("k", cutoff))
	assert.Zero(t, evictions)

	s.Append("k", Turn{Role: RoleUser, Content: "hi"}, Turn{Role: RoleAssistant, Content: "hello"})
	got := s.Get("k")
	require.Len(t, got, 3)
	assert.Equal(t, RoleSystem, got[0].Role)

	// once it goes quiet again the same cutoff logic applies
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep(now))
	assert.Equal(t, 1, evictions)
	assert.Equal(t, 0, s.Len("k"))
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	s := NewMemoryStore()
	s.EnsureSeeded("a", seed)
	assert.Equal(t, 0, s.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, s.Len("a"))
}

func TestJanitorStopsOnCancel(t *testing.T) {
	s := NewMemoryStore(WithTTL(time.Millisecond))
	s.EnsureSeeded("a", seed)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	s.StartJanitor(ctx, &wg, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Conversations() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}
