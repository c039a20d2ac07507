package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerRunsInSubmissionOrder(t *testing.T) {
	seq := NewSequencer()
	const n = 20
	tickets := make([]*Ticket, n)
	for i := range tickets {
		tickets[i] = seq.Enter("k")
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	// Start waiters in reverse so goroutine scheduling cannot explain the order.
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, tickets[i].Wait(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tickets[i].Release()
		}(i)
	}
	wg.Wait()
	for i := range order {
		assert.Equal(t, i, order[i])
	}
	assert.Equal(t, 0, seq.Pending("k"))
}

func TestSequencerKeysDoNotBlockEachOther(t *testing.T) {
	seq := NewSequencer()
	a := seq.Enter("a")
	require.NoError(t, a.Wait(context.Background()))
	defer a.Release()

	b := seq.Enter("b")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, b.Wait(ctx))
	b.Release()
}

func TestAbandonedTicketKeepsSerialization(t *testing.T) {
	seq := NewSequencer()
	first := seq.Enter("k")
	require.NoError(t, first.Wait(context.Background()))

	second := seq.Enter("k")
	third := seq.Enter("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, second.Wait(ctx), context.Canceled)
	second.Release()

	// first still holds the key, so third must not get through
	short, stop := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, third.Wait(short), context.DeadlineExceeded)

	first.Release()
	require.NoError(t, third.Wait(context.Background()))
	third.Release()
	require.Eventually(t, func() bool { return seq.Pending("k") == 0 }, time.Second, time.Millisecond)
}

func TestReleaseIsIdempotent(t *testing.T) {
	seq := NewSequencer()
	tk := seq.Enter("k")
	require.NoError(t, tk.Wait(context.Background()))
	tk.Release()
	tk.Release()
	assert.Equal(t, 0, seq.Pending("k"))
}
