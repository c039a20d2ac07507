package conversation

import (
	"context"
	"sync"
)

// Sequencer hands out per-key FIFO tickets so requests for one client run
// one at a time in the order they were submitted. Keys are independent.
type Sequencer struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	tail    chan struct{}
	pending int
}

// Ticket is a position in a key's queue. A Ticket is used by a single
// goroutine: Wait, then Release.
type Ticket struct {
	seq      *Sequencer
	key      string
	prev     <-chan struct{}
	done     chan struct{}
	acquired bool
	once     sync.Once
}

func NewSequencer() *Sequencer {
	return &Sequencer{lanes: make(map[string]*lane)}
}

// Enter takes the next position for key without blocking.
func (s *Sequencer) Enter(key string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	t := &Ticket{seq: s, key: key, prev: l.tail, done: make(chan struct{})}
	l.tail = t.done
	l.pending++
	return t
}

// Wait blocks until every earlier ticket for the same key has been released
// or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	if t.prev == nil {
		t.acquired = true
		return nil
	}
	select {
	case <-t.prev:
		t.acquired = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release hands the key over to the next ticket. A ticket that never
// acquired its turn still waits for its predecessor before handing over.
func (t *Ticket) Release() {
	t.once.Do(func() {
		if t.acquired || t.prev == nil {
			t.finish()
			return
		}
		go func() {
			<-t.prev
			t.finish()
		}()
	})
}

func (t *Ticket) finish() {
	close(t.done)
	s := t.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[t.key]; ok {
		l.pending--
		if l.pending == 0 {
			delete(s.lanes, t.key)
		}
	}
}

// Pending reports how many tickets are outstanding for key.
func (s *Sequencer) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[key]; ok {
		return l.pending
	}
	return 0
}
