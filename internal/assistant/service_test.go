package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/capture"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/metrics"
)

const rate = 16000

func clip(samples int) []byte {
	buf := audio.Buffer{SampleRate: rate, Samples: make([]float32, samples)}
	for i := range buf.Samples {
		buf.Samples[i] = 0.1
	}
	return audio.EncodeWAV16(buf)
}

func newService(t *testing.T, engine inference.Engine, opts ...func(*Options)) (*Service, *conversation.MemoryStore) {
	t.Helper()
	store := conversation.NewMemoryStore()
	o := Options{
		Store:        store,
		Pipeline:     audio.NewPipeline(rate),
		Adapter:      &inference.Adapter{Engine: engine, TargetRate: rate, Timeout: 2 * time.Second},
		SystemPrompt: "be kind",
		MaxTokens:    300,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o), store
}

func reply(text string) inference.Engine {
	return inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		return inference.Result{Text: text}, nil
	})
}

func input(key string, samples int) Input {
	return Input{ClientKey: key, RequestID: fmt.Sprintf("%s-%d", key, samples), Filename: "clip.wav", Data: clip(samples)}
}

func TestFirstSuccessYieldsThreeTurns(t *testing.T) {
	var seen inference.Request
	svc, store := newService(t, inference.EngineFunc(func(_ context.Context, req inference.Request) (inference.Result, error) {
		seen = req
		return inference.Result{Text: "hello human"}, nil
	}))

	turn, err := svc.ProcessAudio(context.Background(), input("a", 1600))
	require.NoError(t, err)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleAssistant, Content: "hello human"}, turn)

	assert.Equal(t, []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "be kind"},
		{Role: conversation.RoleUser, Content: AudioPlaceholder},
		{Role: conversation.RoleAssistant, Content: "hello human"},
	}, store.Get("a"))

	require.Len(t, seen.Turns, 1)
	assert.Equal(t, conversation.RoleSystem, seen.Turns[0].Role)
	assert.Equal(t, rate, seen.SampleRate)
	assert.Len(t, seen.Audio, 1600)
	assert.Equal(t, 300, seen.MaxTokens)
}

func TestTranscriptBecomesUserTurn(t *testing.T) {
	svc, _ := newService(t, inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		return inference.Result{Text: "it is noon", Transcript: "what time is it"}, nil
	}))
	_, err := svc.ProcessAudio(context.Background(), input("a", 800))
	require.NoError(t, err)
	h := svc.History("a")
	require.Len(t, h, 3)
	assert.Equal(t, "what time is it", h[1].Content)
}

func TestInferenceFailureKeepsOnlySeed(t *testing.T) {
	svc, store := newService(t, inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		return inference.Result{}, errors.New("gpu on fire")
	}))
	_, err := svc.ProcessAudio(context.Background(), input("a", 1600))
	var ierr *inference.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, metrics.OutcomeInferenceError, Outcome(err))
	assert.Equal(t, []conversation.Turn{{Role: conversation.RoleSystem, Content: "be kind"}}, store.Get("a"))
}

func TestDecodeFailureNeverTouchesStore(t *testing.T) {
	called := false
	svc, store := newService(t, inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		called = true
		return inference.Result{Text: "x"}, nil
	}))
	_, err := svc.ProcessAudio(context.Background(), Input{ClientKey: "a", Filename: "clip.wav", Data: []byte("not audio at all")})
	var aerr *audio.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, audio.StageDecode, aerr.Stage)
	assert.Equal(t, metrics.OutcomeDecodeError, Outcome(err))
	assert.False(t, called)
	assert.Zero(t, store.Len("a"))
	assert.Zero(t, store.Conversations())

	// a later failure on an active conversation leaves it untouched too
	svc2, store2 := newService(t, reply("ok"))
	_, err = svc2.ProcessAudio(context.Background(), input("a", 800))
	require.NoError(t, err)
	_, err = svc2.ProcessAudio(context.Background(), Input{ClientKey: "a", Format: "mp3", Data: []byte{1, 2, 3}})
	require.Error(t, err)
	assert.Equal(t, 3, store2.Len("a"))
}

func TestKeysAreIsolated(t *testing.T) {
	svc, store := newService(t, reply("hi"))
	_, err := svc.ProcessAudio(context.Background(), input("a", 800))
	require.NoError(t, err)
	_, err = svc.ProcessAudio(context.Background(), input("a", 800))
	require.NoError(t, err)
	_, err = svc.ProcessAudio(context.Background(), input("b", 800))
	require.NoError(t, err)
	assert.Equal(t, 5, store.Len("a"))
	assert.Equal(t, 3, store.Len("b"))
	assert.Empty(t, svc.History("c"))
}

func TestConcurrentSameKeyRequestsAppendCoherentPairs(t *testing.T) {
	// each reply names the history length the engine saw
	svc, store := newService(t, inference.EngineFunc(func(_ context.Context, req inference.Request) (inference.Result, error) {
		time.Sleep(time.Millisecond)
		return inference.Result{Text: strconv.Itoa(len(req.Turns)), Transcript: "u" + strconv.Itoa(len(req.Turns))}, nil
	}))

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessAudio(context.Background(), input("shared", 400))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h := store.Get("shared")
	require.Len(t, h, 1+2*n)
	assert.Equal(t, conversation.RoleSystem, h[0].Role)
	for k := 0; k < n; k++ {
		user, asst := h[1+2*k], h[2+2*k]
		assert.Equal(t, conversation.RoleUser, user.Role)
		assert.Equal(t, conversation.RoleAssistant, asst.Role)
		// request k saw the seed plus k earlier pairs
		assert.Equal(t, strconv.Itoa(1+2*k), asst.Content)
		assert.Equal(t, "u"+asst.Content, user.Content)
	}
}

func TestSameKeyRequestsCommitInSubmissionOrder(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan int, 2)
	svc, store := newService(t, inference.EngineFunc(func(_ context.Context, req inference.Request) (inference.Result, error) {
		entered <- len(req.Audio)
		if len(req.Audio) == 1600 {
			<-gate
		}
		return inference.Result{Text: "r", Transcript: strconv.Itoa(len(req.Audio))}, nil
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.ProcessAudio(context.Background(), input("k", 1600))
		assert.NoError(t, err)
	}()
	require.Equal(t, 1600, <-entered)

	go func() {
		defer wg.Done()
		_, err := svc.ProcessAudio(context.Background(), input("k", 800))
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return svc.seq.Pending("k") == 2 }, time.Second, time.Millisecond)

	select {
	case got := <-entered:
		t.Fatalf("second request reached the engine early (%d samples)", got)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	wg.Wait()

	h := store.Get("k")
	require.Len(t, h, 5)
	assert.Equal(t, "1600", h[1].Content)
	assert.Equal(t, "800", h[3].Content)
}

func TestResetWaitsForTurnInFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 2)
	svc, store := newService(t, inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		started <- struct{}{}
		<-gate
		return inference.Result{Text: "late"}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := svc.ProcessAudio(context.Background(), input("r", 800))
		done <- err
	}()
	<-started

	reset := make(chan bool, 1)
	go func() {
		ok, err := svc.Reset(context.Background(), "r")
		assert.NoError(t, err)
		reset <- ok
	}()
	require.Eventually(t, func() bool { return svc.seq.Pending("r") == 2 }, time.Second, time.Millisecond)
	select {
	case <-reset:
		t.Fatal("reset ran while a turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-done)
	assert.True(t, <-reset)
	assert.Equal(t, 0, store.Len("r"))

	// the next turn starts a fresh, seeded conversation
	turn, err := svc.ProcessAudio(context.Background(), input("r", 400))
	require.NoError(t, err)
	assert.Equal(t, "late", turn.Content)
	h := store.Get("r")
	require.Len(t, h, 3)
	assert.Equal(t, conversation.RoleSystem, h[0].Role)
}

func TestResetUnknownClient(t *testing.T) {
	svc, _ := newService(t, reply("x"))
	ok, err := svc.Reset(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnectedCallerStillCommits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svc, store := newService(t, inference.EngineFunc(func(ctx context.Context, _ inference.Request) (inference.Result, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return inference.Result{}, ctx.Err()
		}
		return inference.Result{Text: "worth the wait"}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.ProcessAudio(ctx, input("gone", 800))
		done <- err
	}()
	<-started
	cancel()
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 3, store.Len("gone"))
}

func TestCancelledBeforeProcessing(t *testing.T) {
	svc, store := newService(t, reply("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ProcessAudio(ctx, input("a", 800))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, metrics.OutcomeCancelled, Outcome(err))
	assert.Zero(t, store.Len("a"))
}

func TestTimeoutOutcome(t *testing.T) {
	svc, _ := newService(t, inference.EngineFunc(func(ctx context.Context, _ inference.Request) (inference.Result, error) {
		<-ctx.Done()
		return inference.Result{}, ctx.Err()
	}), func(o *Options) { o.Adapter.Timeout = 20 * time.Millisecond })
	_, err := svc.ProcessAudio(context.Background(), input("a", 800))
	assert.Equal(t, metrics.OutcomeTimeout, Outcome(err))
}

func TestCaptureAndMetrics(t *testing.T) {
	rec := capture.NewRecorder(t.TempDir())
	m := metrics.New()
	svc, _ := newService(t, inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
		return inference.Result{Text: "saved", Transcript: "save me"}, nil
	}), func(o *Options) {
		o.Recorder = rec
		o.Metrics = m
	})

	in := input("a", 800)
	_, err := svc.ProcessAudio(context.Background(), in)
	require.NoError(t, err)

	sc, err := capture.ReadSidecar(rec.Find(in.RequestID))
	require.NoError(t, err)
	assert.Equal(t, capture.StatusOK, sc.Status)
	assert.Equal(t, "saved", sc.Reply)
	assert.Equal(t, "save me", sc.Transcript)
	assert.Equal(t, "a", sc.ClientKey)

	n, err := testutil.GatherAndCount(m.Registry(), "audio_dialogue_requests_total", "audio_dialogue_turns_appended_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
