package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfowCtxMergesContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(nil) })

	ctx := WithFields(context.Background(), "request_id", "r-1")
	ctx = WithFields(ctx, ClientFields("10.0.0.1:5000")...)
	InfowCtx(ctx, "processed", "status", 200)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "10.0.0.1:5000", fields["client.key"])
	assert.EqualValues(t, 200, fields["status"])
}

func TestNoopLoggerBeforeInit(t *testing.T) {
	SetLogger(nil)
	// Must not panic when nothing has been configured.
	Warnw("nobody listening", "k", "v")
	WarnwCtx(context.TODO(), "still nobody")
	assert.NoError(t, Sync())
}

func TestAudioFieldsDuration(t *testing.T) {
	kv := AudioFields("wav", 16000, 8000)
	m := map[string]interface{}{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	assert.Equal(t, 500, m["audio.duration_ms"])
	assert.Equal(t, "wav", m["audio.format"])
}

func TestCallerPointsAtCallSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d, wrapped := split(zap.New(core, zap.AddCaller()))
	SetLogger(wrapped)
	t.Cleanup(func() { SetLogger(nil) })

	d.Infow("direct")
	Infow("helper")
	WarnwCtx(WithFields(context.Background(), "request_id", "r-2"), "helper with context")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logging_test.go", filepath.Base(e.Caller.File), e.Message)
	}
}
