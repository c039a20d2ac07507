package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audio-dialogue-lab/internal/assistant"
	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/mcp"
)

func startServer(t *testing.T) string {
	t.Helper()
	svc := assistant.New(assistant.Options{
		Store:    conversation.NewMemoryStore(),
		Pipeline: audio.NewPipeline(16000),
		Adapter: &inference.Adapter{TargetRate: 16000, Timeout: time.Second,
			Engine: inference.EngineFunc(func(context.Context, inference.Request) (inference.Result, error) {
				return inference.Result{Text: "loud and clear", Transcript: "can you hear me"}, nil
			})},
		SystemPrompt: "sys",
		MaxTokens:    10,
	})
	srv := mcp.NewServer(svc, "test")
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.wav")
	wav := audio.EncodeWAV16(audio.Buffer{SampleRate: 16000, Samples: make([]float32, 1600)})
	require.NoError(t, os.WriteFile(path, wav, 0o644))
	return path
}

func TestSendHistoryReset(t *testing.T) {
	url := startServer(t)
	clip := writeClip(t)
	common := []string{"--url", url, "--client-id", "frank", "--timeout", "5s"}

	out, err := run(t, append(common, "send", clip)...)
	require.NoError(t, err)
	assert.Equal(t, "loud and clear\n", out)

	out, err = run(t, append(common, "history")...)
	require.NoError(t, err)
	assert.Equal(t, "system: sys\nuser: can you hear me\nassistant: loud and clear\n", out)

	out, err = run(t, append(common, "history", "--json")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"role":"assistant"`)

	out, err = run(t, append(common, "reset")...)
	require.NoError(t, err)
	assert.Equal(t, "conversation cleared\n", out)

	out, err = run(t, append(common, "reset")...)
	require.NoError(t, err)
	assert.Equal(t, "no conversation to clear\n", out)
}

func TestSendErrors(t *testing.T) {
	url := startServer(t)

	_, err := run(t, "--url", url, "send", filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorContains(t, err, "failed to read file")

	bad := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(bad, []byte("not audio at all"), 0o644))
	_, err = run(t, "--url", url, "--timeout", "5s", "send", bad)
	assert.ErrorContains(t, err, "decode")

	_, err = run(t, "--url", "ws://127.0.0.1:1/mcp/ws", "--timeout", "2s", "history")
	assert.ErrorContains(t, err, "connect")

	_, err = run(t, "send")
	assert.Error(t, err)
}
