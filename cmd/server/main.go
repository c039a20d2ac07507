package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/audio-dialogue-lab/engine"
	"github.com/audio-dialogue-lab/internal/assistant"
	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/capture"
	"github.com/audio-dialogue-lab/internal/config"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/logging"
	"github.com/audio-dialogue-lab/internal/mcp"
	"github.com/audio-dialogue-lab/internal/metrics"
	"github.com/audio-dialogue-lab/internal/server"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	loggingSugar := logging.Init()
	if loggingSugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		loggingSugar = l.Sugar()
	}
	sugar := loggingSugar

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	store := conversation.NewMemoryStore(
		conversation.WithTTL(cfg.Conversation.TTL.Std()),
		conversation.WithOnEvict(func(key string, turns int) {
			logging.Infow("conversation evicted", "client.key", key, "turns", turns)
		}),
	)
	if cfg.Conversation.TTL > 0 {
		wg.Add(1)
		store.StartJanitor(ctx, &wg, cfg.Conversation.SweepInterval.Std())
	}
	m.TrackConversations(store.Conversations)

	pipeline := audio.NewPipeline(cfg.TargetSampleRate,
		audio.WithMaxDuration(cfg.MaxAudio.Std()),
		audio.WithStageObserver(func(stage audio.Stage, elapsed time.Duration, err error) {
			m.ObserveStage(string(stage), elapsed, err)
		}),
	)

	eng, err := engine.New(cfg.Engine.Kind, engine.Options{
		URL:      cfg.Engine.URL,
		APIKey:   cfg.Engine.APIKey,
		Model:    cfg.Engine.Model,
		Attempts: cfg.Engine.Attempts,
		HTTP:     &http.Client{},
	})
	if err != nil {
		sugar.Fatalf("engine: %v", err)
	}

	recorder := capture.NewRecorder(cfg.CaptureDir())
	if recorder != nil {
		wg.Add(1)
		recorder.StartCleaner(ctx, &wg, cfg.Capture.Retention.Std(), cfg.Capture.CleanInterval.Std(), cfg.Capture.MaxFiles)
		sugar.Infow("saving clips", "dir", recorder.Dir)
	}

	svc := assistant.New(assistant.Options{
		Store:     store,
		Sequencer: conversation.NewSequencer(),
		Pipeline:  pipeline,
		Adapter: &inference.Adapter{
			Engine:     eng,
			TargetRate: cfg.TargetSampleRate,
			Timeout:    cfg.Engine.Timeout.Std(),
		},
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxNewTokens,
		Recorder:     recorder,
		Metrics:      m,
	})

	var mcpSrv *mcp.Server
	opts := server.Options{Service: svc, Metrics: m, MaxUploadBytes: cfg.MaxUploadBytes}
	if cfg.MCPEnabled {
		mcpSrv = mcp.NewServer(svc, version)
		opts.MCP = mcpSrv
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		sugar.Infow("listening", "addr", cfg.ListenAddr, "engine", cfg.Engine.Kind, "target_rate", cfg.TargetSampleRate, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("http shutdown error: %v", err)
	}
	if mcpSrv != nil {
		mcpSrv.Close()
	}
	cancel()
	wg.Wait()

	sugar.Info("shutdown complete")
	_ = logging.Sync()
}
