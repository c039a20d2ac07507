// Package server is the HTTP surface of the assistant.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/audio-dialogue-lab/internal/assistant"
	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/identity"
	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/logging"
	"github.com/audio-dialogue-lab/internal/metrics"
)

const (
	HeaderRequestID = "X-Request-ID"
	// multipart parts beyond this are spilled to temp files
	formMemory = 8 << 20
)

type Options struct {
	Service        *assistant.Service
	Metrics        *metrics.Metrics
	MCP            http.Handler
	MaxUploadBytes int64
}

type Server struct {
	svc       *assistant.Service
	metrics   *metrics.Metrics
	mcp       http.Handler
	maxUpload int64
}

func New(o Options) *Server {
	return &Server{svc: o.Service, metrics: o.Metrics, mcp: o.MCP, maxUpload: o.MaxUploadBytes}
}

// Handler returns the routed, request-id-stamped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /process-audio", s.handleProcessAudio)
	mux.HandleFunc("POST /process-audio/", s.handleProcessAudio)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /history", s.handleReset)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.mcp != nil {
		mux.Handle("/mcp/ws", s.mcp)
	}
	return withRequestID(mux)
}

type ctxKey struct{}

// RequestID returns the id stamped on the request by the server.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = logging.WithFields(ctx, "request_id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.DebugwCtx(ctx, "http: request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the MCP endpoint upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]conversation.Turn{"turns": s.svc.History(identity.Resolve(r))})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	key := identity.Resolve(r)
	existed, err := s.svc.Reset(r.Context(), key)
	if err != nil {
		logging.InfowCtx(r.Context(), "http: caller left before reset", "client.key", key, "err", err)
		return
	}
	logging.InfowCtx(r.Context(), "http: conversation reset", "client.key", key, "existed", existed)
	writeJSON(w, http.StatusOK, map[string]bool{"reset": existed})
}

func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := identity.Resolve(r)
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		s.rejectUpload(ctx, w, err, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.rejectUpload(ctx, w, err, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.rejectUpload(ctx, w, err, "unreadable upload")
		return
	}
	if len(data) == 0 {
		s.rejectUpload(ctx, w, nil, "empty upload")
		return
	}

	turn, err := s.svc.ProcessAudio(ctx, assistant.Input{
		ClientKey:   key,
		RequestID:   RequestID(ctx),
		Filename:    hdr.Filename,
		Format:      r.FormValue("format"),
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		if ctx.Err() != nil {
			logging.InfowCtx(ctx, "http: caller went away", "err", err)
			return
		}
		writeError(w, StatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]conversation.Turn{"response": turn})
}

func (s *Server) rejectUpload(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := http.StatusBadRequest
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		status = http.StatusRequestEntityTooLarge
		msg = "upload exceeds limit"
	}
	s.metrics.Request(metrics.OutcomeBadRequest)
	logging.WarnwCtx(ctx, "http: upload rejected", "status", status, "err", err)
	writeError(w, status, msg)
}

// StatusFor maps a ProcessAudio error onto an HTTP status.
func StatusFor(err error) int {
	var aerr *audio.Error
	var ierr *inference.Error
	switch {
	case errors.As(err, &ierr):
		if ierr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &aerr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
