// Package capture stores processed clips on disk as a 16-bit WAV plus a JSON
// sidecar describing the request, and prunes old captures.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/logging"
)

// Capture statuses recorded in the sidecar.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Clip describes one normalized upload.
type Clip struct {
	RequestID string
	ClientKey string
	Format    string
	Filename  string
	Buffer    audio.Buffer
}

// Sidecar is the JSON written next to each WAV.
type Sidecar struct {
	RequestID  string    `json:"request_id"`
	ClientKey  string    `json:"client_key"`
	Format     string    `json:"format"`
	Filename   string    `json:"filename,omitempty"`
	SampleRate int       `json:"sample_rate"`
	Samples    int       `json:"samples"`
	DurationMS int64     `json:"duration_ms"`
	WAVPath    string    `json:"wav_path"`
	Status     string    `json:"status"`
	Transcript string    `json:"transcript,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Recorder writes captures into Dir. A nil Recorder is a no-op.
type Recorder struct {
	Dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewRecorder returns nil when dir is empty.
func NewRecorder(dir string) *Recorder {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Recorder{Dir: dir, now: time.Now}
}

func (r *Recorder) base(c Clip) string {
	ts := r.now().UTC().Format("20060102T150405.000Z")
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%s", ts, c.RequestID))
}

// Save writes the clip and a pending sidecar and returns the sidecar path.
func (r *Recorder) Save(c Clip) (string, error) {
	if r == nil {
		return "", nil
	}
	if c.RequestID == "" {
		return "", fmt.Errorf("capture: request id is required")
	}
	base := r.base(c)
	wavPath := base + ".wav"
	if err := SaveFileAtomic(wavPath, audio.EncodeWAV16(c.Buffer), 0o644); err != nil {
		return "", fmt.Errorf("capture: write wav %s: %w", wavPath, err)
	}
	sc := Sidecar{
		RequestID:  c.RequestID,
		ClientKey:  c.ClientKey,
		Format:     c.Format,
		Filename:   c.Filename,
		SampleRate: c.Buffer.SampleRate,
		Samples:    len(c.Buffer.Samples),
		DurationMS: int64(c.Buffer.Seconds() * 1000),
		WAVPath:    wavPath,
		Status:     StatusPending,
		CreatedAt:  r.now().UTC(),
	}
	b, err := sonic.ConfigStd.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("capture: marshal sidecar: %w", err)
	}
	jsonPath := base + ".json"
	if err := SaveFileAtomic(jsonPath, b, 0o644); err != nil {
		_ = os.Remove(wavPath)
		return "", fmt.Errorf("capture: write sidecar %s: %w", jsonPath, err)
	}
	logging.Debugw("capture: saved clip", "path", wavPath, "request_id", c.RequestID)
	return jsonPath, nil
}

// Find returns the sidecar path for requestID or "" when none exists.
func (r *Recorder) Find(requestID string) string {
	if r == nil || requestID == "" {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(r.Dir, "*_"+requestID+".json"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// Finish records the outcome of the request on its sidecar.
func (r *Recorder) Finish(requestID, transcript, reply string, failure error) error {
	if r == nil {
		return nil
	}
	return r.Update(requestID, func(sc *Sidecar) {
		sc.Transcript = transcript
		sc.Reply = reply
		sc.Status = StatusOK
		if failure != nil {
			sc.Status = StatusError
			sc.Error = failure.Error()
		}
	})
}

// Update reads the sidecar for requestID, applies fn and writes it back
// atomically.
func (r *Recorder) Update(requestID string, fn func(*Sidecar)) error {
	if r == nil {
		return fmt.Errorf("capture: recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Find(requestID)
	if path == "" {
		return fmt.Errorf("capture: sidecar not found for request %s in %s", requestID, r.Dir)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("capture: read sidecar %s: %w", path, err)
	}
	var sc Sidecar
	if err := sonic.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("capture: invalid sidecar JSON %s: %w", path, err)
	}
	fn(&sc)
	sc.UpdatedAt = r.now().UTC()
	nb, err := sonic.ConfigStd.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: marshal sidecar %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, nb, 0o644); err != nil {
		return fmt.Errorf("capture: write sidecar %s: %w", path, err)
	}
	return nil
}

// ReadSidecar loads one sidecar file.
func ReadSidecar(path string) (Sidecar, error) {
	var sc Sidecar
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	err = sonic.Unmarshal(b, &sc)
	return sc, err
}
