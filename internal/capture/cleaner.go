package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audio-dialogue-lab/internal/logging"
)

type pair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

func (r *Recorder) pairs() ([]pair, error) {
	files, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, err
	}
	var out []pair
	for _, fi := range files {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(r.Dir, name)
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if sc, err := ReadSidecar(jsonPath); err == nil && sc.WAVPath != "" {
			wavPath = sc.WAVPath
		}
		info, err := fi.Info()
		if err != nil {
			continue
		}
		out = append(out, pair{jsonPath: jsonPath, wavPath: wavPath, mod: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mod.Before(out[j].mod) })
	return out, nil
}

// Prune removes captures older than retention and then the oldest captures
// beyond maxFiles. Zero disables either limit. It returns how many captures
// were removed.
func (r *Recorder) Prune(now time.Time, retention time.Duration, maxFiles int) (int, error) {
	if r == nil {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.pairs()
	if err != nil {
		return 0, err
	}
	removed := 0
	remove := func(p pair) {
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
		removed++
	}
	kept := list[:0]
	cutoff := now.Add(-retention)
	for _, p := range list {
		if retention > 0 && p.mod.Before(cutoff) {
			remove(p)
			continue
		}
		kept = append(kept, p)
	}
	if maxFiles > 0 && len(kept) > maxFiles {
		for _, p := range kept[:len(kept)-maxFiles] {
			remove(p)
		}
	}
	return removed, nil
}

// StartCleaner starts a background goroutine that prunes captures every
// interval. Caller must call wg.Add(1) before calling this function; the
// goroutine will call wg.Done() on exit.
func (r *Recorder) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration, maxFiles int) {
	go func() {
		defer wg.Done()
		if r == nil || interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.Prune(time.Now(), retention, maxFiles)
				if err != nil {
					logging.Debugw("capture: cleanup failed", "dir", r.Dir, "err", err)
					continue
				}
				if n > 0 {
					logging.Infow("capture: pruned clips", "dir", r.Dir, "removed", n)
				}
			}
		}
	}()
}
