//go:build !opus
// +build !opus

package audio

import "fmt"

// decodeOpus is unavailable in builds without libopus; the real decoder is in
// opus.go which is built with the `opus` build tag.
func decodeOpus(data []byte) (PCM, error) {
	return PCM{}, fmt.Errorf("%w: opus support not compiled in (build with -tags opus)", ErrUnsupportedFormat)
}
