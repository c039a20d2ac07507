// Package audio turns uploaded clips into mono float samples at the rate
// the model expects: decode, downmix, scale, resample.
package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is the container/codec of an uploaded clip.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOpus    Format = "opus"
)

// Buffer is a normalized clip: mono samples in [-1, 1] at SampleRate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// FormatFromFilename maps a file extension to a Format.
func FormatFromFilename(name string) Format {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ParseFormat accepts an extension ("wav"), a name ("mp3") or a MIME type
// ("audio/x-wav"). Unknown values map to FormatUnknown.
func ParseFormat(hint string) Format {
	h := strings.ToLower(strings.TrimSpace(hint))
	if i := strings.IndexByte(h, ';'); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	switch h {
	case "wav", "wave", "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return FormatWAV
	case "mp3", "mpeg", "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return FormatMP3
	case "opus", "ogg", "oga", "audio/ogg", "audio/opus":
		return FormatOpus
	}
	return FormatUnknown
}

// Sniff guesses the format from magic bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOpus
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// Resolve picks the first known format among an explicit hint, the
// filename, a MIME type and the content itself.
func Resolve(hint, filename, contentType string, data []byte) Format {
	if f := ParseFormat(hint); f != FormatUnknown {
		return f
	}
	if f := FormatFromFilename(filename); f != FormatUnknown {
		return f
	}
	if f := ParseFormat(contentType); f != FormatUnknown {
		return f
	}
	return Sniff(data)
}
