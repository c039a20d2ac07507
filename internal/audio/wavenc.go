package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// buildWAV creates a simple RIFF/WAVE header for integer PCM and returns the
// concatenated bytes (header + data). sampleRate in Hz, channels and
// bitsPerSample are used to populate the header.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.Grow(int(riffSize) + 8)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// EncodeWAV16 renders a normalized buffer as a mono 16-bit PCM WAV file.
func EncodeWAV16(b Buffer) []byte {
	pcm := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		v := math.Round(float64(clamp(float64(s))) * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return buildWAV(pcm, b.SampleRate, 1, 16)
}
