package library

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/MrWong99/resound/pkg/audio"
)

// Supported asset formats.
const (
	FormatRaw  = "raw"
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatOGG  = "ogg"
	FormatAIFF = "aiff"
)

// Decoder turns an encoded asset into interleaved float32 samples in
// [-1, 1]. hint carries the layout declared for the asset; decoders for
// self-describing containers ignore it.
type Decoder func(data []byte, hint audio.Format) ([]float32, audio.Format, error)

var defaultDecoders = map[string]Decoder{
	FormatRaw:  decodeRaw,
	FormatWAV:  decodeWAV,
	FormatMP3:  decodeMP3,
	FormatOGG:  decodeOGG,
	FormatAIFF: decodeAIFF,
}

// formatOf returns the asset format, falling back to the path extension.
func formatOf(a Asset) string {
	if a.Format != "" {
		return strings.ToLower(a.Format)
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(a.Path), "."))
	switch ext {
	case "pcm", "f32", "":
		return FormatRaw
	case "oga":
		return FormatOGG
	case "aif", "aifc":
		return FormatAIFF
	default:
		return ext
	}
}

// decodeRaw reads headerless float32 little-endian PCM.
func decodeRaw(data []byte, hint audio.Format) ([]float32, audio.Format, error) {
	if len(data)%4 != 0 {
		return nil, audio.Format{}, fmt.Errorf("%w: %d bytes is not a whole number of float32 samples", ErrCorrupt, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, hint, nil
}

// decodeWAV reads integer PCM WAVE files of 8, 16, 24 or 32 bits.
func decodeWAV(data []byte, _ audio.Format) ([]float32, audio.Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, audio.Format{}, fmt.Errorf("%w: not a PCM WAVE file", ErrCorrupt)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	bits := int(dec.BitDepth)
	if bits <= 0 {
		bits = buf.SourceBitDepth
	}
	// 8-bit WAVE samples are unsigned.
	out := intToFloat(buf, bits, bits == 8)
	f := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return out, f, nil
}

// decodeAIFF reads integer PCM AIFF and AIFF-C files.
func decodeAIFF(data []byte, _ audio.Format) ([]float32, audio.Format, error) {
	dec := aiff.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, audio.Format{}, fmt.Errorf("%w: not an AIFF file", ErrCorrupt)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if buf.Format == nil {
		return nil, audio.Format{}, fmt.Errorf("%w: missing COMM chunk", ErrCorrupt)
	}
	bits := int(dec.BitDepth)
	if bits <= 0 {
		bits = buf.SourceBitDepth
	}
	out := intToFloat(buf, bits, false)
	return out, audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}, nil
}

// intToFloat scales integer PCM of the given bit depth to [-1, 1].
func intToFloat(buf *goaudio.IntBuffer, bits int, unsigned bool) []float32 {
	if bits <= 0 || bits > 32 {
		bits = 16
	}
	scale := float32(int64(1) << (bits - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if unsigned {
			v -= int(scale)
		}
		out[i] = float32(v) / scale
	}
	return out
}

// decodeMP3 reads MPEG-1/2 layer III. go-mp3 always yields 16-bit stereo.
func decodeMP3(data []byte, _ audio.Format) ([]float32, audio.Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, audio.Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeOGG reads Ogg Vorbis.
func decodeOGG(data []byte, _ audio.Format) ([]float32, audio.Format, error) {
	samples, f, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return samples, audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}, nil
}
