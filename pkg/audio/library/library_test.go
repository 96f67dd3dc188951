package library_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/library"
)

// rawBytes encodes samples as float32 little-endian.
func rawBytes(samples ...float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// wavBytes encodes 16-bit PCM through the go-audio encoder.
func wavBytes(t *testing.T, rate, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return b
}

// aiffBytes encodes 16-bit PCM as AIFF.
func aiffBytes(t *testing.T, rate, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.aiff")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := aiff.NewEncoder(f, rate, 16, channels)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return b
}

func TestLoadBytes_Raw(t *testing.T) {
	t.Parallel()

	lib := library.New(library.WithBlockSize(4))
	err := lib.LoadBytes(library.Asset{Name: "tick", Format: "raw"}, rawBytes(0.1, 0.2, 0.3, 0.4, 0.5))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	s, ok := lib.Sound("tick")
	if !ok {
		t.Fatal("sound not stored")
	}
	if s.Len() != 5 || s.Blocks() != 2 {
		t.Errorf("Len = %d, Blocks = %d, want 5 and 2", s.Len(), s.Blocks())
	}
	f, _ := s.Cursor().Next()
	if f.Data[1] != 0.2 {
		t.Errorf("sample 1 = %v, want 0.2", f.Data[1])
	}
	if got := s.Format(); got != (audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}) {
		t.Errorf("Format = %v", got)
	}
}

func TestLoadBytes_ConvertsToEngineFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		asset   library.Asset
		data    []byte
		wantLen int
		wantAt0 float32
	}{
		{
			name:    "stereo downmixed",
			asset:   library.Asset{Name: "s", Format: "raw", Channels: 2, SampleRate: 1000},
			data:    rawBytes(1, 0, 0.5, 0.5),
			wantLen: 2,
			wantAt0: 0.5,
		},
		{
			name:    "half rate upsampled",
			asset:   library.Asset{Name: "s", Format: "raw", SampleRate: 500},
			data:    rawBytes(0, 1, 0, 1),
			wantLen: 8,
			wantAt0: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lib := library.New(library.WithSampleRate(1000))
			if err := lib.LoadBytes(tt.asset, tt.data); err != nil {
				t.Fatalf("LoadBytes: %v", err)
			}
			s, _ := lib.Sound("s")
			if s.Len() != tt.wantLen {
				t.Errorf("Len = %d, want %d", s.Len(), tt.wantLen)
			}
			f, _ := s.Cursor().Next()
			if f.Data[0] != tt.wantAt0 {
				t.Errorf("first sample = %v, want %v", f.Data[0], tt.wantAt0)
			}
		})
	}
}

func TestLoadBytes_WAV(t *testing.T) {
	t.Parallel()

	data := wavBytes(t, 8000, 2, []int{16384, 16384, -32768, -32768, 0, 0})
	lib := library.New(library.WithSampleRate(8000))
	if err := lib.LoadBytes(library.Asset{Name: "w", Path: "w.wav"}, data); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	s, _ := lib.Sound("w")
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3 mono samples", s.Len())
	}
	f, _ := s.Cursor().Next()
	want := []float32{0.5, -1, 0}
	for i, w := range want {
		if f.Data[i] != w {
			t.Errorf("sample %d = %v, want %v", i, f.Data[i], w)
		}
	}
}

func TestLoadBytes_AIFF(t *testing.T) {
	t.Parallel()

	data := aiffBytes(t, 8000, 1, []int{16384, -16384, 0, 32767})
	lib := library.New(library.WithSampleRate(8000))
	if err := lib.LoadBytes(library.Asset{Name: "a", Path: "bell.aif"}, data); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	s, _ := lib.Sound("a")
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
	f, _ := s.Cursor().Next()
	want := []float32{0.5, -0.5, 0}
	for i, w := range want {
		if f.Data[i] != w {
			t.Errorf("sample %d = %v, want %v", i, f.Data[i], w)
		}
	}
}

func TestLoadBytes_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		asset library.Asset
		data  []byte
		want  error
	}{
		{"unknown format", library.Asset{Name: "a", Format: "flac"}, rawBytes(1), library.ErrUnknownFormat},
		{"truncated raw", library.Asset{Name: "a", Format: "raw"}, []byte{1, 2, 3}, library.ErrCorrupt},
		{"empty raw", library.Asset{Name: "a", Format: "raw"}, nil, audio.ErrEmptySamples},
		{"not a wave file", library.Asset{Name: "a", Path: "a.wav"}, rawBytes(1, 2, 3), library.ErrCorrupt},
		{"not an ogg file", library.Asset{Name: "a", Path: "a.ogg"}, rawBytes(1, 2, 3), library.ErrCorrupt},
		{"not an aiff file", library.Asset{Name: "a", Path: "a.aiff"}, rawBytes(1, 2, 3), library.ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lib := library.New()
			err := lib.LoadBytes(tt.asset, tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if lib.Len() != 0 {
				t.Errorf("Len = %d after failed load", lib.Len())
			}
		})
	}
}

func TestAdd_Duplicate(t *testing.T) {
	t.Parallel()

	lib := library.New()
	s, _ := audio.NewSound([]float32{1}, 1, 44100)
	if err := lib.Add("x", s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := lib.Add("x", s); !errors.Is(err, library.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	if _, ok := lib.Sound("missing"); ok {
		t.Error("Sound(missing) reported ok")
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sfx/a.pcm": {Data: rawBytes(1, 2)},
		"sfx/b.f32": {Data: rawBytes(3)},
		"sfx/c":     {Data: rawBytes(4, 5, 6)},
	}
	lib := library.New(library.WithConcurrency(2))
	err := lib.LoadAll(context.Background(), fsys, []library.Asset{
		{Name: "c", Path: "sfx/c"},
		{Name: "a", Path: "sfx/a.pcm"},
		{Name: "b", Path: "sfx/b.f32"},
	})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	names := lib.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names = %v, want sorted [a b c]", names)
	}

	err = lib.LoadAll(context.Background(), fsys, []library.Asset{{Name: "d", Path: "missing.pcm"}})
	if err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestWithDecoder(t *testing.T) {
	t.Parallel()

	calls := 0
	dec := func(data []byte, hint audio.Format) ([]float32, audio.Format, error) {
		calls++
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = float32(b) / 255
		}
		return out, hint, nil
	}
	lib := library.New(library.WithDecoder("u8", dec))
	if err := lib.LoadBytes(library.Asset{Name: "u", Path: "x.u8"}, []byte{0, 255}); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if calls != 1 {
		t.Errorf("decoder called %d times, want 1", calls)
	}
	if s, _ := lib.Sound("u"); s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}
