// Package library holds the named, immutable sounds a scene plays.
//
// Assets are decoded once at startup from raw float32 PCM, WAVE, AIFF, MP3
// or Ogg Vorbis, converted to the engine format and partitioned into blocks. After
// loading, a [Library] is read-mostly and safe for concurrent readers.
//
// Typical usage:
//
//	lib := library.New(library.WithSampleRate(48000))
//	if err := lib.LoadAll(ctx, os.DirFS("assets"), assets); err != nil { ... }
//	emitter.WithSound("rain", lib)
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/resound/pkg/audio"
)

var (
	// ErrDuplicate is returned when a name is already in the library.
	ErrDuplicate = errors.New("library: duplicate sound name")

	// ErrUnknownFormat is returned for assets whose format has no decoder.
	ErrUnknownFormat = errors.New("library: unknown asset format")

	// ErrCorrupt is returned when an asset cannot be decoded.
	ErrCorrupt = errors.New("library: corrupt asset")
)

// Asset describes one sound to load.
type Asset struct {
	// Name is the key the sound is stored under.
	Name string

	// Path is the location of the encoded file inside the loaded [fs.FS].
	Path string

	// Format selects the decoder: "raw", "wav", "aiff", "mp3" or "ogg".
	// Empty infers it from the Path extension; files without one are raw.
	Format string

	// Channels and SampleRate describe raw PCM. Zero means mono at
	// [audio.DefaultSampleRate]. Other formats carry their own layout.
	Channels   int
	SampleRate int
}

// Option configures a [Library].
type Option func(*Library)

// WithBlockSize sets the block size, in interleaved values, of every loaded
// sound. Defaults to [audio.DefaultBlockSize].
func WithBlockSize(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.blockSize = n
		}
	}
}

// WithSampleRate sets the engine sample rate assets are resampled to.
// Defaults to [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(l *Library) {
		if rate > 0 {
			l.format.SampleRate = rate
		}
	}
}

// WithChannels sets the channel count assets are mixed to. Defaults to 1,
// since emitters are point sources.
func WithChannels(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.format.Channels = n
		}
	}
}

// WithDecoder registers or replaces the decoder for format.
func WithDecoder(format string, d Decoder) Option {
	return func(l *Library) {
		l.decoders[format] = d
	}
}

// WithConcurrency limits how many assets [Library.LoadAll] decodes at once.
// Defaults to GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// Library maps names to sounds. Names are unique.
//
// All methods are safe for concurrent use.
type Library struct {
	format      audio.Format
	blockSize   int
	decoders    map[string]Decoder
	concurrency int

	mu     sync.RWMutex
	sounds map[string]*audio.Sound
}

// New returns an empty library.
func New(opts ...Option) *Library {
	l := &Library{
		format:      audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1},
		blockSize:   audio.DefaultBlockSize,
		decoders:    make(map[string]Decoder, len(defaultDecoders)),
		concurrency: runtime.GOMAXPROCS(0),
		sounds:      make(map[string]*audio.Sound),
	}
	for k, d := range defaultDecoders {
		l.decoders[k] = d
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Format returns the engine format sounds are stored in.
func (l *Library) Format() audio.Format { return l.format }

// Add stores s under name.
func (l *Library) Add(name string, s *audio.Sound) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sounds[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	l.sounds[name] = s
	return nil
}

// Sound returns the sound stored under name.
func (l *Library) Sound(name string) (*audio.Sound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sounds[name]
	return s, ok
}

// Names returns the stored names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.sounds))
	for name := range l.sounds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of stored sounds.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sounds)
}

// Load reads a.Path from fsys, decodes it and stores it under a.Name.
func (l *Library) Load(fsys fs.FS, a Asset) error {
	data, err := fs.ReadFile(fsys, a.Path)
	if err != nil {
		return fmt.Errorf("library: load %q: %w", a.Name, err)
	}
	return l.LoadBytes(a, data)
}

// LoadBytes decodes data as a and stores it under a.Name.
func (l *Library) LoadBytes(a Asset, data []byte) error {
	s, err := l.decode(a, data)
	if err != nil {
		return fmt.Errorf("library: load %q: %w", a.Name, err)
	}
	if err := l.Add(a.Name, s); err != nil {
		return err
	}
	slog.Debug("library: sound loaded",
		"name", a.Name,
		"format", formatOf(a),
		"blocks", s.Blocks(),
		"duration", s.Duration(),
	)
	return nil
}

// LoadAll loads every asset from fsys, decoding in parallel. It stops at the
// first failure; assets loaded before it stay in the library.
func (l *Library) LoadAll(ctx context.Context, fsys fs.FS, assets []Asset) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, a := range assets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return l.Load(fsys, a)
		})
	}
	return g.Wait()
}

func (l *Library) decode(a Asset, data []byte) (*audio.Sound, error) {
	format := formatOf(a)
	dec, ok := l.decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	hint := audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
	if hint.SampleRate <= 0 {
		hint.SampleRate = audio.DefaultSampleRate
	}
	if hint.Channels <= 0 {
		hint.Channels = 1
	}

	samples, from, err := dec(data, hint)
	if err != nil {
		return nil, err
	}
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(samples)%from.Channels != 0 {
		samples = samples[:len(samples)-len(samples)%from.Channels]
	}
	samples = audio.Convert(samples, from, l.format)

	blockSize := l.blockSize - l.blockSize%l.format.Channels
	return audio.NewSound(samples, l.format.Channels, l.format.SampleRate, audio.WithBlockSize(blockSize))
}
