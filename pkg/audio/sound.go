package audio

import (
	"fmt"
	"time"
)

// SoundOption configures [NewSound].
type SoundOption func(*soundOptions)

type soundOptions struct {
	blockSize int
}

// WithBlockSize sets the number of interleaved values per block. It must be a
// positive multiple of the channel count. Defaults to [DefaultBlockSize].
func WithBlockSize(n int) SoundOption {
	return func(o *soundOptions) {
		o.blockSize = n
	}
}

// Sound is an immutable sequence of fixed-size PCM blocks. The last block is
// zero-padded to full length. A Sound is safe for concurrent use; playback
// state lives in the [Cursor] values it hands out.
type Sound struct {
	format    Format
	blockSize int
	blocks    [][]float32
	valid     []int
	durations []time.Duration
	length    int
	total     time.Duration
}

// NewSound partitions interleaved samples into blocks. It returns
// [ErrEmptySamples] when samples is empty and [ErrInvalidFormat] when the
// channel count, sample rate or block size is unusable. The input slice is
// copied; the caller may reuse it.
func NewSound(samples []float32, channels, sampleRate int, opts ...SoundOption) (*Sound, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}
	format := Format{SampleRate: sampleRate, Channels: channels}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	o := soundOptions{blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.blockSize <= 0 || o.blockSize%channels != 0 {
		return nil, fmt.Errorf("%w: block size %d is not a positive multiple of %d channels",
			ErrInvalidFormat, o.blockSize, channels)
	}

	n := (len(samples) + o.blockSize - 1) / o.blockSize
	s := &Sound{
		format:    format,
		blockSize: o.blockSize,
		blocks:    make([][]float32, n),
		valid:     make([]int, n),
		durations: make([]time.Duration, n),
		length:    len(samples),
	}

	// Durations telescope so that their sum matches the duration of the
	// supplied sample frames exactly, padding excluded.
	for i := range n {
		lo := i * o.blockSize
		hi := min(lo+o.blockSize, len(samples))
		block := make([]float32, o.blockSize)
		copy(block, samples[lo:hi])
		s.blocks[i] = block
		s.valid[i] = hi - lo
		s.durations[i] = format.FrameDuration(hi/channels) - format.FrameDuration(lo/channels)
	}
	s.total = format.FrameDuration(len(samples) / channels)
	return s, nil
}

// Format returns the sound's sample rate and channel count.
func (s *Sound) Format() Format { return s.format }

// BlockSize returns the number of interleaved values per block.
func (s *Sound) BlockSize() int { return s.blockSize }

// Blocks returns the number of blocks.
func (s *Sound) Blocks() int { return len(s.blocks) }

// Len returns the number of interleaved values the sound was built from.
func (s *Sound) Len() int { return s.length }

// Duration returns the total play time, padding excluded.
func (s *Sound) Duration() time.Duration { return s.total }

// BlockRange returns the half-open block range [lo, hi) whose blocks cover
// the time window [start, end). A non-positive end means the end of the
// sound. The result is clamped to the sound and never empty; an end at or
// before start yields the single block holding start.
func (s *Sound) BlockRange(start, end time.Duration) (lo, hi int) {
	framesPerBlock := s.blockSize / s.format.Channels
	toBlock := func(d time.Duration) int {
		frames := int(int64(d) * int64(s.format.SampleRate) / int64(time.Second))
		return frames / framesPerBlock
	}

	lo = 0
	if start > 0 {
		lo = min(toBlock(start), len(s.blocks)-1)
	}
	hi = len(s.blocks)
	if end > 0 {
		frames := int((int64(end)*int64(s.format.SampleRate) + int64(time.Second) - 1) / int64(time.Second))
		hi = min((frames+framesPerBlock-1)/framesPerBlock, len(s.blocks))
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// Cursor returns a fresh play-head positioned at the first block.
func (s *Sound) Cursor() *Cursor {
	return &Cursor{sound: s, hi: len(s.blocks)}
}

// frame copies block i into a full-length frame.
func (s *Sound) frame(i int) SoundFrame {
	data := make([]float32, s.blockSize)
	copy(data, s.blocks[i])
	return SoundFrame{
		Data:       data,
		Channels:   s.format.Channels,
		SampleRate: s.format.SampleRate,
		Valid:      s.valid[i],
		Duration:   s.durations[i],
	}
}

// reversed copies block i with its sample frames in reverse order. Padding is
// skipped so the reversed audio starts at the last real sample.
func (s *Sound) reversed(i int) SoundFrame {
	ch := s.format.Channels
	src := s.blocks[i]
	valid := s.valid[i]
	data := make([]float32, s.blockSize)
	frames := valid / ch
	for f := range frames {
		copy(data[f*ch:(f+1)*ch], src[(frames-1-f)*ch:(frames-f)*ch])
	}
	return SoundFrame{
		Data:       data,
		Channels:   ch,
		SampleRate: s.format.SampleRate,
		Valid:      valid,
		Duration:   s.durations[i],
	}
}

// Cursor is an independent play-head over a [Sound]. It walks whole blocks
// within a block range. A Cursor is not safe for concurrent use.
type Cursor struct {
	sound    *Sound
	block    int
	lo, hi   int
	backward bool
}

// Sound returns the sound the cursor plays.
func (c *Cursor) Sound() *Sound { return c.sound }

// Backward reports whether the cursor walks blocks in reverse.
func (c *Cursor) Backward() bool { return c.backward }

// Done reports whether the cursor has moved past its range.
func (c *Cursor) Done() bool {
	if c.backward {
		return c.block < c.lo
	}
	return c.block >= c.hi
}

// Next returns the block under the cursor and advances by one block. Backward
// frames hold the block's sample frames reversed. It reports false once the range is exhausted.
func (c *Cursor) Next() (SoundFrame, bool) {
	if c.Done() {
		return SoundFrame{}, false
	}
	if c.backward {
		f := c.sound.reversed(c.block)
		c.block--
		return f, true
	}
	f := c.sound.frame(c.block)
	c.block++
	return f, true
}

// SetRange restricts the cursor to blocks [lo, hi) and rewinds it. Bounds are
// clamped to the sound.
func (c *Cursor) SetRange(lo, hi int) {
	c.lo = max(lo, 0)
	c.hi = min(hi, len(c.sound.blocks))
	if c.hi < c.lo {
		c.hi = c.lo
	}
	c.Rewind()
}

// SetBackward sets the walking direction without moving the cursor.
func (c *Cursor) SetBackward(backward bool) {
	c.backward = backward
}

// Rewind moves the cursor to the start of its range for the current
// direction.
func (c *Cursor) Rewind() {
	if c.backward {
		c.block = c.hi - 1
		return
	}
	c.block = c.lo
}
