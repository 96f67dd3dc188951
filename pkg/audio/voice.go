package audio

import (
	"fmt"
	"time"
)

// PlaybackMode decides what a [Voice] does when its cursor runs out.
type PlaybackMode int

const (
	// Once plays the sound a single time; the voice then ends.
	Once PlaybackMode = iota

	// Loop restarts at the first block without a silent tick.
	Loop

	// PingPong alternates forward and reversed playback.
	PingPong

	// Partial loops over the blocks covering [Playback.Start, Playback.End).
	Partial
)

// String returns the lowercase mode name used in configuration files.
func (m PlaybackMode) String() string {
	switch m {
	case Once:
		return "once"
	case Loop:
		return "loop"
	case PingPong:
		return "pingpong"
	case Partial:
		return "partial"
	default:
		return fmt.Sprintf("PlaybackMode(%d)", int(m))
	}
}

// ParsePlaybackMode maps a configuration name to a mode. The empty string is
// [Once].
func ParsePlaybackMode(s string) (PlaybackMode, error) {
	switch s {
	case "", "once":
		return Once, nil
	case "loop":
		return Loop, nil
	case "pingpong", "ping_pong":
		return PingPong, nil
	case "partial":
		return Partial, nil
	}
	return Once, fmt.Errorf("audio: unknown playback mode %q", s)
}

// Playback configures how a voice plays its sound.
type Playback struct {
	Mode PlaybackMode

	// Start and End bound the window used by [Partial]. A zero End means the
	// end of the sound.
	Start time.Duration
	End   time.Duration

	// Gain scales every sample. Zero means unity.
	Gain float32
}

// Validate reports whether the playback window is usable. Only [Partial]
// reads End; a zero End always means the end of the sound.
func (p Playback) Validate() error {
	if p.Start < 0 {
		return fmt.Errorf("%w: start %v is negative", ErrInvalidRange, p.Start)
	}
	if p.Mode == Partial && p.End > 0 && p.End <= p.Start {
		return fmt.Errorf("%w: end %v is not after start %v", ErrInvalidRange, p.End, p.Start)
	}
	return nil
}

// Voice is one playing instance of a [Sound]: a cursor plus the playback
// policy applied when that cursor is exhausted.
type Voice struct {
	name     string
	cursor   *Cursor
	playback Playback
	ended    bool
}

// NewVoice creates a voice positioned at the start of its range. It fails
// with [ErrInvalidRange] when p does not validate.
func NewVoice(name string, s *Sound, p Playback) (*Voice, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := s.Cursor()
	if p.Mode == Partial {
		c.SetRange(s.BlockRange(p.Start, p.End))
	}
	return &Voice{name: name, cursor: c, playback: p}, nil
}

// Name returns the library name of the voice's sound.
func (v *Voice) Name() string { return v.name }

// Playback returns the voice's playback settings.
func (v *Voice) Playback() Playback { return v.playback }

// Ended reports whether the voice has nothing left to play.
func (v *Voice) Ended() bool { return v.ended }

// Next returns the next block, re-arming the cursor according to the
// playback mode. It reports false once a [Once] voice is exhausted.
func (v *Voice) Next() (SoundFrame, bool) {
	if v.ended {
		return SoundFrame{}, false
	}
	f, ok := v.cursor.Next()
	if !ok {
		switch v.playback.Mode {
		case Loop, Partial:
			v.cursor.Rewind()
		case PingPong:
			v.cursor.SetBackward(!v.cursor.Backward())
			v.cursor.Rewind()
		default:
			v.ended = true
			return SoundFrame{}, false
		}
		if f, ok = v.cursor.Next(); !ok {
			v.ended = true
			return SoundFrame{}, false
		}
	}
	if g := v.playback.Gain; g != 0 && g != 1 {
		for i := range f.Data {
			f.Data[i] *= g
		}
	}
	return f, true
}
