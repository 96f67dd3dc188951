package mixer

import (
	"fmt"
	"slices"

	"github.com/MrWong99/resound/pkg/audio"
)

// busChannels is the channel count of spatialized frames.
const busChannels = 2

// Bus accumulates spatialized stereo frames for one engine block.
// A Bus is not safe for concurrent use.
type Bus struct {
	rate  int
	data  []float32
	added int
}

// NewBus returns a silent bus of frames sample frames at rate.
func NewBus(rate, frames int) *Bus {
	return &Bus{rate: rate, data: make([]float32, frames*busChannels)}
}

// Frames returns the bus length in sample frames.
func (b *Bus) Frames() int { return len(b.data) / busChannels }

// Added returns the number of frames summed into the bus.
func (b *Bus) Added() int { return b.added }

// Add sums f into the bus. f must be stereo at the bus rate and no longer
// than the bus; shorter frames are aligned to the start.
func (b *Bus) Add(f audio.SoundFrame) error {
	if f.Channels != busChannels || f.SampleRate != b.rate {
		return fmt.Errorf("%w: got %s, bus is %s", ErrFrameFormat, f.Format(),
			audio.Format{SampleRate: b.rate, Channels: busChannels})
	}
	if len(f.Data) > len(b.data) {
		return fmt.Errorf("%w: %d frames exceed bus of %d", ErrFrameFormat, f.SampleCount(), b.Frames())
	}
	for i, v := range f.Data {
		b.data[i] += v
	}
	b.added++
	return nil
}

// Frame returns a copy of the mix as a stereo frame at the bus rate.
func (b *Bus) Frame() audio.SoundFrame {
	return audio.SoundFrame{
		Data:       slices.Clone(b.data),
		Channels:   busChannels,
		SampleRate: b.rate,
		Valid:      len(b.data),
	}
}

// Render converts the mix with conv, which carries resampling state from the
// previous block, and clamps it to [-1, 1]. The returned slice does not
// alias the bus.
func (b *Bus) Render(conv *audio.FormatConverter) []float32 {
	out := conv.Convert(b.Frame()).Data
	audio.Clamp(out)
	return out
}
