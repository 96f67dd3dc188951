package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts a continuous stream of SoundFrames to Target.
// Rate conversion is linear interpolation whose phase and last input frame
// carry over between calls, so consecutive blocks join without a seam and
// the output length tracks the input exactly over time. Output block sizes
// vary by one frame as a result.
//
// A FormatConverter serves one stream and is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnedCorrupt sync.Once

	rate int       // source rate of the stream state below
	prev []float32 // last source frame of the previous call, Target channels
	pos  int64     // next output position after prev, in 1/Target.SampleRate source frames
}

// Convert converts frame to the target format. Frames already in the target
// format are returned unchanged. Channels are remixed before resampling.
func (c *FormatConverter) Convert(frame SoundFrame) SoundFrame {
	if frame.Channels <= 0 || frame.SampleRate <= 0 || len(frame.Data)%frame.Channels != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned sample data, dropping frame",
				"values", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return SoundFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Duration:   frame.Duration,
		}
	}
	if frame.Format() == c.Target {
		return frame
	}

	data := Remix(frame.Data, frame.Channels, c.Target.Channels)
	if frame.SampleRate != c.Target.SampleRate {
		data = c.resample(data, frame.SampleRate)
	}

	valid := len(data)
	if frame.Valid < len(frame.Data) {
		validFrames := int64(frame.Valid / frame.Channels)
		valid = min(int(validFrames*int64(c.Target.SampleRate)/int64(frame.SampleRate))*c.Target.Channels, len(data))
	}
	return SoundFrame{
		Data:       data,
		Channels:   c.Target.Channels,
		SampleRate: c.Target.SampleRate,
		Valid:      valid,
		Duration:   frame.Duration,
	}
}

// Reset drops the carried stream state. The next frame starts a new stream.
func (c *FormatConverter) Reset() {
	c.rate, c.prev, c.pos = 0, nil, 0
}

// resample continues the stream with in, interleaved at Target channels.
// The previous call's last frame precedes in, so output k of the stream
// always sits at source position k*src/dst.
func (c *FormatConverter) resample(in []float32, src int) []float32 {
	ch := c.Target.Channels
	dst := int64(c.Target.SampleRate)
	if src != c.rate {
		c.Reset()
		c.rate = src
	}
	n := len(in) / ch
	if n == 0 {
		return nil
	}

	lead := 0
	if c.prev != nil {
		lead = 1
	}
	total := n + lead
	at := func(i, k int) float32 {
		if i < lead {
			return c.prev[k]
		}
		return in[(i-lead)*ch+k]
	}

	out := make([]float32, 0, (int(int64(total)*dst/int64(src))+1)*ch)
	pos := c.pos
	for {
		idx := int(pos / dst)
		if idx+1 >= total {
			break
		}
		frac := float32(pos%dst) / float32(dst)
		for k := range ch {
			a, b := at(idx, k), at(idx+1, k)
			out = append(out, a+(b-a)*frac)
		}
		pos += int64(src)
	}

	c.prev = append(c.prev[:0], in[(n-1)*ch:]...)
	c.pos = pos - int64(total-1)*dst
	return out
}

// Convert changes the channel layout and sample rate of interleaved samples.
// If from equals to, the input is returned unchanged.
func Convert(samples []float32, from, to Format) []float32 {
	if from == to {
		return samples
	}
	out := samples
	ch := from.Channels
	if to.Channels < ch {
		out = Remix(out, ch, to.Channels)
		ch = to.Channels
	}
	if from.SampleRate != to.SampleRate {
		out = Resample(out, ch, from.SampleRate, to.SampleRate)
	}
	if to.Channels != ch {
		out = Remix(out, ch, to.Channels)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages L+R per stereo frame.
func StereoToMono(stereo []float32) []float32 {
	frames := len(stereo) / 2
	out := make([]float32, frames)
	for i := range frames {
		out[i] = (stereo[i*2] + stereo[i*2+1]) / 2
	}
	return out
}

// Downmix averages every sample frame of interleaved multi-channel audio into
// a single mono value. dst is reused when it has enough capacity.
func Downmix(dst, samples []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst[:0], samples...)
	}
	frames := len(samples) / channels
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		dst[i] = sum * inv
	}
	return dst
}

// Remix converts interleaved audio between channel counts. Mono sources are
// copied to every output channel, mono targets average the inputs, and other
// layouts keep the shared leading channels and silence the rest.
func Remix(samples []float32, from, to int) []float32 {
	switch {
	case from == to || from <= 0 || to <= 0:
		return samples
	case from == 1 && to == 2:
		return MonoToStereo(samples)
	case from == 2 && to == 1:
		return StereoToMono(samples)
	case to == 1:
		return Downmix(nil, samples, from)
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)
	for i := range frames {
		for c := range to {
			switch {
			case from == 1:
				out[i*to+c] = samples[i]
			case c < from:
				out[i*to+c] = samples[i*from+c]
			}
		}
	}
	return out
}

// Resample resamples interleaved audio from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// Clamp limits every sample to [-1, 1] in place.
func Clamp(samples []float32) {
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
