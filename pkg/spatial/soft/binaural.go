package soft

import (
	"fmt"
	"math"

	"github.com/MrWong99/resound/pkg/spatial"
)

// speaker is one virtual loudspeaker of the binaural decoder.
type speaker struct {
	// decode projects ambisonics channels onto this speaker's feed.
	decode []float32

	gainL, gainR   float32
	delayL, delayR int
}

// HRTF is the spherical-head transfer function set: ten virtual speakers,
// eight around the horizon at 45° spacing plus one above and one below.
type HRTF struct {
	order    int
	speakers []speaker
}

var _ spatial.HRTF = (*HRTF)(nil)

// Name implements [spatial.HRTF].
func (h *HRTF) Name() string { return "spherical-head" }

// Speakers returns the number of virtual speakers.
func (h *HRTF) Speakers() int { return len(h.speakers) }

func newHRTF(order, sampleRate int, headRadius float64) *HRTF {
	type dir struct{ x, y, z float64 }
	dirs := make([]dir, 0, 10)
	for k := range 8 {
		az := float64(k) * math.Pi / 4
		dirs = append(dirs, dir{x: math.Cos(az), y: math.Sin(az)})
	}
	dirs = append(dirs, dir{z: 1}, dir{z: -1})

	n := float64(len(dirs))
	h := &HRTF{order: order, speakers: make([]speaker, len(dirs))}
	for k, d := range dirs {
		sh := sphericalHarmonics(order, d.x, d.y, d.z)
		dec := make([]float32, len(sh))
		for c, v := range sh {
			l := float64(acnDegree(c))
			dec[c] = float32((2*l + 1) * v / n)
		}

		// Woodworth: ITD = r/c (θ + sin θ) for lateral angle θ.
		theta := math.Asin(math.Max(-1, math.Min(1, d.y)))
		itd := headRadius / SpeedOfSound * (math.Abs(theta) + math.Abs(math.Sin(theta)))
		delay := int(math.Round(itd * float64(sampleRate)))

		sp := speaker{
			decode: dec,
			gainL:  float32(0.6 + 0.4*d.y),
			gainR:  float32(0.6 - 0.4*d.y),
		}
		switch {
		case d.y > 0:
			sp.delayR = delay
		case d.y < 0:
			sp.delayL = delay
		}
		h.speakers[k] = sp
	}
	return h
}

// binaural decodes ambisonics through the HRTF's virtual speakers. Delayed
// ears see silence before the start of the block.
type binaural struct {
	*handle
	hrtf *HRTF
}

func (b *binaural) Apply(in *spatial.AmbisonicsBuffer, out *spatial.StereoBuffer) error {
	if err := b.check(); err != nil {
		return err
	}
	n := in.Frames()
	if in.Order != b.hrtf.order || len(out.L) < n || len(out.R) < n {
		return fmt.Errorf("%w: binaural order %d, %d frames into %d/%d",
			spatial.ErrBufferSize, in.Order, n, len(out.L), len(out.R))
	}
	clear(out.L[:n])
	clear(out.R[:n])

	for _, sp := range b.hrtf.speakers {
		for i := range n {
			var s float32
			for c, ch := range in.Data {
				s += sp.decode[c] * ch[i]
			}
			if j := i + sp.delayL; j < n {
				out.L[j] += sp.gainL * s
			}
			if j := i + sp.delayR; j < n {
				out.R[j] += sp.gainR * s
			}
		}
	}
	return nil
}

// panner is a first-order stereo decode: L = ½(W+Y), R = ½(W−Y).
type panner struct {
	*handle
}

func (p *panner) Apply(in *spatial.AmbisonicsBuffer, out *spatial.StereoBuffer) error {
	if err := p.check(); err != nil {
		return err
	}
	n := in.Frames()
	if len(in.Data) == 0 || len(out.L) < n || len(out.R) < n {
		return fmt.Errorf("%w: panner %d frames into %d/%d",
			spatial.ErrBufferSize, n, len(out.L), len(out.R))
	}
	w := in.Data[0]
	for i := range n {
		var y float32
		if len(in.Data) > 1 {
			y = in.Data[1][i]
		}
		out.L[i] = 0.5 * (w[i] + y)
		out.R[i] = 0.5 * (w[i] - y)
	}
	return nil
}
