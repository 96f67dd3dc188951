package soft

import (
	"fmt"
	"math"

	"github.com/MrWong99/resound/pkg/spatial"
)

// onePoleCoef returns the feedback coefficient of a one-pole lowpass with
// cutoff fc at sample rate fs.
func onePoleCoef(fc float64, fs int) float32 {
	if fs <= 0 || fc >= float64(fs)/2 {
		return 0
	}
	return float32(math.Exp(-2 * math.Pi * fc / float64(fs)))
}

// directEffect splits each channel into low, mid and high bands with two
// one-pole lowpasses and recombines them with per-band gains. Filter state
// starts from zero on every call.
type directEffect struct {
	*handle
	lowA, highA float32
}

func (d *directEffect) Apply(p spatial.DirectParams, in, out *spatial.AmbisonicsBuffer) error {
	if err := d.check(); err != nil {
		return err
	}
	if len(in.Data) != len(out.Data) || out.Frames() < in.Frames() {
		return fmt.Errorf("%w: direct effect %dx%d into %dx%d",
			spatial.ErrBufferSize, len(in.Data), in.Frames(), len(out.Data), out.Frames())
	}

	var gain [spatial.Bands]float32
	for b := range gain {
		gain[b] = p.AirAbsorption[b] * p.Transmission[b] * p.Directivity * p.Attenuation
	}

	for c, src := range in.Data {
		dst := out.Data[c]
		var lowState, highState float32
		for i, x := range src {
			lowState = (1-d.lowA)*x + d.lowA*lowState
			highState = (1-d.highA)*x + d.highA*highState
			low := lowState
			mid := highState - lowState
			high := x - highState
			dst[i] = gain[0]*low + gain[1]*mid + gain[2]*high
		}
	}
	return nil
}
