package soft

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/spatial"
)

var sqrt3 = math.Sqrt(3)

// sphericalHarmonics returns the real SN3D spherical harmonics in ACN order
// up to order for the unit vector (x, y, z) in ambisonics axes.
func sphericalHarmonics(order int, x, y, z float64) []float64 {
	sh := make([]float64, (order+1)*(order+1))
	sh[0] = 1
	if order >= 1 {
		sh[1] = y
		sh[2] = z
		sh[3] = x
	}
	if order >= 2 {
		sh[4] = sqrt3 * x * y
		sh[5] = sqrt3 * y * z
		sh[6] = 0.5 * (3*z*z - 1)
		sh[7] = sqrt3 * x * z
		sh[8] = sqrt3 / 2 * (x*x - y*y)
	}
	return sh
}

// acnDegree returns the degree l of ACN channel n.
func acnDegree(n int) int {
	return int(math.Sqrt(float64(n)))
}

type encoder struct {
	*handle
	order int
}

func (e *encoder) Apply(dir mgl32.Vec3, in []float32, out *spatial.AmbisonicsBuffer) error {
	if err := e.check(); err != nil {
		return err
	}
	if out.Order != e.order || len(out.Data) != (e.order+1)*(e.order+1) || out.Frames() < len(in) {
		return fmt.Errorf("%w: encode %d samples into order %d buffer of %d frames",
			spatial.ErrBufferSize, len(in), out.Order, out.Frames())
	}
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	x, y, z := spatial.Ambisonic(dir)
	sh := sphericalHarmonics(e.order, float64(x), float64(y), float64(z))
	for n, ch := range out.Data {
		g := float32(sh[n])
		for i, s := range in {
			ch[i] = g * s
		}
	}
	return nil
}
