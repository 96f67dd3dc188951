package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// Forward is the listener's look direction in its own frame.
	Forward = mgl32.Vec3{0, 0, -1}

	// Up is the vertical axis.
	Up = mgl32.Vec3{0, 1, 0}
)

// Transform places an emitter or listener in world space. The zero value is
// not a valid rotation; use [NewTransform].
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
}

// NewTransform returns an unrotated transform at pos.
func NewTransform(pos mgl32.Vec3) Transform {
	return Transform{Position: pos, Rotation: mgl32.QuatIdent()}
}

// LookAt returns a transform at pos facing target. If target equals pos the
// rotation is the identity.
func LookAt(pos, target mgl32.Vec3) Transform {
	t := NewTransform(pos)
	dir := target.Sub(pos)
	if dir.Len() == 0 {
		return t
	}
	t.Rotation = mgl32.QuatBetweenVectors(Forward, dir.Normalize())
	return t
}

// Forward returns the world-space look direction.
func (t Transform) Forward() mgl32.Vec3 {
	return t.rotation().Rotate(Forward)
}

// ToLocal maps a world-space direction into this transform's frame.
func (t Transform) ToLocal(v mgl32.Vec3) mgl32.Vec3 {
	return t.rotation().Conjugate().Rotate(v)
}

func (t Transform) rotation() mgl32.Quat {
	if t.Rotation.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return t.Rotation.Normalize()
}

// Geometry is the listener-relative placement of one emitter.
type Geometry struct {
	// Relative points from the listener to the emitter in world space.
	Relative mgl32.Vec3

	// Inverse points from the emitter back to the listener.
	Inverse mgl32.Vec3

	// Distance is the length of Relative in metres.
	Distance float32

	// Direction is the unit vector towards the emitter in the listener's frame.
	Direction mgl32.Vec3

	// Rotation turns the listener's forward axis onto Direction.
	Rotation mgl32.Quat

	// Attenuation is 1/Distance.
	Attenuation float32
}

// ComputeGeometry derives the placement of emitter relative to listener. It
// returns [ErrCoincident] when the attenuation would be infinite.
func ComputeGeometry(listener, emitter Transform) (Geometry, error) {
	rel := emitter.Position.Sub(listener.Position)
	dist := rel.Len()
	att := 1 / dist
	if math.IsInf(float64(att), 0) || math.IsNaN(float64(att)) {
		return Geometry{}, ErrCoincident
	}
	dir := listener.ToLocal(rel.Mul(att))
	return Geometry{
		Relative:    rel,
		Inverse:     rel.Mul(-1),
		Distance:    dist,
		Direction:   dir,
		Rotation:    mgl32.QuatBetweenVectors(Forward, dir),
		Attenuation: att,
	}, nil
}

// Ambisonic maps a listener-frame direction onto the ambisonics axes: x to
// the front, y to the left, z up.
func Ambisonic(dir mgl32.Vec3) (x, y, z float32) {
	return -dir.Z(), -dir.X(), dir.Y()
}
