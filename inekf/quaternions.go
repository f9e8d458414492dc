package inekf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"
)

// EulerAngles returns roll, pitch and yaw (X, Y, Z, in rad) of a body-to-world
// rotation R = Rz(yaw)*Ry(pitch)*Rx(roll). Near pitch = ±90° the split between
// roll and yaw is arbitrary but atan2 keeps every value finite.
func EulerAngles(rot *matrix.DenseMatrix) r3.Vector {
	return r3.Vector{
		X: math.Atan2(rot.Get(2, 1), rot.Get(2, 2)),
		Y: math.Atan2(-rot.Get(2, 0), math.Hypot(rot.Get(2, 1), rot.Get(2, 2))),
		Z: math.Atan2(rot.Get(1, 0), rot.Get(0, 0)),
	}
}

// RotationFromEuler is the inverse of EulerAngles.
func RotationFromEuler(roll, pitch, yaw float64) *matrix.DenseMatrix {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	return matrix.MakeDenseMatrix([]float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	}, 3, 3)
}

// RotationFromQuaternion returns the rotation matrix of q, which need not be normalized.
func RotationFromQuaternion(q quaternion.Quaternion) *matrix.DenseMatrix {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	w, x, y, z := q.W/n, q.X/n, q.Y/n, q.Z/n
	return matrix.MakeDenseMatrix([]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}, 3, 3)
}

// QuaternionFromRotation returns the unit quaternion of rot with a non-negative scalar part.
func QuaternionFromRotation(rot *matrix.DenseMatrix) quaternion.Quaternion {
	r := func(i, j int) float64 { return rot.Get(i, j) }
	var q quaternion.Quaternion
	tr := r(0, 0) + r(1, 1) + r(2, 2)
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quaternion.Quaternion{W: s / 4, X: (r(2, 1) - r(1, 2)) / s, Y: (r(0, 2) - r(2, 0)) / s, Z: (r(1, 0) - r(0, 1)) / s}
	case r(0, 0) > r(1, 1) && r(0, 0) > r(2, 2):
		s := 2 * math.Sqrt(1+r(0, 0)-r(1, 1)-r(2, 2))
		q = quaternion.Quaternion{W: (r(2, 1) - r(1, 2)) / s, X: s / 4, Y: (r(0, 1) + r(1, 0)) / s, Z: (r(0, 2) + r(2, 0)) / s}
	case r(1, 1) > r(2, 2):
		s := 2 * math.Sqrt(1+r(1, 1)-r(0, 0)-r(2, 2))
		q = quaternion.Quaternion{W: (r(0, 2) - r(2, 0)) / s, X: (r(0, 1) + r(1, 0)) / s, Y: s / 4, Z: (r(1, 2) + r(2, 1)) / s}
	default:
		s := 2 * math.Sqrt(1+r(2, 2)-r(0, 0)-r(1, 1))
		q = quaternion.Quaternion{W: (r(1, 0) - r(0, 1)) / s, X: (r(0, 2) + r(2, 0)) / s, Y: (r(1, 2) + r(2, 1)) / s, Z: s / 4}
	}
	if q.W < 0 {
		q = quaternion.Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	return q
}
