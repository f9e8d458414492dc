// Package lie holds the matrix Lie group algebra used by the invariant EKF:
// the so(3) hat/vee maps, the SO(3) exponential and its left Jacobian, and the
// exponential of the extended pose group SE_5(3) that bundles a rotation with
// five translation-like columns (velocity, position, two foot anchors).
package lie

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/skelterjohn/go.matrix"
)

const (
	// DefaultEpsilon is the rotation angle (rad) below which the closed forms
	// switch to their Taylor expansions.
	DefaultEpsilon = 1e-8

	// GroupDim is the side of the square matrix representing an element of the extended group.
	GroupDim = 7
	// TangentDim is the dimension of the extended group's Lie algebra.
	TangentDim = 15
)

// Skew returns the skew-symmetric matrix [v]x such that [v]x*u == v.Cross(u).
func Skew(v r3.Vector) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix([]float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}, 3, 3)
}

// Vec is the inverse of Skew for skew-symmetric input.
func Vec(m *matrix.DenseMatrix) r3.Vector {
	return r3.Vector{X: m.Get(2, 1), Y: m.Get(0, 2), Z: m.Get(1, 0)}
}

// Rotate returns m*v for a 3x3 matrix m.
func Rotate(m *matrix.DenseMatrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.Get(0, 0)*v.X + m.Get(0, 1)*v.Y + m.Get(0, 2)*v.Z,
		Y: m.Get(1, 0)*v.X + m.Get(1, 1)*v.Y + m.Get(1, 2)*v.Z,
		Z: m.Get(2, 0)*v.X + m.Get(2, 1)*v.Y + m.Get(2, 2)*v.Z,
	}
}

// ExpSO3 maps a rotation vector to a rotation matrix with the Rodrigues formula,
// using DefaultEpsilon for the small-angle fallback.
func ExpSO3(w r3.Vector) *matrix.DenseMatrix {
	return ExpSO3Eps(w, DefaultEpsilon)
}

// ExpSO3Eps is ExpSO3 with an explicit small-angle threshold.
func ExpSO3Eps(w r3.Vector, eps float64) *matrix.DenseMatrix {
	theta := w.Norm()
	k := Skew(w)
	k2 := matrix.Product(k, k)

	var a, b float64
	if theta < eps {
		// second order Taylor
		a, b = 1, 0.5
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
	}
	return matrix.Sum(matrix.Eye(3), matrix.Sum(matrix.Scaled(k, a), matrix.Scaled(k2, b)))
}

// LeftJacobianSO3 returns the left Jacobian of SO(3) at w, which integrates
// the translational columns of the extended exponential.
func LeftJacobianSO3(w r3.Vector) *matrix.DenseMatrix {
	return LeftJacobianSO3Eps(w, DefaultEpsilon)
}

// LeftJacobianSO3Eps is LeftJacobianSO3 with an explicit small-angle threshold.
func LeftJacobianSO3Eps(w r3.Vector, eps float64) *matrix.DenseMatrix {
	theta := w.Norm()
	k := Skew(w)
	k2 := matrix.Product(k, k)

	var a, b float64
	if theta < eps {
		a, b = 0.5, 1.0/6
	} else {
		t2 := theta * theta
		a = (1 - math.Cos(theta)) / t2
		b = (theta - math.Sin(theta)) / (t2 * theta)
	}
	return matrix.Sum(matrix.Eye(3), matrix.Sum(matrix.Scaled(k, a), matrix.Scaled(k2, b)))
}

// Exp maps a tangent vector [phi, nu, rho, dr, dl] (each 3-dimensional) to the
// corresponding 7x7 element of the extended group.
func Exp(v [TangentDim]float64) *matrix.DenseMatrix {
	return ExpEps(v, DefaultEpsilon)
}

// ExpEps is Exp with an explicit small-angle threshold.
func ExpEps(v [TangentDim]float64, eps float64) *matrix.DenseMatrix {
	phi := r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	r := ExpSO3Eps(phi, eps)
	jl := LeftJacobianSO3Eps(phi, eps)

	x := matrix.Eye(GroupDim)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, r.Get(i, j))
		}
	}
	for c := 0; c < 4; c++ {
		col := Rotate(jl, r3.Vector{X: v[3+3*c], Y: v[4+3*c], Z: v[5+3*c]})
		x.Set(0, 3+c, col.X)
		x.Set(1, 3+c, col.Y)
		x.Set(2, 3+c, col.Z)
	}
	return x
}

// IsRotation reports whether m is orthonormal with unit determinant to within tol.
func IsRotation(m *matrix.DenseMatrix, tol float64) bool {
	if m.Rows() != 3 || m.Cols() != 3 {
		return false
	}
	rtr := matrix.Product(m.Transpose(), m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rtr.Get(i, j)-want) > tol {
				return false
			}
		}
	}
	return math.Abs(Det3(m)-1) <= tol
}

// Det3 is the determinant of a 3x3 matrix.
func Det3(m *matrix.DenseMatrix) float64 {
	return m.Get(0, 0)*(m.Get(1, 1)*m.Get(2, 2)-m.Get(1, 2)*m.Get(2, 1)) -
		m.Get(0, 1)*(m.Get(1, 0)*m.Get(2, 2)-m.Get(1, 2)*m.Get(2, 0)) +
		m.Get(0, 2)*(m.Get(1, 0)*m.Get(2, 1)-m.Get(1, 1)*m.Get(2, 0))
}
