package inekf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/skelterjohn/go.matrix"
	"gonum.org/v1/gonum/mat"

	"github.com/rpl-as-ucl/serow/lie"
)

// ConstructState packs the physical quantities into the 7x7 extended group
// element X = [R v p dR dL; 0 I] and the 6x1 bias vector theta = [bg; ba].
func ConstructState(
	rot *matrix.DenseMatrix,
	vel, pos, footR, footL, gyroBias, accBias r3.Vector,
) (x, theta *matrix.DenseMatrix) {
	x = matrix.Eye(lie.GroupDim)
	setBlock(x, 0, 0, rot)
	setColumn(x, colVel, vel)
	setColumn(x, colPos, pos)
	setColumn(x, colFootR, footR)
	setColumn(x, colFootL, footL)

	theta = matrix.Zeros(BiasDim, 1)
	setVector(theta, 0, gyroBias)
	setVector(theta, 3, accBias)
	return x, theta
}

// SeparateState is the inverse of ConstructState.
func SeparateState(x, theta *matrix.DenseMatrix) (
	rot *matrix.DenseMatrix,
	vel, pos, footR, footL, gyroBias, accBias r3.Vector,
) {
	rot = getBlock(x, 0, 0, 3, 3)
	vel = column(x, colVel)
	pos = column(x, colPos)
	footR = column(x, colFootR)
	footL = column(x, colFootL)
	gyroBias = vector(theta, 0)
	accBias = vector(theta, 3)
	return
}

// Adjoint returns the 21x21 operator that maps an error expressed in the local
// frame of X to the right-invariant frame used for covariance bookkeeping.
// Every translational block is rotated by R and picks up a [x]R coupling with
// the rotation error; the bias block is the identity.
func Adjoint(x *matrix.DenseMatrix) *matrix.DenseMatrix {
	rot := getBlock(x, 0, 0, 3, 3)
	adj := matrix.Eye(ErrorDim)
	for b := 0; b < 5; b++ {
		setBlock(adj, 3*b, 3*b, rot)
	}
	for c, i := range []int{colVel, colPos, colFootR, colFootL} {
		setBlock(adj, 3*(c+1), idxRot, matrix.Product(lie.Skew(column(x, i)), rot))
	}
	return adj
}

// inverseState returns X^-1 = [R' -R'v -R'p -R'dR -R'dL; 0 I] without a generic inversion.
func inverseState(x *matrix.DenseMatrix) *matrix.DenseMatrix {
	rt := getBlock(x, 0, 0, 3, 3).Transpose()
	inv := matrix.Eye(lie.GroupDim)
	setBlock(inv, 0, 0, rt)
	for c := colVel; c < lie.GroupDim; c++ {
		setColumn(inv, c, lie.Rotate(rt, column(x, c)).Mul(-1))
	}
	return inv
}

func column(x *matrix.DenseMatrix, c int) r3.Vector {
	return r3.Vector{X: x.Get(0, c), Y: x.Get(1, c), Z: x.Get(2, c)}
}

func setColumn(x *matrix.DenseMatrix, c int, v r3.Vector) {
	x.Set(0, c, v.X)
	x.Set(1, c, v.Y)
	x.Set(2, c, v.Z)
}

// vector reads three consecutive rows of a column vector.
func vector(m *matrix.DenseMatrix, i int) r3.Vector {
	return r3.Vector{X: m.Get(i, 0), Y: m.Get(i+1, 0), Z: m.Get(i+2, 0)}
}

func setVector(m *matrix.DenseMatrix, i int, v r3.Vector) {
	m.Set(i, 0, v.X)
	m.Set(i+1, 0, v.Y)
	m.Set(i+2, 0, v.Z)
}

// getBlock copies the rows x cols block of m starting at (i, j).
func getBlock(m *matrix.DenseMatrix, i, j, rows, cols int) *matrix.DenseMatrix {
	b := matrix.Zeros(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			b.Set(r, c, m.Get(i+r, j+c))
		}
	}
	return b
}

// setBlock writes b into m with its top left corner at (i, j).
func setBlock(m *matrix.DenseMatrix, i, j int, b *matrix.DenseMatrix) {
	for r := 0; r < b.Rows(); r++ {
		for c := 0; c < b.Cols(); c++ {
			m.Set(i+r, j+c, b.Get(r, c))
		}
	}
}

// symmetrize returns (m + m')/2.
func symmetrize(m *matrix.DenseMatrix) *matrix.DenseMatrix {
	return matrix.Scaled(matrix.Sum(m, m.Transpose()), 0.5)
}

// diag3 is a 3x3 diagonal matrix.
func diag3(d [3]float64) *matrix.DenseMatrix {
	return matrix.Diagonal(d[:])
}

// blockDiag stacks square blocks along the diagonal.
func blockDiag(bs ...*matrix.DenseMatrix) *matrix.DenseMatrix {
	n := 0
	for _, b := range bs {
		n += b.Rows()
	}
	m := matrix.Zeros(n, n)
	i := 0
	for _, b := range bs {
		setBlock(m, i, i, b)
		i += b.Rows()
	}
	return m
}

func trace(m *matrix.DenseMatrix) float64 {
	var t float64
	for i := 0; i < m.Rows(); i++ {
		t += m.Get(i, i)
	}
	return t
}

func finite(m *matrix.DenseMatrix) bool {
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			v := m.Get(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func finiteVector(vs ...r3.Vector) bool {
	for _, v := range vs {
		for _, c := range []float64{v.X, v.Y, v.Z} {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return false
			}
		}
	}
	return true
}

// toGonum and fromGonum move matrices across the go.matrix/gonum boundary,
// which is crossed only for the matrix exponential and Cholesky factorization.
func toGonum(m *matrix.DenseMatrix) *mat.Dense {
	d := mat.NewDense(m.Rows(), m.Cols(), nil)
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			d.Set(i, j, m.Get(i, j))
		}
	}
	return d
}

func fromGonum(d mat.Matrix) *matrix.DenseMatrix {
	r, c := d.Dims()
	m := matrix.Zeros(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, d.At(i, j))
		}
	}
	return m
}
