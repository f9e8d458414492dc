package inekf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"go.viam.com/test"

	"github.com/rpl-as-ucl/serow/lie"
)

func TestContactModelShapes(t *testing.T) {
	rot := lie.ExpSO3(r3.Vector{X: 0.1, Y: -0.3, Z: 1})
	cov := diag3([3]float64{1, 2, 3})

	y, b, h, n, pi := singleContactModel(LeftFoot, standL, cov, rot)
	test.That(t, y.Rows(), test.ShouldEqual, lie.GroupDim)
	test.That(t, b.Rows(), test.ShouldEqual, lie.GroupDim)
	test.That(t, h.Rows(), test.ShouldEqual, 3)
	test.That(t, h.Cols(), test.ShouldEqual, ErrorDim)
	test.That(t, n.Rows(), test.ShouldEqual, 3)
	test.That(t, pi.Cols(), test.ShouldEqual, lie.GroupDim)
	test.That(t, h.Get(0, idxPos), test.ShouldEqual, -1.0)
	test.That(t, h.Get(1, idxFootL+1), test.ShouldEqual, 1.0)
	test.That(t, h.Get(2, idxFootR+2), test.ShouldEqual, 0.0)
	test.That(t, trace(n), test.ShouldAlmostEqual, 6, 1e-12)

	y, b, h, n, pi = doubleContactModel(standR, standL, cov, cov, rot)
	test.That(t, y.Rows(), test.ShouldEqual, 2*lie.GroupDim)
	test.That(t, b.Rows(), test.ShouldEqual, 2*lie.GroupDim)
	test.That(t, h.Rows(), test.ShouldEqual, 6)
	test.That(t, n.Rows(), test.ShouldEqual, 6)
	test.That(t, pi.Rows(), test.ShouldEqual, 6)
	test.That(t, pi.Cols(), test.ShouldEqual, 2*lie.GroupDim)
	test.That(t, h.Get(3, idxFootL), test.ShouldEqual, 1.0)
	test.That(t, h.Get(0, idxFootR), test.ShouldEqual, 1.0)
	test.That(t, n.Get(0, 3), test.ShouldEqual, 0.0)
}

func TestInnovationVanishesOnConsistentState(t *testing.T) {
	rnd := rand.New(rand.NewSource(8))
	rot := randomRotation(rnd)
	pos := randomVector(rnd, 3)
	sR, sL := randomVector(rnd, 0.5), randomVector(rnd, 0.5)
	footR := pos.Add(lie.Rotate(rot, sR))
	footL := pos.Add(lie.Rotate(rot, sL))
	x, _ := ConstructState(rot, randomVector(rnd, 1), pos, footR, footL, r3.Vector{}, r3.Vector{})

	y, b, _, _, pi := doubleContactModel(sR, sL, matrix.Eye(3), matrix.Eye(3), rot)
	z := matrix.Product(pi, matrix.Difference(matrix.Product(blockDiag(x, x), y), b))
	test.That(t, maxAbsDiff(z, matrix.Zeros(6, 1)), test.ShouldBeLessThan, 1e-12)

	// a displaced anchor shows up with the sign H predicts
	y, b, _, _, pi = singleContactModel(RightFoot, sR, matrix.Eye(3), rot)
	setColumn(x, colFootR, footR.Add(r3.Vector{Z: 0.1}))
	z = matrix.Product(pi, matrix.Difference(matrix.Product(x, y), b))
	test.That(t, z.Get(2, 0), test.ShouldAlmostEqual, -0.1, 1e-12)
}

func TestUpdateBeforeInit(t *testing.T) {
	f := newTestFilter(t, nil)
	err := f.UpdateKinematics(standR, standL, nil, nil, true, true)
	test.That(t, err, test.ShouldEqual, ErrNotInitialized)
}

func TestUpdateInvalidMeasurement(t *testing.T) {
	f := newTestFilter(t, nil)
	test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, true, true), test.ShouldBeNil)
	err := f.UpdateKinematics(r3.Vector{Y: math.NaN()}, standL, nil, nil, true, true)
	test.That(t, errors.Is(err, ErrInvalidMeasurement), test.ShouldBeTrue)

	cov := matrix.Eye(3)
	cov.Set(0, 0, math.Inf(1))
	err = f.UpdateKinematics(standR, standL, cov, nil, true, true)
	test.That(t, errors.Is(err, ErrInvalidMeasurement), test.ShouldBeTrue)
}

func TestSingleContactConverges(t *testing.T) {
	// The right foot is anchored at the origin with a tight prior while the
	// body position is poorly known; legs report the foot 0.5 m below.
	cfg := DefaultConfig()
	cfg.PriorPosStd = 1
	f := newTestFilter(t, cfg)
	test.That(t, f.Predict(r3.Vector{}, restA, r3.Vector{}, standL, true, false), test.ShouldBeNil)

	offset := r3.Vector{Z: -0.5}
	lastTrace := trace(getBlock(f.Covariance(), idxPos, idxPos, 3, 3))
	lastResidual := math.Inf(1)
	for i := 0; i < 5; i++ {
		test.That(t, f.UpdateKinematics(offset, standL, nil, nil, true, false), test.ShouldBeNil)
		test.That(t, f.Mode(), test.ShouldEqual, SingleRight)

		tr := trace(getBlock(f.Covariance(), idxPos, idxPos, 3, 3))
		test.That(t, tr, test.ShouldBeLessThan, lastTrace)
		lastTrace = tr

		dR, _ := f.FootAnchors()
		residual := f.Position().Add(offset).Sub(dR).Norm()
		test.That(t, residual, test.ShouldBeLessThanOrEqualTo, lastResidual)
		lastResidual = residual
		test.That(t, asymmetry(f.Covariance()), test.ShouldEqual, 0.0)
	}
	test.That(t, f.Position().Z, test.ShouldAlmostEqual, 0.5, 1e-3)
	test.That(t, f.Position().X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, f.Position().Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, f.Pwb.Z, test.ShouldAlmostEqual, 0.5, 1e-3)
	test.That(t, maxAbsDiff(f.Rotation(), matrix.Eye(3)), test.ShouldBeLessThan, 1e-12)
}

func TestDoubleContactFreshAnchor(t *testing.T) {
	// Left foot stance, then the right foot touches down at a spot the last
	// prediction never saw. Its anchor must come from the new measurement
	// rather than the stale swing-leg value.
	f := newTestFilter(t, nil)
	test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, false, true), test.ShouldBeNil)
	for i := 0; i < 10; i++ {
		test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, false, true), test.ShouldBeNil)
		test.That(t, f.UpdateKinematics(standR, standL, nil, nil, false, true), test.ShouldBeNil)
		test.That(t, f.Mode(), test.ShouldEqual, SingleLeft)
	}
	pos := f.Position()

	touchdown := r3.Vector{X: 0.3, Y: -0.1, Z: -0.4}
	test.That(t, f.UpdateKinematics(touchdown, standL, nil, nil, true, true), test.ShouldBeNil)
	test.That(t, f.Mode(), test.ShouldEqual, DoubleContact)
	test.That(t, f.Position().Sub(pos).Norm(), test.ShouldBeLessThan, 1e-12)

	dR, dL := f.FootAnchors()
	test.That(t, dR.Sub(pos.Add(touchdown)).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, dL.Sub(standL).Norm(), test.ShouldBeLessThan, 1e-12)

	// the next prediction holds both anchors
	test.That(t, f.Predict(r3.Vector{}, restA, touchdown, standL, true, true), test.ShouldBeNil)
	dR2, _ := f.FootAnchors()
	test.That(t, dR2.Sub(dR).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestDoubleContactTightensBothFeet(t *testing.T) {
	f := newTestFilter(t, nil)
	test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, true, true), test.ShouldBeNil)
	for i := 0; i < 50; i++ {
		test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, true, true), test.ShouldBeNil)
	}
	before := f.Covariance()
	test.That(t, f.UpdateKinematics(standR, standL, nil, nil, true, true), test.ShouldBeNil)
	after := f.Covariance()

	for _, i := range []int{idxPos, idxFootR, idxFootL} {
		test.That(t, trace(getBlock(after, i, i, 3, 3)), test.ShouldBeLessThan, trace(getBlock(before, i, i, 3, 3)))
	}
}

func TestUpdateNotPositiveDefinite(t *testing.T) {
	f := newTestFilter(t, nil)
	test.That(t, f.Predict(r3.Vector{}, restA, standR, standL, true, false), test.ShouldBeNil)
	test.That(t, f.Predict(r3.Vector{Y: 0.1}, restA, standR, standL, true, false), test.ShouldBeNil)

	x0, theta0 := f.State()
	p0 := f.Covariance()
	bad := matrix.Scaled(matrix.Eye(3), -10)
	err := f.UpdateKinematics(standR, standL, bad, nil, true, true)
	test.That(t, errors.Is(err, ErrNotPositiveDefinite), test.ShouldBeTrue)

	x, theta := f.State()
	test.That(t, maxAbsDiff(x, x0), test.ShouldEqual, 0.0)
	test.That(t, maxAbsDiff(theta, theta0), test.ShouldEqual, 0.0)
	test.That(t, maxAbsDiff(f.Covariance(), p0), test.ShouldEqual, 0.0)
	test.That(t, f.Mode(), test.ShouldEqual, SingleRight)
}

func TestInvertSPD(t *testing.T) {
	a := matrix.MakeDenseMatrix([]float64{4, 1, 0, 1, 3, 0.5, 0, 0.5, 2}, 3, 3)
	inv, err := invertSPD(a)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxAbsDiff(matrix.Product(a, inv), matrix.Eye(3)), test.ShouldBeLessThan, 1e-12)

	_, err = invertSPD(matrix.Diagonal([]float64{1, -1, 1}))
	test.That(t, err, test.ShouldEqual, ErrNotPositiveDefinite)
}

func TestRandomSequenceKeepsCovarianceSymmetric(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	cfg := DefaultConfig()
	cfg.ExactDiscretization = true
	f := newTestFilter(t, cfg)

	for i := 0; i < 200; i++ {
		omega := randomVector(rnd, 0.3)
		acc := restA.Add(randomVector(rnd, 0.3))
		sR := standR.Add(randomVector(rnd, 0.01))
		sL := standL.Add(randomVector(rnd, 0.01))
		cR, cL := rnd.Intn(3) > 0, rnd.Intn(3) > 0

		test.That(t, f.Predict(omega, acc, sR, sL, cR, cL), test.ShouldBeNil)
		test.That(t, asymmetry(f.Covariance()), test.ShouldEqual, 0.0)
		if f.FirstRun() {
			continue
		}
		test.That(t, f.UpdateKinematics(sR, sL, nil, nil, cR, cL), test.ShouldBeNil)
		test.That(t, asymmetry(f.Covariance()), test.ShouldEqual, 0.0)
		test.That(t, f.Valid(), test.ShouldBeNil)
		test.That(t, lie.IsRotation(f.Rotation(), 1e-9), test.ShouldBeTrue)
	}
	p := f.Covariance()
	for i := 0; i < ErrorDim; i++ {
		test.That(t, p.Get(i, i), test.ShouldBeGreaterThan, 0.0)
	}
}
