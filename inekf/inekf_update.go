package inekf

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"gonum.org/v1/gonum/mat"

	"github.com/rpl-as-ucl/serow/lie"
)

// UpdateKinematics corrects the estimate with the body frame foot positions
// sR, sL from leg kinematics and their Cartesian covariances covR, covL
// (J*Qe*J', nil for none). The contact flags choose between no correction, a
// single-contact and a double-contact update. A foot touching down since the
// last call has its anchor re-initialized from the measurement before use.
//
// On error the estimate is left as it was.
func (f *Filter) UpdateKinematics(sR, sL r3.Vector, covR, covL *matrix.DenseMatrix, contactR, contactL bool) error {
	if f.firstrun {
		return ErrNotInitialized
	}
	if !finiteVector(sR, sL) || (covR != nil && !finite(covR)) || (covL != nil && !finite(covL)) {
		return errors.Wrap(ErrInvalidMeasurement, "kinematics")
	}

	x, theta, p := f.x.Copy(), f.theta.Copy(), f.p.Copy()
	prevR, prevL := f.contactR, f.contactL

	nR, nL := f.kinCovariance(covR), f.kinCovariance(covL)
	for _, c := range []struct {
		ft      Foot
		contact bool
		s       r3.Vector
		n       *matrix.DenseMatrix
	}{
		{RightFoot, contactR, sR, nR},
		{LeftFoot, contactL, sL, nL},
	} {
		if c.contact && !f.inContact(c.ft) {
			f.resetAnchor(c.ft, c.s, c.n)
			f.logger.Debugw("contact onset", "foot", c.ft.String())
		}
		f.setContact(c.ft, c.contact)
	}

	var err error
	rot := getBlock(f.x, 0, 0, 3, 3)
	switch mode := ModeFromFlags(contactR, contactL); mode {
	case SingleRight:
		err = f.updateStateSingleContact(singleContactModel(RightFoot, sR, nR, rot))
	case SingleLeft:
		err = f.updateStateSingleContact(singleContactModel(LeftFoot, sL, nL, rot))
	case DoubleContact:
		err = f.updateStateDoubleContact(doubleContactModel(sR, sL, nR, nL, rot))
	case NoContact:
	}
	if err != nil {
		f.x, f.theta, f.p = x, theta, p
		f.contactR, f.contactL = prevR, prevL
		f.UpdateVars()
		return err
	}
	f.UpdateVars()
	return nil
}

// singleContactModel builds the right-invariant observation of one foot.
// Y = [s; 0; 1; -1 at the foot's column] satisfies X*Y = b for the true state,
// since R*s + p - d = 0. H selects -position and +foot in the error state and
// N is the kinematics covariance rotated into the world frame.
func singleContactModel(ft Foot, s r3.Vector, cov, rot *matrix.DenseMatrix) (y, b, h, n, pi *matrix.DenseMatrix) {
	y = matrix.Zeros(lie.GroupDim, 1)
	setVector(y, 0, s)
	y.Set(colPos, 0, 1)
	y.Set(ft.column(), 0, -1)

	b = matrix.Zeros(lie.GroupDim, 1)
	b.Set(colPos, 0, 1)
	b.Set(ft.column(), 0, -1)

	h = matrix.Zeros(3, ErrorDim)
	setBlock(h, 0, idxPos, matrix.Scaled(matrix.Eye(3), -1))
	setBlock(h, 0, ft.errIndex(), matrix.Eye(3))

	n = symmetrize(matrix.Product(rot, matrix.Product(cov, rot.Transpose())))

	pi = matrix.Zeros(3, lie.GroupDim)
	setBlock(pi, 0, 0, matrix.Eye(3))
	return y, b, h, n, pi
}

// doubleContactModel stacks the right then left single-contact observations.
func doubleContactModel(sR, sL r3.Vector, covR, covL, rot *matrix.DenseMatrix) (y, b, h, n, pi *matrix.DenseMatrix) {
	yR, bR, hR, nR, piR := singleContactModel(RightFoot, sR, covR, rot)
	yL, bL, hL, nL, piL := singleContactModel(LeftFoot, sL, covL, rot)

	y = matrix.Zeros(2*lie.GroupDim, 1)
	setBlock(y, 0, 0, yR)
	setBlock(y, lie.GroupDim, 0, yL)

	b = matrix.Zeros(2*lie.GroupDim, 1)
	setBlock(b, 0, 0, bR)
	setBlock(b, lie.GroupDim, 0, bL)

	h = matrix.Zeros(6, ErrorDim)
	setBlock(h, 0, 0, hR)
	setBlock(h, 3, 0, hL)

	n = blockDiag(nR, nL)

	pi = matrix.Zeros(6, 2*lie.GroupDim)
	setBlock(pi, 0, 0, piR)
	setBlock(pi, 3, lie.GroupDim, piL)
	return y, b, h, n, pi
}

// updateStateSingleContact applies the 3-dimensional innovation z = PI*(X*Y - b).
func (f *Filter) updateStateSingleContact(y, b, h, n, pi *matrix.DenseMatrix) error {
	r := matrix.Difference(matrix.Product(f.x, y), b)
	return f.correct(matrix.Product(pi, r), h, n)
}

// updateStateDoubleContact applies the stacked 6-dimensional innovation
// z = PI*(diag(X, X)*Y - b), correcting both anchors jointly.
func (f *Filter) updateStateDoubleContact(y, b, h, n, pi *matrix.DenseMatrix) error {
	r := matrix.Difference(matrix.Product(blockDiag(f.x, f.x), y), b)
	return f.correct(matrix.Product(pi, r), h, n)
}

// correct runs the Kalman gain and folds delta = K*z back in: the pose part
// through the group exponential on the left, the bias part additively. P is
// updated in Joseph form.
func (f *Filter) correct(z, h, n *matrix.DenseMatrix) error {
	ht := h.Transpose()
	s := symmetrize(matrix.Sum(matrix.Product(h, matrix.Product(f.p, ht)), n))
	sInv, err := invertSPD(s)
	if err != nil {
		return err
	}
	k := matrix.Product(f.p, matrix.Product(ht, sInv))
	delta := matrix.Product(k, z)

	var xi [PoseDim]float64
	for i := range xi {
		xi[i] = delta.Get(i, 0)
	}
	x := matrix.Product(lie.ExpEps(xi, f.cfg.SmallAngle), f.x)
	theta := matrix.Sum(f.theta, getBlock(delta, PoseDim, 0, BiasDim, 1))

	ikh := matrix.Difference(matrix.Eye(ErrorDim), matrix.Product(k, h))
	p := matrix.Sum(
		matrix.Product(ikh, matrix.Product(f.p, ikh.Transpose())),
		matrix.Product(k, matrix.Product(n, k.Transpose())),
	)
	if !finite(x) || !finite(theta) || !finite(p) {
		return errors.Wrap(ErrInvalidState, "correction diverged")
	}
	f.x, f.theta, f.p = x, theta, symmetrize(p)
	return nil
}

// invertSPD inverts a symmetric positive definite matrix through its Cholesky
// factorization and reports ErrNotPositiveDefinite when there is none.
func invertSPD(s *matrix.DenseMatrix) (*matrix.DenseMatrix, error) {
	n := s.Rows()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, s.Get(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, errors.Wrap(ErrNotPositiveDefinite, err.Error())
	}
	return fromGonum(&inv), nil
}
