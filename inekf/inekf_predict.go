package inekf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"gonum.org/v1/gonum/mat"

	"github.com/rpl-as-ucl/serow/lie"
)

// Predict propagates the estimate over the timestep set with SetDt.
// omega and acc are the raw body frame IMU readings; hR and hL are the
// body frame foot positions from leg kinematics and, with the contact flags,
// decide which foot anchors are held and which follow the legs.
//
// The first call after Init only initializes the foot anchors from hR and hL.
func (f *Filter) Predict(omega, acc, hR, hL r3.Vector, contactR, contactL bool) error {
	return f.PredictDt(omega, acc, hR, hL, contactR, contactL, f.dt)
}

// PredictDt is Predict with an explicit timestep. An invalid timestep leaves
// the filter untouched and returns ErrInvalidTimestep.
func (f *Filter) PredictDt(omega, acc, hR, hL r3.Vector, contactR, contactL bool, dt float64) error {
	if !finiteVector(omega, acc, hR, hL) {
		return errors.Wrap(ErrInvalidMeasurement, "predict")
	}
	if f.firstrun {
		f.initialize(hR, hL, contactR, contactL)
		return nil
	}
	if !(dt > 0) || dt > f.cfg.MaxDt || math.IsInf(dt, 0) {
		f.logger.Debugw("skipping prediction", "dt", dt)
		return errors.Wrapf(ErrInvalidTimestep, "dt %v outside (0, %v]", dt, f.cfg.MaxDt)
	}

	w := omega.Sub(f.GyroBias())
	a := acc.Sub(f.AccBias())
	g := f.cfg.gravity()

	phi := discretize(processJacobian(f.x, g), dt, f.cfg.ExactDiscretization)
	qd := discreteNoise(phi, Adjoint(f.x), f.qc, dt)
	p := matrix.Sum(matrix.Product(phi, matrix.Product(f.p, phi.Transpose())), qd)
	x := propagateMean(f.x, w, a, g, dt, f.cfg.SmallAngle)
	if !finite(p) || !finite(x) {
		return errors.Wrap(ErrInvalidState, "prediction diverged")
	}

	f.x = x
	f.p = symmetrize(p)
	f.Gyro, f.Acc = w, a

	kin := f.kinCovariance(nil)
	f.trackContact(RightFoot, contactR, hR, kin)
	f.trackContact(LeftFoot, contactL, hL, kin)
	f.UpdateVars()
	return nil
}

// initialize places the foot anchors from the leg kinematics at the initial
// pose. No propagation happens on the first run.
func (f *Filter) initialize(hR, hL r3.Vector, contactR, contactL bool) {
	rot := getBlock(f.x, 0, 0, 3, 3)
	pos := column(f.x, colPos)
	setColumn(f.x, colFootR, pos.Add(lie.Rotate(rot, hR)))
	setColumn(f.x, colFootL, pos.Add(lie.Rotate(rot, hL)))
	f.contactR, f.contactL = contactR, contactL
	f.firstrun = false
	f.UpdateVars()
	f.logger.Debugw("estimator initialized",
		"position", f.Pwb, "angle", f.Angle, "mode", f.Mode().String())
}

// trackContact holds a foot anchor while its foot stays in contact and
// re-initializes it from the legs otherwise, so that an anchor from a previous
// stance never leaks into a new one.
func (f *Filter) trackContact(ft Foot, contact bool, h r3.Vector, cov *matrix.DenseMatrix) {
	prev := f.inContact(ft)
	if !contact || !prev {
		f.resetAnchor(ft, h, cov)
		if contact {
			f.logger.Debugw("contact onset", "foot", ft.String())
		}
	}
	f.setContact(ft, contact)
}

// resetAnchor sets the anchor of ft to p + R*h. Under the right-invariant error
// the new anchor's error equals the position error plus the rotated kinematics
// noise, so its rows and columns of P are copied from the position block.
func (f *Filter) resetAnchor(ft Foot, h r3.Vector, cov *matrix.DenseMatrix) {
	rot := getBlock(f.x, 0, 0, 3, 3)
	setColumn(f.x, ft.column(), column(f.x, colPos).Add(lie.Rotate(rot, h)))

	i := ft.errIndex()
	for r := 0; r < 3; r++ {
		for j := 0; j < ErrorDim; j++ {
			f.p.Set(i+r, j, f.p.Get(idxPos+r, j))
		}
	}
	for c := 0; c < 3; c++ {
		for j := 0; j < ErrorDim; j++ {
			f.p.Set(j, i+c, f.p.Get(j, idxPos+c))
		}
	}
	noise := symmetrize(matrix.Product(rot, matrix.Product(cov, rot.Transpose())))
	setBlock(f.p, i, i, matrix.Sum(getBlock(f.p, idxPos, idxPos, 3, 3), noise))
}

// kinCovariance adds the configured kinematics noise to a caller supplied
// J*Qe*J' covariance, which may be nil.
func (f *Filter) kinCovariance(cov *matrix.DenseMatrix) *matrix.DenseMatrix {
	n := diag3(f.cfg.kinematicNoise())
	if cov == nil {
		return n
	}
	return matrix.Sum(cov, n)
}

// processJacobian is the continuous-time Jacobian Af of the right-invariant
// error dynamics. It depends on the estimate only through the bias columns;
// the IMU readings drop out of the right-invariant error dynamics.
func processJacobian(x *matrix.DenseMatrix, g r3.Vector) *matrix.DenseMatrix {
	rot := getBlock(x, 0, 0, 3, 3)
	negRot := matrix.Scaled(rot, -1)

	af := matrix.Zeros(ErrorDim, ErrorDim)
	setBlock(af, idxVel, idxRot, lie.Skew(g))
	setBlock(af, idxPos, idxVel, matrix.Eye(3))

	setBlock(af, idxRot, idxGyroBias, negRot)
	setBlock(af, idxVel, idxAccBias, negRot)
	for c, i := range []int{colVel, colPos, colFootR, colFootL} {
		setBlock(af, 3*(c+1), idxGyroBias, matrix.Product(lie.Skew(column(x, i)), negRot))
	}
	return af
}

// discretize returns Phi = exp(Af*dt), either exactly or to second order.
func discretize(af *matrix.DenseMatrix, dt float64, exact bool) *matrix.DenseMatrix {
	adt := matrix.Scaled(af, dt)
	if exact {
		var e mat.Dense
		e.Exp(toGonum(adt))
		return fromGonum(&e)
	}
	return matrix.Sum(matrix.Eye(ErrorDim), matrix.Sum(adt, matrix.Scaled(matrix.Product(adt, adt), 0.5)))
}

// discreteNoise maps the continuous noise through the adjoint of the estimate
// at the start of the step and the transition: Qd = Phi*Adj*Qc*Adj'*Phi'*dt.
func discreteNoise(phi, adj, qc *matrix.DenseMatrix, dt float64) *matrix.DenseMatrix {
	phiAdj := matrix.Product(phi, adj)
	return matrix.Scaled(matrix.Product(phiAdj, matrix.Product(qc, phiAdj.Transpose())), dt)
}

// propagateMean integrates the strapdown equations over dt with the
// bias-corrected body rate w and specific force a. Foot anchors are held.
func propagateMean(x *matrix.DenseMatrix, w, a, g r3.Vector, dt, eps float64) *matrix.DenseMatrix {
	rot := getBlock(x, 0, 0, 3, 3)
	vel := column(x, colVel)
	pos := column(x, colPos)
	acc := lie.Rotate(rot, a).Add(g)

	out := x.Copy()
	setBlock(out, 0, 0, matrix.Product(rot, lie.ExpSO3Eps(w.Mul(dt), eps)))
	setColumn(out, colVel, vel.Add(acc.Mul(dt)))
	setColumn(out, colPos, pos.Add(vel.Mul(dt)).Add(acc.Mul(0.5*dt*dt)))
	return out
}
