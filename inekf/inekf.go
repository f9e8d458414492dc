// Package inekf implements a contact-aided invariant extended Kalman filter for
// legged robots. The body orientation, velocity, position and the world
// positions of both feet live together on the extended pose group SE_5(3);
// gyro and accelerometer biases ride along in a 6-vector. IMU samples drive
// Predict, leg kinematics with foot contact flags drive UpdateKinematics.
//
// A Filter is not safe for concurrent use: callers feed it from one goroutine,
// or serialize calls themselves, in time order.
package inekf

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"

	"github.com/rpl-as-ucl/serow/lie"
)

// Filter holds the estimate (X, theta), its error covariance P and the
// convenience copies of the estimate that outside code polls.
type Filter struct {
	cfg    *Config
	logger golog.Logger

	x     *matrix.DenseMatrix // 7x7 extended pose
	theta *matrix.DenseMatrix // 6x1 [gyro bias; accel bias], body frame
	p     *matrix.DenseMatrix // 21x21 error covariance
	qc    *matrix.DenseMatrix // continuous-time process noise

	dt       float64
	firstrun bool // no prediction has run since Init

	// contact flags last seen by Predict or UpdateKinematics
	contactR, contactL bool

	// Estimate in named form, refreshed by UpdateVars. Before the first
	// prediction they hold the initial values given to the setters.
	Rwb        *matrix.DenseMatrix // body to world rotation
	Pwb, Vwb   r3.Vector           // world frame position and velocity
	DR, DL     r3.Vector           // world frame foot anchors
	Bgyr, Bacc r3.Vector           // body frame biases
	Gyro, Acc  r3.Vector           // last bias-corrected IMU sample
	Angle      r3.Vector           // roll, pitch, yaw, rad

	logMap map[string]interface{}
}

// NewFilter returns a filter at the origin, level, at rest and with zero
// biases. Use the setters before the first Predict to start elsewhere.
func NewFilter(cfg *Config, logger golog.Logger) (*Filter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate("inekf"); err != nil {
		return nil, err
	}
	f := &Filter{
		cfg:    cfg,
		logger: logger,
		dt:     cfg.Dt,
		Rwb:    matrix.Eye(3),
		logMap: make(map[string]interface{}),
	}
	f.Init()
	return f, nil
}

// Init rebuilds X and theta from the named fields, resets P to the configured
// prior and re-arms the first-run initialization.
func (f *Filter) Init() {
	f.x, f.theta = ConstructState(f.Rwb, f.Vwb, f.Pwb, f.DR, f.DL, f.Bgyr, f.Bacc)
	f.p = f.cfg.prior()
	f.qc = f.cfg.processNoise()
	f.firstrun = true
	f.contactR, f.contactL = false, false
	f.UpdateVars()
}

// Reset restarts the filter from its current estimate with prior covariance.
func (f *Filter) Reset() {
	f.logger.Infow("resetting estimator", "position", f.Pwb, "velocity", f.Vwb)
	f.Init()
}

// Config returns the filter's configuration.
func (f *Filter) Config() *Config {
	return f.cfg
}

// SetDt sets the timestep used by Predict.
func (f *Filter) SetDt(dt float64) {
	f.dt = dt
}

// Dt returns the timestep used by Predict.
func (f *Filter) Dt() float64 {
	return f.dt
}

// FirstRun reports whether the filter is still waiting for its first prediction.
func (f *Filter) FirstRun() bool {
	return f.firstrun
}

// SetGyroBias overrides the gyro bias estimate.
func (f *Filter) SetGyroBias(bg r3.Vector) {
	f.warnOverride("gyro bias")
	f.Bgyr = bg
	setVector(f.theta, 0, bg)
}

// SetAccBias overrides the accelerometer bias estimate.
func (f *Filter) SetAccBias(ba r3.Vector) {
	f.warnOverride("accel bias")
	f.Bacc = ba
	setVector(f.theta, 3, ba)
}

// SetBodyPos overrides the body position.
func (f *Filter) SetBodyPos(pos r3.Vector) {
	f.warnOverride("position")
	f.Pwb = pos
	setColumn(f.x, colPos, pos)
}

// SetBodyVel overrides the body velocity.
func (f *Filter) SetBodyVel(vel r3.Vector) {
	f.warnOverride("velocity")
	f.Vwb = vel
	setColumn(f.x, colVel, vel)
}

// SetBodyOrientation overrides the body to world rotation.
func (f *Filter) SetBodyOrientation(rot *matrix.DenseMatrix) error {
	if !lie.IsRotation(rot, 1e-6) {
		return errors.New("body orientation is not a rotation matrix")
	}
	f.warnOverride("orientation")
	f.Rwb = rot.Copy()
	f.Angle = EulerAngles(f.Rwb)
	setBlock(f.x, 0, 0, rot)
	return nil
}

// SetBodyOrientationQuaternion overrides the body to world rotation with a quaternion.
func (f *Filter) SetBodyOrientationQuaternion(q quaternion.Quaternion) error {
	if q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
		return errors.New("zero quaternion")
	}
	return f.SetBodyOrientation(RotationFromQuaternion(q))
}

// The setters are meant for initialization: after the first prediction they
// bypass the covariance and the caller should Reset.
func (f *Filter) warnOverride(what string) {
	if !f.firstrun {
		f.logger.Warnw("overriding estimate after initialization without covariance reset", "field", what)
	}
}

// UpdateVars refreshes the named fields from X and theta.
func (f *Filter) UpdateVars() {
	f.Rwb, f.Vwb, f.Pwb, f.DR, f.DL, f.Bgyr, f.Bacc = SeparateState(f.x, f.theta)
	f.Angle = EulerAngles(f.Rwb)
	f.updateLogMap()
}

// State returns copies of X and theta.
func (f *Filter) State() (x, theta *matrix.DenseMatrix) {
	return f.x.Copy(), f.theta.Copy()
}

// Covariance returns a copy of P.
func (f *Filter) Covariance() *matrix.DenseMatrix {
	return f.p.Copy()
}

// Position returns the world frame body position.
func (f *Filter) Position() r3.Vector {
	return column(f.x, colPos)
}

// Velocity returns the world frame body velocity.
func (f *Filter) Velocity() r3.Vector {
	return column(f.x, colVel)
}

// Rotation returns a copy of the body to world rotation.
func (f *Filter) Rotation() *matrix.DenseMatrix {
	return getBlock(f.x, 0, 0, 3, 3)
}

// Quaternion returns the body to world rotation as a unit quaternion.
func (f *Filter) Quaternion() quaternion.Quaternion {
	return QuaternionFromRotation(f.Rotation())
}

// EulerAngles returns roll, pitch and yaw in rad.
func (f *Filter) EulerAngles() r3.Vector {
	return EulerAngles(f.Rotation())
}

// GyroBias returns the gyro bias estimate.
func (f *Filter) GyroBias() r3.Vector {
	return vector(f.theta, 0)
}

// AccBias returns the accelerometer bias estimate.
func (f *Filter) AccBias() r3.Vector {
	return vector(f.theta, 3)
}

// FootAnchors returns the world frame anchors of the right and left foot.
// An anchor is only meaningful while its foot is in contact.
func (f *Filter) FootAnchors() (right, left r3.Vector) {
	return column(f.x, colFootR), column(f.x, colFootL)
}

// Mode returns the contact mode last reported to the filter.
func (f *Filter) Mode() ContactMode {
	return ModeFromFlags(f.contactR, f.contactL)
}

// Valid returns ErrInvalidState if NaN or Inf has reached the estimate.
func (f *Filter) Valid() error {
	if !finite(f.x) || !finite(f.theta) || !finite(f.p) || !finite(f.Rwb) ||
		!finiteVector(f.Pwb, f.Vwb, f.DR, f.DL, f.Bgyr, f.Bacc, f.Gyro, f.Acc, f.Angle) {
		return ErrInvalidState
	}
	return nil
}

func (f *Filter) inContact(ft Foot) bool {
	if ft == RightFoot {
		return f.contactR
	}
	return f.contactL
}

func (f *Filter) setContact(ft Foot, c bool) {
	if ft == RightFoot {
		f.contactR = c
	} else {
		f.contactL = c
	}
}

// LogMap returns named scalars of the current estimate for analysis. The map
// is updated in place by every predict and update.
func (f *Filter) LogMap() map[string]interface{} {
	return f.logMap
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var logFields = map[string]func(f *Filter) float64{
	"Px":       func(f *Filter) float64 { return f.Pwb.X },
	"Py":       func(f *Filter) float64 { return f.Pwb.Y },
	"Pz":       func(f *Filter) float64 { return f.Pwb.Z },
	"Vx":       func(f *Filter) float64 { return f.Vwb.X },
	"Vy":       func(f *Filter) float64 { return f.Vwb.Y },
	"Vz":       func(f *Filter) float64 { return f.Vwb.Z },
	"Roll":     func(f *Filter) float64 { return f.Angle.X },
	"Pitch":    func(f *Filter) float64 { return f.Angle.Y },
	"Yaw":      func(f *Filter) float64 { return f.Angle.Z },
	"DRx":      func(f *Filter) float64 { return f.DR.X },
	"DRy":      func(f *Filter) float64 { return f.DR.Y },
	"DRz":      func(f *Filter) float64 { return f.DR.Z },
	"DLx":      func(f *Filter) float64 { return f.DL.X },
	"DLy":      func(f *Filter) float64 { return f.DL.Y },
	"DLz":      func(f *Filter) float64 { return f.DL.Z },
	"BGx":      func(f *Filter) float64 { return f.Bgyr.X },
	"BGy":      func(f *Filter) float64 { return f.Bgyr.Y },
	"BGz":      func(f *Filter) float64 { return f.Bgyr.Z },
	"BAx":      func(f *Filter) float64 { return f.Bacc.X },
	"BAy":      func(f *Filter) float64 { return f.Bacc.Y },
	"BAz":      func(f *Filter) float64 { return f.Bacc.Z },
	"Gx":       func(f *Filter) float64 { return f.Gyro.X },
	"Gy":       func(f *Filter) float64 { return f.Gyro.Y },
	"Gz":       func(f *Filter) float64 { return f.Gyro.Z },
	"Ax":       func(f *Filter) float64 { return f.Acc.X },
	"Ay":       func(f *Filter) float64 { return f.Acc.Y },
	"Az":       func(f *Filter) float64 { return f.Acc.Z },
	"ContactR": func(f *Filter) float64 { return boolToFloat(f.contactR) },
	"ContactL": func(f *Filter) float64 { return boolToFloat(f.contactL) },
	"TraceP":   func(f *Filter) float64 { return trace(f.p) },
}

func (f *Filter) updateLogMap() {
	for k, fn := range logFields {
		f.logMap[k] = fn(f)
	}
}
