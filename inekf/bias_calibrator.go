package inekf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
)

// ErrNotStationary is returned by a BiasCalibrator that has too few samples
// or has seen the robot move.
var ErrNotStationary = errors.New("imu not stationary long enough to calibrate")

// BiasCalibrator estimates the initial gyro and accelerometer biases and the
// initial roll and pitch from IMU samples taken while the robot stands still.
type BiasCalibrator struct {
	// MinSamples is the effective number of samples needed before calibrating.
	MinSamples float64
	// MaxGyroStd and MaxAccStd bound the per-axis spread, rad/s and m/s^2,
	// that still counts as standing still.
	MaxGyroStd, MaxAccStd float64

	gyroAcc, accAcc func(r3.Vector) (float64, r3.Vector, r3.Vector)
	decay           float64

	n                 float64
	gyroMean, accMean r3.Vector
	gyroVar, accVar   r3.Vector
}

// NewBiasCalibrator returns a calibrator whose statistics forget old samples
// with the given decay, 0 < decay < 1; values close to 1 average over more
// samples.
func NewBiasCalibrator(decay float64) *BiasCalibrator {
	return &BiasCalibrator{
		MinSamples: 100,
		MaxGyroStd: 0.02,
		MaxAccStd:  0.2,
		decay:      decay,
	}
}

// Add accumulates one raw IMU sample.
func (c *BiasCalibrator) Add(omega, acc r3.Vector) {
	if c.gyroAcc == nil {
		c.gyroAcc = newVectorAccumulator(omega, c.decay)
		c.accAcc = newVectorAccumulator(acc, c.decay)
		c.n, c.gyroMean, c.accMean = 1, omega, acc
		return
	}
	c.n, c.gyroMean, c.gyroVar = c.gyroAcc(omega)
	_, c.accMean, c.accVar = c.accAcc(acc)
}

// Samples returns the effective number of samples accumulated.
func (c *BiasCalibrator) Samples() float64 {
	return c.n
}

// Stationary reports whether enough quiet samples have been seen.
func (c *BiasCalibrator) Stationary() bool {
	if c.n < c.MinSamples {
		return false
	}
	for _, v := range []float64{c.gyroVar.X, c.gyroVar.Y, c.gyroVar.Z} {
		if math.Sqrt(v) > c.MaxGyroStd {
			return false
		}
	}
	for _, v := range []float64{c.accVar.X, c.accVar.Y, c.accVar.Z} {
		if math.Sqrt(v) > c.MaxAccStd {
			return false
		}
	}
	return true
}

// InitialOrientation levels the body from the mean specific force. Yaw is
// unobservable at rest and is set to zero.
func (c *BiasCalibrator) InitialOrientation() *matrix.DenseMatrix {
	a := c.accMean
	roll := math.Atan2(a.Y, a.Z)
	pitch := math.Atan2(-a.X, math.Hypot(a.Y, a.Z))
	return RotationFromEuler(roll, pitch, 0)
}

// Biases returns the gyro bias as the mean rate and the accelerometer bias as
// what remains of the mean specific force after removing gravity seen through
// rot.
func (c *BiasCalibrator) Biases(rot *matrix.DenseMatrix, gravity float64) (gyroBias, accBias r3.Vector) {
	up := r3.Vector{X: rot.Get(2, 0), Y: rot.Get(2, 1), Z: rot.Get(2, 2)}
	return c.gyroMean, c.accMean.Sub(up.Mul(gravity))
}

// Apply writes the calibrated orientation and biases into a filter that has
// not run its first prediction yet.
func (c *BiasCalibrator) Apply(f *Filter) error {
	if !f.FirstRun() {
		return errors.New("calibration must be applied before the first prediction")
	}
	if !c.Stationary() {
		return errors.Wrapf(ErrNotStationary, "%.0f samples", c.n)
	}
	rot := c.InitialOrientation()
	bg, ba := c.Biases(rot, f.cfg.Gravity)
	if err := f.SetBodyOrientation(rot); err != nil {
		return err
	}
	f.SetGyroBias(bg)
	f.SetAccBias(ba)
	f.logger.Infow("imu calibrated", "gyro_bias", bg, "acc_bias", ba, "angle", f.Angle)
	return nil
}
