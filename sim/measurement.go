package sim

import (
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/skelterjohn/go.matrix"

	"github.com/rpl-as-ucl/serow/inekf"
	"github.com/rpl-as-ucl/serow/lie"
)

// Noise describes the sensor errors added to the truth. Noise values are
// Gaussian standard deviations per axis.
type Noise struct {
	GyroStd  float64   // rad/s
	AccStd   float64   // m/s^2
	KinStd   float64   // foot position from leg kinematics, m
	GyroBias r3.Vector // rad/s
	AccBias  r3.Vector // m/s^2
	Gravity  float64   // m/s^2, zero means inekf.G
}

// Measurement is one synchronized set of IMU and leg kinematics readings.
type Measurement struct {
	T                  float64
	Gyro, Acc          r3.Vector // body frame
	KinR, KinL         r3.Vector // body frame foot positions
	ContactR, ContactL bool
}

// KinCovariance is the Cartesian foot position covariance matching KinStd.
func (n *Noise) KinCovariance() *matrix.DenseMatrix {
	v := n.KinStd * n.KinStd
	return matrix.Diagonal([]float64{v, v, v})
}

func (n *Noise) gravity() float64 {
	if n.Gravity == 0 {
		return inekf.G
	}
	return n.Gravity
}

func gaussian(rnd *rand.Rand, std float64) r3.Vector {
	if std == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: std * rnd.NormFloat64(), Y: std * rnd.NormFloat64(), Z: std * rnd.NormFloat64()}
}

// Measure determines the sensor readings of a true state.
// The accelerometer senses specific force, the kinematic acceleration minus
// gravity, in the body frame.
func Measure(st *State, n *Noise, rnd *rand.Rand, m *Measurement) {
	rt := st.Rot.Transpose()
	specific := st.Acc.Add(r3.Vector{Z: n.gravity()})

	m.T = st.T
	m.Gyro = st.Omega.Add(n.GyroBias).Add(gaussian(rnd, n.GyroStd))
	m.Acc = lie.Rotate(rt, specific).Add(n.AccBias).Add(gaussian(rnd, n.AccStd))
	m.KinR = lie.Rotate(rt, st.FootR.Sub(st.Pos)).Add(gaussian(rnd, n.KinStd))
	m.KinL = lie.Rotate(rt, st.FootL.Sub(st.Pos)).Add(gaussian(rnd, n.KinStd))
	m.ContactR, m.ContactL = st.ContactR, st.ContactL
}
