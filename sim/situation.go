// Package sim synthesizes IMU and leg kinematics samples from a known legged
// robot motion, feeds them to an inekf.Filter and compares the estimate with
// the truth.
package sim

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"

	"github.com/rpl-as-ucl/serow/inekf"
	"github.com/rpl-as-ucl/serow/lie"
)

var errOutside = errors.New("sim: requested time is outside of situation")

// Situation describes the true motion of a robot over a time interval.
type Situation interface {
	BeginTime() float64
	EndTime() float64
	// Interpolate fills st with the true state at time t.
	Interpolate(t float64, st *State) error
}

// Pose is where the robot and its feet are at an instant.
type Pose struct {
	Rot                *matrix.DenseMatrix // body to world
	Pos                r3.Vector           // world frame, m
	FootR, FootL       r3.Vector           // world frame, m
	ContactR, ContactL bool
}

// Quaternion returns the body to world rotation as a unit quaternion.
func (p *Pose) Quaternion() quaternion.Quaternion {
	return inekf.QuaternionFromRotation(p.Rot)
}

// State is a Pose with the rates an IMU senses.
type State struct {
	Pose
	T     float64
	Vel   r3.Vector // world frame, m/s
	Acc   r3.Vector // world frame kinematic acceleration, m/s^2
	Omega r3.Vector // body frame, rad/s
}

// poseFunc gives the pose of an analytic situation at time t.
type poseFunc func(t float64, p *Pose)

// ddt is the half-width of the finite difference window.
const ddt = 1e-4

// differentiate fills st from a pose function by central differences. The
// window is shifted inside [begin, end] at the edges.
func differentiate(pose poseFunc, begin, end, t float64, st *State) error {
	if t < begin || t > end {
		return errOutside
	}
	t0, t1 := t-ddt, t+ddt
	if t0 < begin {
		t0, t1 = begin, begin+2*ddt
	}
	if t1 > end {
		t0, t1 = end-2*ddt, end
	}
	tm := (t0 + t1) / 2

	var p0, pm, p1 Pose
	pose(t0, &p0)
	pose(tm, &pm)
	pose(t1, &p1)
	pose(t, &st.Pose)

	h := (t1 - t0) / 2
	st.T = t
	st.Vel = p1.Pos.Sub(p0.Pos).Mul(1 / (2 * h))
	st.Acc = p1.Pos.Sub(pm.Pos.Mul(2)).Add(p0.Pos).Mul(1 / (h * h))
	st.Omega = bodyRate(p0.Rot, p1.Rot, 2*h)
	return nil
}

// bodyRate is the constant body frame rate taking r0 to r1 over dt.
func bodyRate(r0, r1 *matrix.DenseMatrix, dt float64) r3.Vector {
	m := matrix.Product(r0.Transpose(), r1)
	a := matrix.Scaled(matrix.Difference(m, m.Transpose()), 0.5)
	return lie.Vec(a).Mul(1 / dt)
}
