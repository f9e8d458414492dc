package sim

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/rpl-as-ucl/serow/inekf"
	"github.com/rpl-as-ucl/serow/lie"
)

const pi = math.Pi

// StandingSituation is a robot standing on both feet while bobbing its body
// up and down.
type StandingSituation struct {
	Duration      float64 // s
	Height        float64 // body above the ground, m
	StanceWidth   float64 // lateral distance of each foot from the body, m
	SwayAmplitude float64 // vertical bob, m
	SwayFreq      float64 // Hz
	Yaw           float64 // fixed heading, rad
}

// BeginTime returns the time stamp when the situation begins.
func (s *StandingSituation) BeginTime() float64 {
	return 0
}

// EndTime returns the time stamp when the situation ends.
func (s *StandingSituation) EndTime() float64 {
	return s.Duration
}

// Interpolate fills st with the true state at time t.
func (s *StandingSituation) Interpolate(t float64, st *State) error {
	return differentiate(s.pose, s.BeginTime(), s.EndTime(), t, st)
}

func (s *StandingSituation) pose(t float64, p *Pose) {
	p.Rot = inekf.RotationFromEuler(0, 0, s.Yaw)
	p.Pos = r3.Vector{Z: s.Height + s.SwayAmplitude*math.Sin(2*pi*s.SwayFreq*t)}
	p.FootR = lie.Rotate(p.Rot, r3.Vector{Y: -s.StanceWidth})
	p.FootL = lie.Rotate(p.Rot, r3.Vector{Y: s.StanceWidth})
	p.ContactR, p.ContactL = true, true
}

// WalkingSituation is a straight-line walk along +x. Steps alternate starting
// with the right foot; each step begins with a double support phase, then the
// swing foot travels along an arc to land one step ahead of the stance foot.
type WalkingSituation struct {
	Duration       float64 // s
	Speed          float64 // forward body speed, m/s
	StepPeriod     float64 // s per step
	DoubleSupport  float64 // fraction of each step with both feet down
	Height         float64 // body above the ground, m
	StanceWidth    float64 // lateral distance of each foot from the path, m
	StepHeight     float64 // swing foot apex, m
	SwayAmplitude  float64 // lateral body sway, m
	RollAmplitude  float64 // rad
	PitchAmplitude float64 // rad
}

// BeginTime returns the time stamp when the situation begins.
func (s *WalkingSituation) BeginTime() float64 {
	return 0
}

// EndTime returns the time stamp when the situation ends.
func (s *WalkingSituation) EndTime() float64 {
	return s.Duration
}

// Interpolate fills st with the true state at time t.
func (s *WalkingSituation) Interpolate(t float64, st *State) error {
	return differentiate(s.pose, s.BeginTime(), s.EndTime(), t, st)
}

func (s *WalkingSituation) pose(t float64, p *Pose) {
	w := pi / s.StepPeriod
	p.Rot = inekf.RotationFromEuler(s.RollAmplitude*math.Sin(w*t), s.PitchAmplitude*math.Sin(2*w*t), 0)
	p.Pos = r3.Vector{X: s.Speed * t, Y: s.SwayAmplitude * math.Sin(w*t), Z: s.Height}

	k := int(math.Floor(t / s.StepPeriod))
	phase := t/s.StepPeriod - float64(k)
	p.FootR, p.ContactR = s.foot(0, k, phase)
	p.FootL, p.ContactL = s.foot(1, k, phase)
	p.FootR.Y -= s.StanceWidth
	p.FootL.Y += s.StanceWidth
}

// foot places foot f (0 right, 1 left) during step k at the given phase.
// Foot f swings on the steps with k%2 == f and lands at (k+1)*L.
func (s *WalkingSituation) foot(f, k int, phase float64) (r3.Vector, bool) {
	l := s.Speed * s.StepPeriod
	if k%2 != f {
		return r3.Vector{X: math.Max(0, float64(k)*l)}, true
	}
	start := math.Max(0, float64(k-1)*l)
	if phase < s.DoubleSupport {
		return r3.Vector{X: start}, true
	}
	end := float64(k+1) * l
	u := (phase - s.DoubleSupport) / (1 - s.DoubleSupport)
	return r3.Vector{
		X: start + (end-start)*(1-math.Cos(pi*u))/2,
		Z: s.StepHeight * math.Sin(pi*u),
	}, false
}

// DefaultStanding is a robot bobbing 2 cm at 0.5 Hz for 10 s.
var DefaultStanding = &StandingSituation{
	Duration:      10,
	Height:        0.5,
	StanceWidth:   0.1,
	SwayAmplitude: 0.02,
	SwayFreq:      0.5,
}

// DefaultWalking is a 20 s walk at 0.2 m/s with 0.5 s steps.
var DefaultWalking = &WalkingSituation{
	Duration:       20,
	Speed:          0.2,
	StepPeriod:     0.5,
	DoubleSupport:  0.2,
	Height:         0.5,
	StanceWidth:    0.1,
	StepHeight:     0.05,
	SwayAmplitude:  0.02,
	RollAmplitude:  0.03,
	PitchAmplitude: 0.02,
}
