package sim

import (
	"context"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"

	"github.com/rpl-as-ucl/serow/inekf"
)

// Runner replays a Situation through a Filter. Predictions run every
// PredictDt and kinematic updates every UpdateDt.
type Runner struct {
	Filter    *inekf.Filter
	Situation Situation
	Noise     Noise
	PredictDt float64 // s
	UpdateDt  float64 // s
	// InitFromTruth starts the filter at the true pose and velocity.
	InitFromTruth bool

	logger golog.Logger
	rnd    *rand.Rand
}

// Step is the outcome of one prediction, with the update if one was due.
type Step struct {
	T           float64
	Truth       State
	Measurement Measurement
	Updated     bool

	Position, Velocity, Angle r3.Vector // estimate
	PosErr, VelErr            r3.Vector // estimate minus truth
	AttErr                    float64   // angle of the rotation error, rad
	YawErr                    float64   // rad
}

// Summary describes the estimation errors over a run.
type Summary struct {
	Steps, Updates int
	PosRMS, PosMax float64 // m
	VelRMS, VelMax float64 // m/s
	AttRMS, AttMax float64 // rad
	FinalPosErr    float64 // m
	FinalYawErr    float64 // rad
}

// NewRunner returns a runner predicting at the filter's timestep and
// updating on every prediction. seed fixes the sensor noise.
func NewRunner(f *inekf.Filter, sit Situation, noise Noise, seed int64, logger golog.Logger) *Runner {
	return &Runner{
		Filter:        f,
		Situation:     sit,
		Noise:         noise,
		PredictDt:     f.Dt(),
		UpdateDt:      f.Dt(),
		InitFromTruth: true,
		logger:        logger,
		rnd:           rand.New(rand.NewSource(seed)),
	}
}

// Run steps through the whole situation, calling onStep, which may be nil,
// after every prediction. It stops at the first filter error.
func (r *Runner) Run(ctx context.Context, onStep func(*Step) error) (*Summary, error) {
	if !(r.PredictDt > 0) || !(r.UpdateDt > 0) {
		return nil, errors.Errorf("sim: invalid rates, predict %v s, update %v s", r.PredictDt, r.UpdateDt)
	}
	f := r.Filter
	f.SetDt(r.PredictDt)
	kinCov := r.Noise.KinCovariance()

	var (
		st          State
		m, prev     Measurement
		step        Step
		posErr      []float64
		velErr      []float64
		attErr      []float64
		updates     int
		t           = r.Situation.BeginTime()
		tNextUpdate = t
	)

	for i := 0; t <= r.Situation.EndTime()+1e-9; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Situation.Interpolate(math.Min(t, r.Situation.EndTime()), &st); err != nil {
			return nil, errors.Wrapf(err, "interpolating at %.3f s", t)
		}
		Measure(&st, &r.Noise, r.rnd, &m)

		if i == 0 {
			if err := r.initialize(&st); err != nil {
				return nil, err
			}
			prev = m
		}

		// IMU readings are held over the step that follows them.
		if err := f.Predict(prev.Gyro, prev.Acc, m.KinR, m.KinL, m.ContactR, m.ContactL); err != nil {
			return nil, errors.Wrapf(err, "predict at %.3f s", t)
		}
		step = Step{T: t, Truth: st, Measurement: m}
		if t >= tNextUpdate-1e-9 {
			tNextUpdate += r.UpdateDt
			if i > 0 {
				if err := f.UpdateKinematics(m.KinR, m.KinL, kinCov, kinCov, m.ContactR, m.ContactL); err != nil {
					return nil, errors.Wrapf(err, "update at %.3f s", t)
				}
				step.Updated = true
				updates++
			}
		}
		if err := f.Valid(); err != nil {
			return nil, errors.Wrapf(err, "at %.3f s", t)
		}

		r.compare(&step)
		posErr = append(posErr, step.PosErr.Norm())
		velErr = append(velErr, step.VelErr.Norm())
		attErr = append(attErr, step.AttErr)
		if step.Updated && updates%100 == 0 {
			r.logger.Debugw("sim progress", "t", t, "pos_err", step.PosErr.Norm(), "mode", f.Mode().String())
		}
		if onStep != nil {
			if err := onStep(&step); err != nil {
				return nil, err
			}
		}

		prev = m
		t = r.Situation.BeginTime() + float64(i+1)*r.PredictDt
	}

	sum, err := summarize(posErr, velErr, attErr)
	if err != nil {
		return nil, err
	}
	sum.Updates = updates
	sum.FinalPosErr = step.PosErr.Norm()
	sum.FinalYawErr = step.YawErr
	r.logger.Infow("simulation complete",
		"steps", sum.Steps, "updates", sum.Updates, "pos_rms", sum.PosRMS, "att_rms", sum.AttRMS)
	return sum, nil
}

// initialize starts the filter at the truth, when asked to, before the
// first prediction.
func (r *Runner) initialize(st *State) error {
	if !r.InitFromTruth {
		return nil
	}
	if !r.Filter.FirstRun() {
		r.Filter.Reset()
	}
	if err := r.Filter.SetBodyOrientation(st.Rot); err != nil {
		return err
	}
	r.Filter.SetBodyPos(st.Pos)
	r.Filter.SetBodyVel(st.Vel)
	r.Filter.Init()
	return nil
}

func (r *Runner) compare(s *Step) {
	f := r.Filter
	s.Position, s.Velocity, s.Angle = f.Position(), f.Velocity(), f.EulerAngles()
	s.PosErr = s.Position.Sub(s.Truth.Pos)
	s.VelErr = s.Velocity.Sub(s.Truth.Vel)
	s.AttErr = rotationAngle(quaternion.Prod(quaternion.Conj(s.Truth.Quaternion()), f.Quaternion()))
	s.YawErr = wrapAngle(s.Angle.Z - inekf.EulerAngles(s.Truth.Rot).Z)
}

// rotationAngle is the angle of the rotation q, which need not be normalized.
func rotationAngle(q quaternion.Quaternion) float64 {
	v := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	return 2 * math.Atan2(v, math.Abs(q.W))
}

func wrapAngle(a float64) float64 {
	return math.Remainder(a, 2*pi)
}

func summarize(posErr, velErr, attErr []float64) (*Summary, error) {
	sum := &Summary{Steps: len(posErr)}
	var err error
	if sum.PosRMS, sum.PosMax, err = rmsMax(posErr); err != nil {
		return nil, errors.Wrap(err, "position errors")
	}
	if sum.VelRMS, sum.VelMax, err = rmsMax(velErr); err != nil {
		return nil, errors.Wrap(err, "velocity errors")
	}
	if sum.AttRMS, sum.AttMax, err = rmsMax(attErr); err != nil {
		return nil, errors.Wrap(err, "attitude errors")
	}
	return sum, nil
}

func rmsMax(xs []float64) (float64, float64, error) {
	sq := make(stats.Float64Data, len(xs))
	for i, x := range xs {
		sq[i] = x * x
	}
	ms, err := stats.Mean(sq)
	if err != nil {
		return 0, 0, err
	}
	mx, err := stats.Max(xs)
	if err != nil {
		return 0, 0, err
	}
	return math.Sqrt(ms), mx, nil
}
