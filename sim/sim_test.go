package sim

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
	"go.viam.com/test"

	"github.com/rpl-as-ucl/serow/inekf"
)

func newRunner(t *testing.T, sit Situation, noise Noise) *Runner {
	t.Helper()
	logger := golog.NewTestLogger(t)
	f, err := inekf.NewFilter(nil, logger)
	test.That(t, err, test.ShouldBeNil)
	return NewRunner(f, sit, noise, 1, logger)
}

func TestStandingDerivatives(t *testing.T) {
	s := &StandingSituation{Duration: 4, Height: 0.5, StanceWidth: 0.1, SwayAmplitude: 0.02, SwayFreq: 0.5, Yaw: 0.3}
	w := 2 * pi * s.SwayFreq

	var st State
	for _, tt := range []float64{0, 0.3, 1.1, 2.5, 4} {
		test.That(t, s.Interpolate(tt, &st), test.ShouldBeNil)
		test.That(t, st.T, test.ShouldEqual, tt)
		test.That(t, st.Pos.Z, test.ShouldAlmostEqual, s.Height+s.SwayAmplitude*math.Sin(w*tt), 1e-12)
		test.That(t, st.Vel.Z, test.ShouldAlmostEqual, s.SwayAmplitude*w*math.Cos(w*tt), 1e-5)
		test.That(t, st.Acc.Z, test.ShouldAlmostEqual, -s.SwayAmplitude*w*w*math.Sin(w*tt), 1e-3)
		test.That(t, st.Omega.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, st.ContactR && st.ContactL, test.ShouldBeTrue)
		test.That(t, st.FootR.Sub(st.FootL).Norm(), test.ShouldAlmostEqual, 2*s.StanceWidth, 1e-12)
	}
	test.That(t, s.Interpolate(-0.1, &st), test.ShouldEqual, errOutside)
	test.That(t, s.Interpolate(4.1, &st), test.ShouldEqual, errOutside)
}

func TestWalkingContacts(t *testing.T) {
	s := DefaultWalking
	var st State

	// double support at the start of a step
	test.That(t, s.Interpolate(0.05, &st), test.ShouldBeNil)
	test.That(t, st.ContactR, test.ShouldBeTrue)
	test.That(t, st.ContactL, test.ShouldBeTrue)

	// right foot swings on even steps, left on odd ones
	test.That(t, s.Interpolate(0.3, &st), test.ShouldBeNil)
	test.That(t, st.ContactR, test.ShouldBeFalse)
	test.That(t, st.ContactL, test.ShouldBeTrue)
	test.That(t, st.FootR.Z, test.ShouldBeGreaterThan, 0.0)

	test.That(t, s.Interpolate(0.8, &st), test.ShouldBeNil)
	test.That(t, st.ContactR, test.ShouldBeTrue)
	test.That(t, st.ContactL, test.ShouldBeFalse)
	test.That(t, st.FootR.Z, test.ShouldEqual, 0.0)
}

func TestWalkingFeetAreContinuous(t *testing.T) {
	s := DefaultWalking
	const dt = 1e-4
	var p0, p1 Pose
	for tt := 0.0; tt+dt < s.Duration; tt += 0.01 {
		s.pose(tt, &p0)
		s.pose(tt+dt, &p1)
		test.That(t, p1.FootR.Sub(p0.FootR).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, p1.FootL.Sub(p0.FootL).Norm(), test.ShouldBeLessThan, 1e-3)
	}
}

func TestWalkingStanceFootStaysPut(t *testing.T) {
	s := DefaultWalking
	var st State
	test.That(t, s.Interpolate(1.05, &st), test.ShouldBeNil)
	left := st.FootL
	for _, tt := range []float64{1.1, 1.2, 1.3, 1.45, 1.55} {
		test.That(t, s.Interpolate(tt, &st), test.ShouldBeNil)
		test.That(t, st.ContactL, test.ShouldBeTrue)
		test.That(t, st.FootL.Sub(left).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

func TestMeasureAtRest(t *testing.T) {
	s := &StandingSituation{Duration: 1, Height: 0.5, StanceWidth: 0.1, Yaw: 0.7}
	var (
		st State
		m  Measurement
	)
	test.That(t, s.Interpolate(0.5, &st), test.ShouldBeNil)

	n := Noise{GyroBias: r3.Vector{X: 0.01}, AccBias: r3.Vector{Y: -0.1}}
	Measure(&st, &n, rand.New(rand.NewSource(1)), &m)
	test.That(t, m.T, test.ShouldEqual, 0.5)
	test.That(t, m.Gyro.Sub(n.GyroBias).Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, m.Acc.Sub(n.AccBias).Sub(r3.Vector{Z: inekf.G}).Norm(), test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, m.KinR.Sub(r3.Vector{Y: -0.1, Z: -0.5}).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, m.KinL.Sub(r3.Vector{Y: 0.1, Z: -0.5}).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, m.ContactR && m.ContactL, test.ShouldBeTrue)
}

func TestMeasureNoise(t *testing.T) {
	s := &StandingSituation{Duration: 1, Height: 0.5, StanceWidth: 0.1}
	var (
		st State
		m  Measurement
	)
	test.That(t, s.Interpolate(0.5, &st), test.ShouldBeNil)

	n := Noise{GyroStd: 0.1, AccStd: 0.1, KinStd: 0.1}
	rnd := rand.New(rand.NewSource(2))
	var sum float64
	const count = 2000
	for i := 0; i < count; i++ {
		Measure(&st, &n, rnd, &m)
		sum += m.Gyro.X * m.Gyro.X
	}
	test.That(t, math.Sqrt(sum/count), test.ShouldAlmostEqual, 0.1, 0.01)
	test.That(t, n.KinCovariance().Get(2, 2), test.ShouldAlmostEqual, 0.01, 1e-12)
}

func TestRunStanding(t *testing.T) {
	sit := &StandingSituation{Duration: 3, Height: 0.5, StanceWidth: 0.1, SwayAmplitude: 0.02, SwayFreq: 0.5}
	r := newRunner(t, sit, Noise{GyroStd: 1e-3, AccStd: 1e-2, KinStd: 1e-3})

	var steps int
	sum, err := r.Run(context.Background(), func(s *Step) error {
		steps++
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Steps, test.ShouldEqual, steps)
	test.That(t, sum.Steps, test.ShouldBeGreaterThanOrEqualTo, 300)
	test.That(t, sum.Updates, test.ShouldEqual, sum.Steps-1)
	test.That(t, sum.PosMax, test.ShouldBeLessThan, 0.05)
	test.That(t, sum.VelMax, test.ShouldBeLessThan, 0.1)
	test.That(t, sum.AttMax, test.ShouldBeLessThan, 0.05)
	test.That(t, sum.PosRMS, test.ShouldBeLessThanOrEqualTo, sum.PosMax)
	test.That(t, r.Filter.Mode(), test.ShouldEqual, inekf.DoubleContact)
}

func TestRunWalking(t *testing.T) {
	sit := *DefaultWalking
	sit.Duration = 5
	r := newRunner(t, &sit, Noise{GyroStd: 1e-3, AccStd: 1e-2, KinStd: 1e-3})
	r.UpdateDt = 0.02

	var single int
	sum, err := r.Run(context.Background(), func(s *Step) error {
		if s.Truth.ContactR != s.Truth.ContactL {
			single++
		}
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, single, test.ShouldBeGreaterThan, 0)
	test.That(t, sum.Updates, test.ShouldBeLessThan, sum.Steps)
	test.That(t, sum.PosMax, test.ShouldBeLessThan, 0.1)
	test.That(t, sum.AttMax, test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(sum.FinalYawErr), test.ShouldBeLessThan, 0.05)
}

func TestRunStops(t *testing.T) {
	sit := &StandingSituation{Duration: 1, Height: 0.5, StanceWidth: 0.1}

	t.Run("canceled", func(t *testing.T) {
		r := newRunner(t, sit, Noise{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Run(ctx, nil)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})

	t.Run("step error", func(t *testing.T) {
		r := newRunner(t, sit, Noise{})
		stop := errors.New("stop")
		var steps int
		_, err := r.Run(context.Background(), func(*Step) error {
			if steps++; steps == 10 {
				return stop
			}
			return nil
		})
		test.That(t, err, test.ShouldEqual, stop)
		test.That(t, steps, test.ShouldEqual, 10)
	})

	t.Run("bad rates", func(t *testing.T) {
		r := newRunner(t, sit, Noise{})
		r.UpdateDt = 0
		_, err := r.Run(context.Background(), nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestTruthLogRoundTrip(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "truth.csv")
	l, err := NewTruthLogger(fn)
	test.That(t, err, test.ShouldBeNil)

	sit := DefaultWalking
	var st State
	for i := 0; i <= 200; i++ {
		test.That(t, sit.Interpolate(float64(i)*0.01, &st), test.ShouldBeNil)
		test.That(t, l.Log(&st), test.ShouldBeNil)
	}
	test.That(t, l.Close(), test.ShouldBeNil)

	rec, err := NewSituationFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Records(), test.ShouldEqual, 201)
	test.That(t, rec.BeginTime(), test.ShouldEqual, 0.0)
	test.That(t, rec.EndTime(), test.ShouldAlmostEqual, 2, 1e-9)

	var got State
	for _, tt := range []float64{0.255, 0.73, 1.404} {
		test.That(t, sit.Interpolate(tt, &st), test.ShouldBeNil)
		test.That(t, rec.Interpolate(tt, &got), test.ShouldBeNil)
		test.That(t, got.Pos.Sub(st.Pos).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, got.Vel.Sub(st.Vel).Norm(), test.ShouldBeLessThan, 0.01)
		test.That(t, got.Acc.Sub(st.Acc).Norm(), test.ShouldBeLessThan, 0.1)
		test.That(t, got.Omega.Sub(st.Omega).Norm(), test.ShouldBeLessThan, 0.01)
		test.That(t, got.FootR.Sub(st.FootR).Norm(), test.ShouldBeLessThan, 0.01)
		test.That(t, got.ContactR, test.ShouldEqual, st.ContactR)
		test.That(t, got.ContactL, test.ShouldEqual, st.ContactL)
	}
	test.That(t, rec.Interpolate(2.5, &got), test.ShouldEqual, errOutside)
}

func TestReadSituationErrors(t *testing.T) {
	_, err := readSituation(strings.NewReader("T,Px\n0,1\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing column")

	header := strings.Join(truthFields, ",") + "\n"
	row := func(ts string) string {
		return ts + strings.Repeat(",0", len(truthFields)-1) + "\n"
	}
	_, err = readSituation(strings.NewReader(header + row("0") + row("0.1")))
	test.That(t, err.Error(), test.ShouldContainSubstring, "at least 3")

	_, err = readSituation(strings.NewReader(header + row("0") + row("0.2") + row("0.1")))
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not increase")

	_, err = readSituation(strings.NewReader(header + row("0") + row("x")))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRotationAngle(t *testing.T) {
	q := inekf.QuaternionFromRotation(inekf.RotationFromEuler(0.2, 0, 0))
	test.That(t, rotationAngle(q), test.ShouldAlmostEqual, 0.2, 1e-12)
	neg := quaternion.Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	test.That(t, rotationAngle(neg), test.ShouldAlmostEqual, 0.2, 1e-12)
	test.That(t, wrapAngle(2*pi-0.1), test.ShouldAlmostEqual, -0.1, 1e-12)
}
