// Package main runs the estimator on a simulated or recorded legged robot
// trajectory and reports how far the estimate strays from the truth.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/rpl-as-ucl/serow/inekf"
	"github.com/rpl-as-ucl/serow/sim"
)

const (
	flagConfig    = "config"
	flagScenario  = "scenario"
	flagDuration  = "duration"
	flagPdt       = "pdt"
	flagUdt       = "udt"
	flagGyroNoise = "gyro-noise"
	flagAccNoise  = "acc-noise"
	flagKinNoise  = "kin-noise"
	flagGyroBias  = "gyro-bias"
	flagAccBias   = "acc-bias"
	flagSeed      = "seed"
	flagOut       = "out"
	flagTruth     = "truth"
	flagDebug     = "debug"
)

func main() {
	var logger golog.Logger

	app := &cli.App{
		Name:  "inekf_sim",
		Usage: "run the contact-aided invariant EKF against a known trajectory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "load filter configuration from `FILE`"},
			&cli.StringFlag{
				Name: flagScenario, Aliases: []string{"s"}, Value: "walk",
				Usage: "stand, walk or a truth log `FILE`",
			},
			&cli.Float64Flag{Name: flagDuration, Usage: "override the scenario duration, s"},
			&cli.Float64Flag{Name: flagPdt, Value: 0.01, Usage: "prediction timestep, s"},
			&cli.Float64Flag{Name: flagUdt, Value: 0.01, Usage: "kinematics update timestep, s"},
			&cli.Float64Flag{Name: flagGyroNoise, Aliases: []string{"g"}, Value: 0.005, Usage: "gyro noise, rad/s"},
			&cli.Float64Flag{Name: flagAccNoise, Aliases: []string{"a"}, Value: 0.02, Usage: "accelerometer noise, m/s^2"},
			&cli.Float64Flag{Name: flagKinNoise, Aliases: []string{"k"}, Value: 0.002, Usage: "leg kinematics noise, m"},
			&cli.StringFlag{Name: flagGyroBias, Value: "0,0,0", Usage: "gyro bias `X,Y,Z`, rad/s"},
			&cli.StringFlag{Name: flagAccBias, Value: "0,0,0", Usage: "accelerometer bias `X,Y,Z`, m/s^2"},
			&cli.Int64Flag{Name: flagSeed, Value: 1, Usage: "noise seed"},
			&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write the estimate as CSV to `FILE`"},
			&cli.StringFlag{Name: flagTruth, Usage: "write the truth as CSV to `FILE`"},
			&cli.BoolFlag{Name: flagDebug, Aliases: []string{"vvv"}, Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = golog.NewDebugLogger("inekf_sim")
			} else {
				logger = golog.NewDevelopmentLogger("inekf_sim")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context, logger golog.Logger) error {
	cfg := inekf.DefaultConfig()
	if fn := c.String(flagConfig); fn != "" {
		var err error
		if cfg, err = inekf.LoadConfig(fn); err != nil {
			return err
		}
	}
	cfg.Dt = c.Float64(flagPdt)
	if err := cfg.Validate("flags"); err != nil {
		return err
	}

	sit, err := situation(c.String(flagScenario), c.Float64(flagDuration))
	if err != nil {
		return err
	}
	noise := sim.Noise{
		GyroStd: c.Float64(flagGyroNoise),
		AccStd:  c.Float64(flagAccNoise),
		KinStd:  c.Float64(flagKinNoise),
		Gravity: cfg.Gravity,
	}
	if noise.GyroBias, err = parseVector(c.String(flagGyroBias)); err != nil {
		return errors.Wrap(err, flagGyroBias)
	}
	if noise.AccBias, err = parseVector(c.String(flagAccBias)); err != nil {
		return errors.Wrap(err, flagAccBias)
	}

	f, err := inekf.NewFilter(cfg, logger)
	if err != nil {
		return err
	}
	r := sim.NewRunner(f, sit, noise, c.Int64(flagSeed), logger)
	r.UpdateDt = c.Float64(flagUdt)

	var est *inekf.EstimateLogger
	if fn := c.String(flagOut); fn != "" {
		if est, err = inekf.NewEstimateLogger(fn, f.LogMap()); err != nil {
			return err
		}
		defer est.Close()
	}
	var truth *sim.TruthLogger
	if fn := c.String(flagTruth); fn != "" {
		if truth, err = sim.NewTruthLogger(fn); err != nil {
			return err
		}
		defer truth.Close()
	}

	fmt.Println("Simulation parameters:")
	fmt.Printf("\tScenario: %s, %.1f s to %.1f s\n", c.String(flagScenario), sit.BeginTime(), sit.EndTime())
	fmt.Printf("\tPredict Frequency: %d Hz\n", int(1/r.PredictDt))
	fmt.Printf("\tUpdate  Frequency: %d Hz\n", int(1/r.UpdateDt))
	fmt.Printf("\tGyro noise: %f rad/s, bias %v\n", noise.GyroStd, noise.GyroBias)
	fmt.Printf("\tAccel noise: %f m/s^2, bias %v\n", noise.AccStd, noise.AccBias)
	fmt.Printf("\tKinematics noise: %f m\n", noise.KinStd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sum, err := r.Run(ctx, func(s *sim.Step) error {
		if est != nil {
			if err := est.Log(); err != nil {
				return err
			}
		}
		if truth != nil {
			return truth.Log(&s.Truth)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println("Results:")
	fmt.Printf("\tSteps: %d, updates: %d\n", sum.Steps, sum.Updates)
	fmt.Printf("\tPosition error: rms %.4f m, max %.4f m, final %.4f m\n", sum.PosRMS, sum.PosMax, sum.FinalPosErr)
	fmt.Printf("\tVelocity error: rms %.4f m/s, max %.4f m/s\n", sum.VelRMS, sum.VelMax)
	fmt.Printf("\tAttitude error: rms %.4f rad, max %.4f rad, final yaw %.4f rad\n", sum.AttRMS, sum.AttMax, sum.FinalYawErr)
	fmt.Printf("\tGyro bias: %v, accel bias: %v\n", f.GyroBias(), f.AccBias())
	return nil
}

func situation(scenario string, duration float64) (sim.Situation, error) {
	switch scenario {
	case "stand":
		s := *sim.DefaultStanding
		if duration > 0 {
			s.Duration = duration
		}
		return &s, nil
	case "walk":
		s := *sim.DefaultWalking
		if duration > 0 {
			s.Duration = duration
		}
		return &s, nil
	default:
		return sim.NewSituationFromFile(scenario)
	}
}

// parseVector reads "x,y,z".
func parseVector(s string) (r3.Vector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vector{}, errors.Errorf("%q is not x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vector{}, err
		}
		v[i] = x
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}
