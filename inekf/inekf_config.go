package inekf

import (
	"encoding/json"
	"math"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"go.uber.org/multierr"

	"github.com/rpl-as-ucl/serow/lie"
)

// Config holds the noise model and numerical settings of a Filter.
// Standard deviations are per body axis.
type Config struct {
	Gravity             float64 `json:"gravity"`              // m/s^2, acts along -z in the world frame
	Dt                  float64 `json:"dt"`                   // default timestep, s
	MaxDt               float64 `json:"max_dt"`               // larger timesteps are rejected, s
	SmallAngle          float64 `json:"small_angle"`          // Taylor fallback threshold, rad
	ExactDiscretization bool    `json:"exact_discretization"` // Phi by matrix exponential instead of 2nd order Taylor

	GyroStd        [3]float64 `json:"gyro_std"`         // rad/s
	AccStd         [3]float64 `json:"acc_std"`          // m/s^2
	GyroBiasStd    [3]float64 `json:"gyro_bias_std"`    // random walk, rad/s^2
	AccBiasStd     [3]float64 `json:"acc_bias_std"`     // random walk, m/s^3
	FootContactStd [3]float64 `json:"foot_contact_std"` // foot slip process noise, m/s
	FootKinStd     [3]float64 `json:"foot_kin_std"`     // added to the kinematics covariance, m

	PriorRotStd      float64 `json:"prior_rot_std"`       // rad
	PriorVelStd      float64 `json:"prior_vel_std"`       // m/s
	PriorPosStd      float64 `json:"prior_pos_std"`       // m
	PriorFootStd     float64 `json:"prior_foot_std"`      // m
	PriorGyroBiasStd float64 `json:"prior_gyro_bias_std"` // rad/s
	PriorAccBiasStd  float64 `json:"prior_acc_bias_std"`  // m/s^2
}

// DefaultConfig returns values suited to a small humanoid sampled at 100 Hz.
func DefaultConfig() *Config {
	return &Config{
		Gravity:    G,
		Dt:         0.01,
		MaxDt:      0.5,
		SmallAngle: lie.DefaultEpsilon,

		GyroStd:        [3]float64{0.009, 0.009, 0.009},
		AccStd:         [3]float64{0.04, 0.04, 0.04},
		GyroBiasStd:    [3]float64{1e-4, 1e-4, 1e-4},
		AccBiasStd:     [3]float64{1e-3, 1e-3, 1e-3},
		FootContactStd: [3]float64{0.01, 0.01, 0.01},
		FootKinStd:     [3]float64{0.01, 0.01, 0.01},

		PriorRotStd:      0.05,
		PriorVelStd:      0.1,
		PriorPosStd:      0.01,
		PriorFootStd:     0.01,
		PriorGyroBiasStd: 0.01,
		PriorAccBiasStd:  0.05,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their DefaultConfig values.
func LoadConfig(fn string) (*Config, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", fn)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", fn)
	}
	if err := cfg.Validate(fn); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromAttributes decodes a loosely typed attribute map, as found in a
// robot's component config, on top of DefaultConfig.
func ConfigFromAttributes(attrs map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "decoding filter attributes")
	}
	if err := cfg.Validate("attributes"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field, prefixed with path.
func (cfg *Config) Validate(path string) error {
	var err error
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			err = multierr.Append(err, errors.Errorf("%s: %q must be positive, got %v", path, name, v))
		}
	}
	nonNegative := func(name string, v float64) {
		if !(v >= 0) || math.IsInf(v, 0) {
			err = multierr.Append(err, errors.Errorf("%s: %q must be non-negative, got %v", path, name, v))
		}
	}
	nonNegative3 := func(name string, v [3]float64) {
		for i := range v {
			if !(v[i] >= 0) || math.IsInf(v[i], 0) {
				err = multierr.Append(err, errors.Errorf("%s: %q[%d] must be non-negative, got %v", path, name, i, v[i]))
			}
		}
	}

	positive("gravity", cfg.Gravity)
	positive("max_dt", cfg.MaxDt)
	positive("small_angle", cfg.SmallAngle)
	nonNegative("dt", cfg.Dt)
	if cfg.Dt > cfg.MaxDt {
		err = multierr.Append(err, errors.Errorf("%s: \"dt\" %v exceeds \"max_dt\" %v", path, cfg.Dt, cfg.MaxDt))
	}

	nonNegative3("gyro_std", cfg.GyroStd)
	nonNegative3("acc_std", cfg.AccStd)
	nonNegative3("gyro_bias_std", cfg.GyroBiasStd)
	nonNegative3("acc_bias_std", cfg.AccBiasStd)
	nonNegative3("foot_contact_std", cfg.FootContactStd)
	nonNegative3("foot_kin_std", cfg.FootKinStd)

	nonNegative("prior_rot_std", cfg.PriorRotStd)
	nonNegative("prior_vel_std", cfg.PriorVelStd)
	nonNegative("prior_pos_std", cfg.PriorPosStd)
	nonNegative("prior_foot_std", cfg.PriorFootStd)
	nonNegative("prior_gyro_bias_std", cfg.PriorGyroBiasStd)
	nonNegative("prior_acc_bias_std", cfg.PriorAccBiasStd)
	return err
}

// gravity is the gravity vector in the world frame.
func (cfg *Config) gravity() r3.Vector {
	return r3.Vector{Z: -cfg.Gravity}
}

// processNoise builds the continuous-time noise covariance Qc over the error state.
// Position has no direct noise: it is the integral of velocity.
func (cfg *Config) processNoise() *matrix.DenseMatrix {
	d := make([]float64, ErrorDim)
	for i := 0; i < 3; i++ {
		d[idxRot+i] = cfg.GyroStd[i] * cfg.GyroStd[i]
		d[idxVel+i] = cfg.AccStd[i] * cfg.AccStd[i]
		d[idxFootR+i] = cfg.FootContactStd[i] * cfg.FootContactStd[i]
		d[idxFootL+i] = cfg.FootContactStd[i] * cfg.FootContactStd[i]
		d[idxGyroBias+i] = cfg.GyroBiasStd[i] * cfg.GyroBiasStd[i]
		d[idxAccBias+i] = cfg.AccBiasStd[i] * cfg.AccBiasStd[i]
	}
	return matrix.Diagonal(d)
}

// prior builds the initial error covariance.
func (cfg *Config) prior() *matrix.DenseMatrix {
	stds := []float64{
		cfg.PriorRotStd, cfg.PriorVelStd, cfg.PriorPosStd, cfg.PriorFootStd, cfg.PriorFootStd,
		cfg.PriorGyroBiasStd, cfg.PriorAccBiasStd,
	}
	d := make([]float64, ErrorDim)
	for b, s := range stds {
		for i := 0; i < 3; i++ {
			d[3*b+i] = s * s
		}
	}
	return matrix.Diagonal(d)
}

// kinematicNoise is the diagonal added to every foot kinematics covariance.
func (cfg *Config) kinematicNoise() [3]float64 {
	var n [3]float64
	for i := range n {
		n[i] = cfg.FootKinStd[i] * cfg.FootKinStd[i]
	}
	return n
}
