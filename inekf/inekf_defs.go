package inekf

import (
	"github.com/pkg/errors"

	"github.com/rpl-as-ucl/serow/lie"
)

const (
	// G is the standard gravity magnitude, m/s^2.
	G = 9.80665

	// ErrorDim is the size of the error state: rotation, velocity, position,
	// right foot, left foot, gyro bias, accel bias.
	ErrorDim = 21
	// PoseDim is the part of the error state living on the extended group.
	PoseDim = lie.TangentDim
	// BiasDim is the size of the bias vector theta.
	BiasDim = 6
)

// Offsets of each 3-dimensional block in the error state (and in P).
const (
	idxRot      = 0
	idxVel      = 3
	idxPos      = 6
	idxFootR    = 9
	idxFootL    = 12
	idxGyroBias = 15
	idxAccBias  = 18
)

// Columns of X holding the translational parts of the state.
const (
	colVel   = 3
	colPos   = 4
	colFootR = 5
	colFootL = 6
)

var (
	// ErrInvalidTimestep is returned when a prediction is asked for with a timestep
	// that is not positive, not finite, or above the configured maximum.
	ErrInvalidTimestep = errors.New("invalid timestep")
	// ErrNotPositiveDefinite is returned when the innovation covariance cannot be
	// factorized. It points at bad noise tuning rather than a transient problem.
	ErrNotPositiveDefinite = errors.New("innovation covariance is not positive definite")
	// ErrInvalidState is returned when a NaN or Inf shows up in the estimate.
	ErrInvalidState = errors.New("estimator state contains NaN or Inf")
	// ErrInvalidMeasurement is returned for non-finite sensor input.
	ErrInvalidMeasurement = errors.New("measurement contains NaN or Inf")
	// ErrNotInitialized is returned by updates issued before the first prediction.
	ErrNotInitialized = errors.New("filter has not been initialized by a first prediction")
)

// Foot names one of the two legs.
type Foot int

const (
	// RightFoot is the foot stored in the fifth column of X.
	RightFoot Foot = iota
	// LeftFoot is the foot stored in the sixth column of X.
	LeftFoot
)

func (ft Foot) String() string {
	if ft == RightFoot {
		return "right"
	}
	return "left"
}

// errIndex is the offset of the foot's anchor in the error state.
func (ft Foot) errIndex() int {
	if ft == RightFoot {
		return idxFootR
	}
	return idxFootL
}

// column is the column of X that holds the foot's anchor.
func (ft Foot) column() int {
	if ft == RightFoot {
		return colFootR
	}
	return colFootL
}

// ContactMode selects which correction procedure a kinematics sample drives.
type ContactMode int

const (
	// NoContact means neither foot is on the ground; only predictions run.
	NoContact ContactMode = iota
	// SingleRight means only the right foot is on the ground.
	SingleRight
	// SingleLeft means only the left foot is on the ground.
	SingleLeft
	// DoubleContact means both feet are on the ground.
	DoubleContact
)

// ModeFromFlags maps the contact detector's per-foot flags to a ContactMode.
func ModeFromFlags(contactR, contactL bool) ContactMode {
	switch {
	case contactR && contactL:
		return DoubleContact
	case contactR:
		return SingleRight
	case contactL:
		return SingleLeft
	default:
		return NoContact
	}
}

func (m ContactMode) String() string {
	switch m {
	case NoContact:
		return "none"
	case SingleRight:
		return "single-right"
	case SingleLeft:
		return "single-left"
	case DoubleContact:
		return "double"
	}
	return "unknown"
}

// Feet returns the feet in contact for the mode, right first.
func (m ContactMode) Feet() []Foot {
	switch m {
	case SingleRight:
		return []Foot{RightFoot}
	case SingleLeft:
		return []Foot{LeftFoot}
	case DoubleContact:
		return []Foot{RightFoot, LeftFoot}
	}
	return nil
}
