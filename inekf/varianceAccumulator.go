package inekf

import "github.com/golang/geo/r3"

// NewVarianceAccumulator(init, decay float64) returns a function that,
// when passed a float, accumulates an exponentially weighted mean and
// variance with decay constant "decay". The accumulator is initialized
// with an observation "init" and returns the current estimates of the
// effective number of observations, the mean and the variance.
func NewVarianceAccumulator(init, decay float64) func(float64) (float64, float64, float64) {
	var (
		n float64 = 1
		m         = init
		v float64
	)

	return func(obs float64) (float64, float64, float64) {
		d := obs - m
		dm := (1 - decay) * d

		n = 1 + decay*n
		m += dm
		v = decay * (v + dm*d)
		return n, m, v
	}
}

// newVectorAccumulator runs one NewVarianceAccumulator per axis.
func newVectorAccumulator(init r3.Vector, decay float64) func(r3.Vector) (float64, r3.Vector, r3.Vector) {
	x := NewVarianceAccumulator(init.X, decay)
	y := NewVarianceAccumulator(init.Y, decay)
	z := NewVarianceAccumulator(init.Z, decay)
	return func(obs r3.Vector) (float64, r3.Vector, r3.Vector) {
		var m, v r3.Vector
		n, mx, vx := x(obs.X)
		_, my, vy := y(obs.Y)
		_, mz, vz := z(obs.Z)
		m = r3.Vector{X: mx, Y: my, Z: mz}
		v = r3.Vector{X: vx, Y: vy, Z: vz}
		return n, m, v
	}
}
