package main

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/rpl-as-ucl/serow/sim"
)

func TestParseVector(t *testing.T) {
	v, err := parseVector("0.1, -2,3e-3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, r3.Vector{X: 0.1, Y: -2, Z: 3e-3})

	_, err = parseVector("1,2")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseVector("1,b,3")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSituation(t *testing.T) {
	s, err := situation("walk", 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.EndTime(), test.ShouldEqual, 3.0)
	test.That(t, sim.DefaultWalking.Duration, test.ShouldEqual, 20.0)

	s, err = situation("stand", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.EndTime(), test.ShouldEqual, sim.DefaultStanding.Duration)

	_, err = situation("no-such-file.csv", 0)
	test.That(t, err, test.ShouldNotBeNil)
}
