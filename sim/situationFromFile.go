package sim

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"

	"github.com/rpl-as-ucl/serow/inekf"
)

// truthFields are the columns a truth log must carry, in any order.
var truthFields = []string{
	"T", "Px", "Py", "Pz", "Roll", "Pitch", "Yaw",
	"DRx", "DRy", "DRz", "DLx", "DLy", "DLz", "ContactR", "ContactL",
}

// SituationFromFile replays a recorded ground truth trajectory, such as one
// written by a TruthLogger or exported from motion capture. Rates are
// recovered from the records by finite differences.
type SituationFromFile struct {
	t                  []float64
	pos, vel, acc      []r3.Vector
	angle              []r3.Vector // roll, pitch, yaw
	omega              []r3.Vector
	footR, footL       []r3.Vector
	contactR, contactL []bool
}

// NewSituationFromFile reads a CSV truth log with a header line naming the
// truthFields columns. Extra columns are ignored. Records must be in
// increasing time order.
func NewSituationFromFile(fn string) (*SituationFromFile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readSituation(bufio.NewReader(f))
}

func readSituation(in io.Reader) (*SituationFromFile, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	col := make(map[string]int)
	for i, k := range header {
		col[k] = i
	}
	for _, k := range truthFields {
		if _, ok := col[k]; !ok {
			return nil, errors.Errorf("truth log is missing column %q", k)
		}
	}

	sit := new(SituationFromFile)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		v := make(map[string]float64, len(truthFields))
		for _, k := range truthFields {
			x, err := strconv.ParseFloat(rec[col[k]], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d, column %s", line, k)
			}
			v[k] = x
		}
		if n := len(sit.t); n > 0 && v["T"] <= sit.t[n-1] {
			return nil, errors.Errorf("line %d: time %v does not increase", line, v["T"])
		}
		sit.t = append(sit.t, v["T"])
		sit.pos = append(sit.pos, r3.Vector{X: v["Px"], Y: v["Py"], Z: v["Pz"]})
		sit.angle = append(sit.angle, r3.Vector{X: v["Roll"], Y: v["Pitch"], Z: v["Yaw"]})
		sit.footR = append(sit.footR, r3.Vector{X: v["DRx"], Y: v["DRy"], Z: v["DRz"]})
		sit.footL = append(sit.footL, r3.Vector{X: v["DLx"], Y: v["DLy"], Z: v["DLz"]})
		sit.contactR = append(sit.contactR, v["ContactR"] > 0.5)
		sit.contactL = append(sit.contactL, v["ContactL"] > 0.5)
	}
	if len(sit.t) < 3 {
		return nil, errors.Errorf("truth log has %d records, need at least 3", len(sit.t))
	}
	sit.differentiate()
	return sit, nil
}

// differentiate fills the rates at each record from its neighbours, with
// one-sided differences at both ends.
func (s *SituationFromFile) differentiate() {
	n := len(s.t)
	s.vel = make([]r3.Vector, n)
	s.acc = make([]r3.Vector, n)
	s.omega = make([]r3.Vector, n)
	for i := range s.t {
		i0, i1 := i-1, i+1
		if i0 < 0 {
			i0, i1 = 0, 2
		}
		if i1 >= n {
			i0, i1 = n-3, n-1
		}
		im := i0 + 1
		h0, h1 := s.t[im]-s.t[i0], s.t[i1]-s.t[im]

		s.vel[i] = s.pos[i1].Sub(s.pos[i0]).Mul(1 / (h0 + h1))
		d1 := s.pos[i1].Sub(s.pos[im]).Mul(1 / h1)
		d0 := s.pos[im].Sub(s.pos[i0]).Mul(1 / h0)
		s.acc[i] = d1.Sub(d0).Mul(2 / (h0 + h1))
		s.omega[i] = bodyRate(s.rotation(i0), s.rotation(i1), h0+h1)
	}
}

func (s *SituationFromFile) rotation(i int) *matrix.DenseMatrix {
	a := s.angle[i]
	return inekf.RotationFromEuler(a.X, a.Y, a.Z)
}

// BeginTime returns the time stamp when the records begin.
func (s *SituationFromFile) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp of the last record.
func (s *SituationFromFile) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Interpolate linearly between the records around t. Angles take the short
// way around and contact flags come from the nearer record.
func (s *SituationFromFile) Interpolate(t float64, st *State) error {
	if t < s.BeginTime() || t > s.EndTime() {
		return errOutside
	}
	ix := 0
	if t > s.t[0] {
		ix = sort.SearchFloat64s(s.t, t) - 1
	}
	if ix >= len(s.t)-1 {
		ix = len(s.t) - 2
	}

	f := (s.t[ix+1] - t) / (s.t[ix+1] - s.t[ix])
	lerp := func(v []r3.Vector) r3.Vector {
		return v[ix].Mul(f).Add(v[ix+1].Mul(1 - f))
	}
	dAngle := s.angle[ix+1].Sub(s.angle[ix])
	dAngle = r3.Vector{X: wrapAngle(dAngle.X), Y: wrapAngle(dAngle.Y), Z: wrapAngle(dAngle.Z)}
	angle := s.angle[ix].Add(dAngle.Mul(1 - f))
	near := ix
	if f < 0.5 {
		near = ix + 1
	}

	st.T = t
	st.Rot = inekf.RotationFromEuler(angle.X, angle.Y, angle.Z)
	st.Pos = lerp(s.pos)
	st.Vel = lerp(s.vel)
	st.Acc = lerp(s.acc)
	st.Omega = lerp(s.omega)
	st.FootR = lerp(s.footR)
	st.FootL = lerp(s.footL)
	st.ContactR, st.ContactL = s.contactR[near], s.contactL[near]
	return nil
}

// Records returns the number of records read.
func (s *SituationFromFile) Records() int {
	return len(s.t)
}

