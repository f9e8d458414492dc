package sim

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rpl-as-ucl/serow/inekf"
)

// TruthLogger writes true states as CSV in the format read by
// NewSituationFromFile.
type TruthLogger struct {
	f   *os.File
	fmt string
}

// NewTruthLogger creates fn and writes the header row.
func NewTruthLogger(fn string) (*TruthLogger, error) {
	f, err := os.Create(fn)
	if err != nil {
		return nil, errors.Wrap(err, "creating truth log")
	}
	l := &TruthLogger{f: f}
	if _, err := fmt.Fprint(l.f, strings.Join(truthFields, ","), "\n"); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "writing header"), f.Close())
	}
	s := strings.Repeat("%.9f,", len(truthFields))
	l.fmt = strings.TrimSuffix(s, ",") + "\n"
	return l, nil
}

// Log writes one true state.
func (l *TruthLogger) Log(st *State) error {
	a := inekf.EulerAngles(st.Rot)
	_, err := fmt.Fprintf(l.f, l.fmt,
		st.T, st.Pos.X, st.Pos.Y, st.Pos.Z, a.X, a.Y, a.Z,
		st.FootR.X, st.FootR.Y, st.FootR.Z, st.FootL.X, st.FootL.Y, st.FootL.Z,
		boolToFloat(st.ContactR), boolToFloat(st.ContactL))
	return err
}

// Close closes the log file.
func (l *TruthLogger) Close() error {
	return l.f.Close()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
