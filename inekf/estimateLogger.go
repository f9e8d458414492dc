package inekf

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// EstimateLogger writes the values of a log map, such as Filter.LogMap, as
// one CSV row per call to Log. Columns are the map keys in sorted order.
type EstimateLogger struct {
	f      *os.File
	logMap map[string]interface{}
	Header []string
	fmt    string
	vals   []interface{}
}

// NewEstimateLogger creates filename and writes the header row.
func NewEstimateLogger(filename string, logMap map[string]interface{}) (*EstimateLogger, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, "creating estimate log")
	}
	l := &EstimateLogger{f: f, logMap: logMap}

	l.Header = make([]string, 0, len(logMap))
	for k := range logMap {
		l.Header = append(l.Header, k)
	}
	sort.Strings(l.Header)

	if _, err := fmt.Fprint(l.f, strings.Join(l.Header, ","), "\n"); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "writing header"), f.Close())
	}
	s := strings.Repeat("%f,", len(l.Header))
	l.fmt = strings.TrimSuffix(s, ",") + "\n"
	l.vals = make([]interface{}, len(l.Header))
	return l, nil
}

// Log writes the current values of the log map.
func (l *EstimateLogger) Log() error {
	for i, k := range l.Header {
		l.vals[i] = l.logMap[k]
	}
	_, err := fmt.Fprintf(l.f, l.fmt, l.vals...)
	return err
}

// Close closes the log file.
func (l *EstimateLogger) Close() error {
	return l.f.Close()
}
