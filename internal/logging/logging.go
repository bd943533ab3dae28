// Package logging builds the logrus loggers used by every component.
//
// Each entry carries the component name and a syslog facility. logrus has
// no notice level, so notices are Info entries with severity=notice. The
// base logger always runs at trace; output is filtered per destination by
// the Output, Broadcaster and Syslog hooks, each with its own Level.
package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Entry fields.
const (
	ComponentField = "component"
	FacilityField  = "facility"
	SeverityField  = "severity"
)

// Facility is a syslog facility name.
type Facility string

// Facilities in use.
const (
	Kern   Facility = "kern"
	User   Facility = "user"
	Daemon Facility = "daemon"
	Auth   Facility = "auth"
)

// New returns an entry for component on facility.
func New(base *logrus.Logger, component string, facility Facility) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		ComponentField: component,
		FacilityField:  string(facility),
	})
}

// Noticef logs a formatted notice.
func Noticef(e *logrus.Entry, format string, args ...interface{}) {
	e.WithField(SeverityField, Notice.String()).Infof(format, args...)
}

// NewLogger creates the base logger. Local output goes to out at level.
func NewLogger(out io.Writer, level Level) (*logrus.Logger, *Output) {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.TraceLevel)

	o := &Output{
		w:         out,
		level:     level,
		formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true},
	}
	base.AddHook(o)
	return base, o
}

// Output writes entries at or above its level to a writer.
type Output struct {
	mu        sync.Mutex
	w         io.Writer
	level     Level
	formatter logrus.Formatter
}

// SetLevel changes the output threshold.
func (o *Output) SetLevel(l Level) {
	o.mu.Lock()
	o.level = l
	o.mu.Unlock()
}

// Level returns the output threshold.
func (o *Output) Level() Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Levels implements logrus.Hook.
func (o *Output) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (o *Output) Fire(e *logrus.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.level.Enabled(EntryLevel(e)) {
		return nil
	}
	b, err := o.formatter.Format(e)
	if err != nil {
		return fmt.Errorf("format entry: %w", err)
	}
	_, err = o.w.Write(b)
	return err
}

// Component returns the component name recorded on e.
func Component(e *logrus.Entry) string {
	s, _ := e.Data[ComponentField].(string)
	return s
}

// EntryFacility returns the facility recorded on e, defaulting to user.
func EntryFacility(e *logrus.Entry) Facility {
	if s, ok := e.Data[FacilityField].(string); ok && s != "" {
		return Facility(s)
	}
	return User
}
