package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is a syslog severity extended with trace, off and all. Lower values
// are more severe.
type Level int

// Levels, most severe first.
const (
	Off Level = iota - 1
	Emerg
	Alert
	Crit
	Err
	Warning
	Notice
	Info
	Debug
	Trace
	All
)

var levelNames = map[Level]string{
	Off:     "off",
	Emerg:   "emerg",
	Alert:   "alert",
	Crit:    "crit",
	Err:     "err",
	Warning: "warning",
	Notice:  "notice",
	Info:    "info",
	Debug:   "debug",
	Trace:   "trace",
	All:     "all",
}

// LevelNames lists the accepted level names in order of increasing
// verbosity.
func LevelNames() []string {
	names := make([]string, 0, len(levelNames))
	for l := Off; l <= All; l++ {
		names = append(names, levelNames[l])
	}
	return names
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts the syslog names plus a few common aliases.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	switch s {
	case "error":
		return Err, nil
	case "warn":
		return Warning, nil
	case "emergency":
		return Emerg, nil
	case "critical":
		return Crit, nil
	}
	return Off, fmt.Errorf("unknown log level %q", s)
}

// Enabled reports whether a message at severity msg passes a threshold of l.
func (l Level) Enabled(msg Level) bool {
	return msg <= l && msg != Off
}

// EntryLevel maps a logrus entry to its syslog severity. Info entries
// carrying the severity=notice field are notices.
func EntryLevel(e *logrus.Entry) Level {
	switch e.Level {
	case logrus.PanicLevel:
		return Emerg
	case logrus.FatalLevel:
		return Crit
	case logrus.ErrorLevel:
		return Err
	case logrus.WarnLevel:
		return Warning
	case logrus.InfoLevel:
		if v, ok := e.Data[SeverityField]; ok && v == Notice.String() {
			return Notice
		}
		return Info
	case logrus.DebugLevel:
		return Debug
	default:
		return Trace
	}
}
