// Package door debounces the door contact. The input has a pull-up and the
// switch pulls it low when the door opens.
package door

import (
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/logging"
)

// DebounceInterval is how long, in milliseconds, a new level must hold
// before it becomes the stable state.
const DebounceInterval = 50

// State is the door position.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateOpen    State = "OPEN"
	StateClosed  State = "CLOSED"
)

// Event is a change of the stable state.
type Event struct {
	At    uint32
	State State
}

// Counts tracks the number of stable transitions since startup.
type Counts struct {
	Opened int
	Closed int
}

// Monitor tracks the stable and pending door state.
type Monitor struct {
	in  gpio.Input
	log *logrus.Entry

	stable   State
	pending  State
	lastEdge uint32
	counts   Counts
	failing  bool
}

// NewMonitor creates a Monitor reading in. The state is unknown until the
// first level has been stable for DebounceInterval.
func NewMonitor(in gpio.Input, log *logrus.Entry) *Monitor {
	return &Monitor{
		in:      in,
		log:     log,
		stable:  StateUnknown,
		pending: StateUnknown,
	}
}

// Tick samples the input once and returns an event if the stable state
// changed. Read errors skip the sample.
func (m *Monitor) Tick(now uint32) *Event {
	high, err := m.in.Read()
	if err != nil {
		if !m.failing {
			m.log.WithError(err).Error("Door read failed")
			m.failing = true
		}
		return nil
	}
	m.failing = false
	return m.Process(high, now)
}

// Process applies one raw sample taken at now.
func (m *Monitor) Process(high bool, now uint32) *Event {
	s := StateClosed
	if !high {
		s = StateOpen
	}

	switch {
	case s == m.stable:
		m.pending = StateUnknown
	case s == m.pending:
		if clock.Since(now, m.lastEdge) >= DebounceInterval {
			m.stable = s
			m.pending = StateUnknown
			if s == StateOpen {
				m.counts.Opened++
				logging.Noticef(m.log, "Door open")
			} else {
				m.counts.Closed++
				logging.Noticef(m.log, "Door closed")
			}
			return &Event{At: now, State: s}
		}
	default:
		m.pending = s
		m.lastEdge = now
	}
	return nil
}

// State returns the stable state.
func (m *Monitor) State() State {
	return m.stable
}

// Counts returns the transition counters.
func (m *Monitor) Counts() Counts {
	return m.counts
}
