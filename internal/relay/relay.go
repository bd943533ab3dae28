// Package relay drives the compressor relay and the buzzer.
package relay

import (
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/gpio"
)

// Switch is an on/off output with a logged state.
type Switch struct {
	name      string
	out       gpio.Output
	log       *logrus.Entry
	activeLow bool
	on        bool
}

// New creates the compressor relay (active high). It is driven off
// immediately, before anything else on the rail is initialised.
func New(out gpio.Output, log *logrus.Entry) (*Switch, error) {
	s := &Switch{name: "Relay", out: out, log: log}
	if err := s.Set(false); err != nil {
		return nil, err
	}
	return s, nil
}

// NewBuzzer creates the buzzer (active low), driven off.
func NewBuzzer(out gpio.Output, log *logrus.Entry) (*Switch, error) {
	s := &Switch{name: "Buzzer", out: out, log: log, activeLow: true}
	if err := s.Set(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Set drives the output. The logical state only changes if the write
// succeeds.
func (s *Switch) Set(on bool) error {
	if on {
		s.log.Debugf("%s enabled", s.name)
	} else {
		s.log.Debugf("%s disabled", s.name)
	}
	if err := s.out.Set(on != s.activeLow); err != nil {
		s.log.WithError(err).Errorf("%s write failed", s.name)
		return err
	}
	s.on = on
	return nil
}

// On returns the last state written.
func (s *Switch) On() bool {
	return s.on
}
