package relay

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/logging"
)

func testEntry() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	return logging.New(logger, "relay", logging.Kern), hook
}

func TestRelayStartsOff(t *testing.T) {
	out := gpio.NewFakeOutput()
	log, _ := testEntry()

	r, err := New(out, log)
	if err != nil {
		t.Fatal(err)
	}
	if r.On() {
		t.Error("relay should start off")
	}
	if len(out.Writes) != 1 || out.Writes[0] {
		t.Errorf("writes: got %v, want [false]", out.Writes)
	}
}

func TestRelayActiveHigh(t *testing.T) {
	out := gpio.NewFakeOutput()
	log, hook := testEntry()
	r, _ := New(out, log)

	r.Set(true)
	if level, _ := out.Level(); !level {
		t.Error("relay on should drive the pin high")
	}
	if !r.On() {
		t.Error("On: got false after Set(true)")
	}
	last := hook.LastEntry()
	if last == nil || last.Message != "Relay enabled" || last.Level != logrus.DebugLevel {
		t.Errorf("log: got %+v", last)
	}
}

func TestBuzzerActiveLow(t *testing.T) {
	out := gpio.NewFakeOutput()
	log, hook := testEntry()

	b, err := NewBuzzer(out, log)
	if err != nil {
		t.Fatal(err)
	}
	if level, _ := out.Level(); !level {
		t.Error("buzzer off should drive the pin high")
	}
	b.Set(true)
	if level, _ := out.Level(); level {
		t.Error("buzzer on should drive the pin low")
	}
	if hook.LastEntry().Message != "Buzzer enabled" {
		t.Errorf("log: got %q", hook.LastEntry().Message)
	}
}

func TestSetErrorKeepsState(t *testing.T) {
	out := gpio.NewFakeOutput()
	log, _ := testEntry()
	r, _ := New(out, log)

	out.SetError = errors.New("gpio gone")
	if err := r.Set(true); err == nil {
		t.Error("expected error")
	}
	if r.On() {
		t.Error("failed write should not change the state")
	}
}

func TestNewFailsWhenPinUnwritable(t *testing.T) {
	out := gpio.NewFakeOutput()
	out.SetError = errors.New("busy")
	log, _ := testEntry()
	if _, err := New(out, log); err == nil {
		t.Error("expected error")
	}
}
