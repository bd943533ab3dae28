//go:build linux

package gpio

import (
	"errors"
	"testing"
)

// wiredLine models an open-drain pin on a bus with a pull-up: the level is
// low while this pin or another device holds it down.
type wiredLine struct {
	driven   []int
	held     bool
	closed   bool
	writeErr error
}

func (l *wiredLine) SetValue(v int) error {
	if l.writeErr != nil {
		return l.writeErr
	}
	l.driven = append(l.driven, v)
	return nil
}

func (l *wiredLine) Value() (int, error) {
	if l.held || (len(l.driven) > 0 && l.driven[len(l.driven)-1] == 0) {
		return 0, nil
	}
	return 1, nil
}

func (l *wiredLine) Close() error {
	l.closed = true
	return nil
}

func TestRealOpenDrainWritesValues(t *testing.T) {
	l := &wiredLine{}
	r := &RealOpenDrain{line: l, offset: 4}

	if err := r.DriveLow(); err != nil {
		t.Fatal(err)
	}
	if level, _ := r.Level(); level {
		t.Error("line high while driven low")
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
	if level, _ := r.Level(); !level {
		t.Error("released line not pulled high")
	}

	// a device answering a presence pulse holds the released line low
	l.held = true
	if level, _ := r.Level(); level {
		t.Error("released line did not follow the bus")
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 1}
	if len(l.driven) != len(want) {
		t.Fatalf("values written: got %v, want %v", l.driven, want)
	}
	for i := range want {
		if l.driven[i] != want[i] {
			t.Fatalf("values written: got %v, want %v", l.driven, want)
		}
	}
	if !l.closed {
		t.Error("line not closed")
	}
}

func TestRealOpenDrainWriteError(t *testing.T) {
	l := &wiredLine{writeErr: errors.New("ebusy")}
	r := &RealOpenDrain{line: l, offset: 4}

	if err := r.DriveLow(); !errors.Is(err, l.writeErr) {
		t.Errorf("DriveLow: got %v", err)
	}
	if err := r.Close(); err == nil {
		t.Error("Close: expected error")
	}
	if !l.closed {
		t.Error("line not closed after release failed")
	}
}
