// Package gpio provides the controller's digital lines with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import "fmt"

// Input reads a single input line.
type Input interface {
	// Read returns the raw level; true is high.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single output line.
type Output interface {
	// Set drives the raw level; true is high.
	Set(high bool) error

	// Close releases GPIO resources.
	Close() error
}

// Board describes the line offsets used on one board.
type Board struct {
	Name    string
	Relay   int // active high
	Buzzer  int // active low
	Door    int // pull-up, low when open
	OneWire int // open drain, external 4.7k pull-up
}

// Boards lists the supported pin tables.
var Boards = map[string]Board{
	"d1-mini": {Name: "d1-mini", Relay: 13, Buzzer: 14, Door: 4, OneWire: 12},
	"s2-mini": {Name: "s2-mini", Relay: 13, Buzzer: 14, Door: 4, OneWire: 12},
	"rpi":     {Name: "rpi", Relay: 17, Buzzer: 27, Door: 22, OneWire: 4},
}

// LookupBoard returns the pin table for name.
func LookupBoard(name string) (Board, error) {
	b, ok := Boards[name]
	if !ok {
		return Board{}, fmt.Errorf("unknown board %q", name)
	}
	return b, nil
}
