package metrics

import (
	"time"

	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

// Fake records calls for test assertions.
type Fake struct {
	Scans  [][]sensors.Device
	Relay  []bool
	Door   []door.State
	Closed bool
}

func (f *Fake) RecordScan(_ time.Time, devices []sensors.Device) {
	f.Scans = append(f.Scans, append([]sensors.Device(nil), devices...))
}

func (f *Fake) RecordRelay(_ time.Time, on bool) { f.Relay = append(f.Relay, on) }

func (f *Fake) RecordDoor(_ time.Time, state door.State) { f.Door = append(f.Door, state) }

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}
