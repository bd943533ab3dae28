// Package homekit exposes the fridge to HomeKit as a thermometer and two
// switches: the compressor, and automatic control. Characteristics are
// only touched from Run's goroutine; the event loop hands over state with
// Update and reads override requests from Commands.
package homekit

import (
	"context"
	"fmt"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	hclog "github.com/brutella/hc/log"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/control"
)

const (
	minTemperatureC = -20
	maxTemperatureC = 50
	temperatureStep = 0.1
)

// State is what the accessories display.
type State struct {
	// TemperatureC is the warmest valid reading; Valid is false when no
	// probe produced one.
	TemperatureC float64
	Valid        bool
	Relay        bool
	Mode         control.Mode
}

// Options configures the accessory.
type Options struct {
	Name        string
	Pin         string
	StoragePath string
	Version     string
}

// Bridge owns the accessories and the IP transport.
type Bridge struct {
	opts Options
	log  *logrus.Entry

	thermometer *accessory.Thermometer
	compressor  *accessory.Switch
	auto        *accessory.Switch

	updates  chan State
	commands chan control.Mode
}

// New creates the accessories. Nothing is published until Run.
func New(opts Options, log *logrus.Entry) *Bridge {
	b := &Bridge{
		opts:     opts,
		log:      log,
		updates:  make(chan State, 1),
		commands: make(chan control.Mode, 4),
	}

	b.thermometer = accessory.NewTemperatureSensor(b.info(opts.Name, 1),
		0, minTemperatureC, maxTemperatureC, temperatureStep)

	b.compressor = accessory.NewSwitch(b.info(opts.Name+" Compressor", 2))
	b.compressor.Switch.On.OnValueRemoteUpdate(b.compressorChanged)

	b.auto = accessory.NewSwitch(b.info(opts.Name+" Thermostat", 3))
	b.auto.Switch.On.OnValueRemoteUpdate(b.autoChanged)
	b.auto.Switch.On.SetValue(true)

	return b
}

func (b *Bridge) info(name string, id uint64) accessory.Info {
	return accessory.Info{
		Name:             name,
		SerialNumber:     fmt.Sprintf("%d", id),
		Manufacturer:     "fridge-controller",
		Model:            "DS18B20 relay controller",
		FirmwareRevision: b.opts.Version,
		ID:               id,
	}
}

// compressorChanged forces the relay to the requested state.
func (b *Bridge) compressorChanged(on bool) {
	if on {
		b.request(control.ForcedOn)
	} else {
		b.request(control.ForcedOff)
	}
}

// autoChanged returns to automatic control, or forces the relay off.
func (b *Bridge) autoChanged(on bool) {
	if on {
		b.request(control.Auto)
	} else {
		b.request(control.ForcedOff)
	}
}

func (b *Bridge) request(m control.Mode) {
	select {
	case b.commands <- m:
		b.log.Infof("HomeKit requested relay mode %s", m)
	default:
		b.log.Warnf("HomeKit request dropped, loop busy")
	}
}

// Commands delivers relay mode requests from HomeKit.
func (b *Bridge) Commands() <-chan control.Mode {
	return b.commands
}

// Update hands the latest state to Run. It never blocks; an update that
// has not been applied yet is replaced.
func (b *Bridge) Update(s State) {
	for {
		select {
		case b.updates <- s:
			return
		default:
		}
		select {
		case <-b.updates:
		default:
		}
	}
}

func (b *Bridge) apply(s State) {
	if s.Valid {
		b.thermometer.TempSensor.CurrentTemperature.SetValue(s.TemperatureC)
	}
	b.compressor.Switch.On.SetValue(s.Relay)
	b.auto.Switch.On.SetValue(s.Mode == control.Auto)
}

// Run publishes the accessories and applies updates until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	hclog.Debug.SetOutput(b.log.WriterLevel(logrus.TraceLevel))
	hclog.Info.SetOutput(b.log.WriterLevel(logrus.DebugLevel))

	t, err := hc.NewIPTransport(hc.Config{Pin: b.opts.Pin, StoragePath: b.opts.StoragePath},
		b.thermometer.Accessory, b.compressor.Accessory, b.auto.Accessory)
	if err != nil {
		return fmt.Errorf("homekit transport: %w", err)
	}
	go t.Start()
	b.log.Infof("HomeKit accessory %q published", b.opts.Name)

	for {
		select {
		case s := <-b.updates:
			b.apply(s)
		case <-ctx.Done():
			<-t.Stop()
			return nil
		}
	}
}
