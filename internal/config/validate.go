package config

import (
	"fmt"
	"time"

	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/logging"
)

// Validate checks configuration correctness. It does not mutate cfg.
func (c *Config) Validate() error {
	if _, err := gpio.LookupBoard(c.Board); err != nil {
		return err
	}
	if c.GPIOChip == "" {
		return fmt.Errorf("gpio_chip must be set")
	}
	if c.Tick <= 0 || c.Tick > 100*time.Millisecond {
		return fmt.Errorf("tick must be between 1ns and 100ms, got %v", c.Tick)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if c.Serial.Device != "" && c.Serial.Device != "stdio" && c.Serial.Baud <= 0 {
		return fmt.Errorf("serial baud must be positive, got %d", c.Serial.Baud)
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt client_id must be set when a broker is configured")
	}
	if c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt heartbeat must not be negative")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb url, org and bucket are required when enabled")
		}
	}
	if c.HomeKit.Enabled {
		if len(c.HomeKit.Pin) != 8 {
			return fmt.Errorf("homekit pin must be 8 digits")
		}
		for _, r := range c.HomeKit.Pin {
			if r < '0' || r > '9' {
				return fmt.Errorf("homekit pin must be 8 digits")
			}
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Control.MinOff < 0 {
		return fmt.Errorf("control min_off must not be negative")
	}
	return nil
}
