// Package metrics writes temperature, relay and door time series to
// InfluxDB through the client's non-blocking batch writer.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

const (
	batchSize       = 50
	flushIntervalMs = 10000
	pingTimeout     = 5 * time.Second
)

// ErrUnhealthy is returned by Connect when the server answers but reports
// itself unhealthy.
var ErrUnhealthy = errors.New("influxdb server not healthy")

// Recorder receives the daemon's time series.
type Recorder interface {
	RecordScan(ts time.Time, devices []sensors.Device)
	RecordRelay(ts time.Time, on bool)
	RecordDoor(ts time.Time, state door.State)
	Close() error
}

// Options configures the InfluxDB connection.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Host   string
}

// Influx is a Recorder backed by InfluxDB.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	host     string
}

// Connect checks the server and returns a Recorder writing to it. Write
// failures after that are logged from a background goroutine.
func Connect(o Options, log *logrus.Entry) (*Influx, error) {
	client := influxdb2.NewClientWithOptions(o.URL, o.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMs))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping %s: %w", o.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(o.Org, o.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warnf("InfluxDB write failed: %v", err)
		}
	}()

	return &Influx{client: client, writeAPI: writeAPI, host: o.Host}, nil
}

// RecordScan writes one point per valid reading.
func (i *Influx) RecordScan(ts time.Time, devices []sensors.Device) {
	for _, p := range ScanPoints(i.host, ts, devices) {
		i.writeAPI.WritePoint(p)
	}
}

// RecordRelay writes the compressor state.
func (i *Influx) RecordRelay(ts time.Time, on bool) {
	i.writeAPI.WritePoint(RelayPoint(i.host, ts, on))
}

// RecordDoor writes the door state.
func (i *Influx) RecordDoor(ts time.Time, state door.State) {
	i.writeAPI.WritePoint(DoorPoint(i.host, ts, state))
}

// Close flushes pending points and closes the client.
func (i *Influx) Close() error {
	i.writeAPI.Flush()
	i.client.Close()
	return nil
}

// ScanPoints builds the temperature points for a scan. Failed readings are
// skipped.
func ScanPoints(host string, ts time.Time, devices []sensors.Device) []*write.Point {
	var points []*write.Point
	for _, d := range devices {
		if !d.Valid() {
			continue
		}
		points = append(points, write.NewPoint("temperature",
			map[string]string{"host": host, "sensor": d.ID.String()},
			map[string]interface{}{"celsius": d.TemperatureC},
			ts))
	}
	return points
}

// RelayPoint builds the compressor point.
func RelayPoint(host string, ts time.Time, on bool) *write.Point {
	return write.NewPoint("relay",
		map[string]string{"host": host},
		map[string]interface{}{"on": on},
		ts)
}

// DoorPoint builds the door point.
func DoorPoint(host string, ts time.Time, state door.State) *write.Point {
	return write.NewPoint("door",
		map[string]string{"host": host},
		map[string]interface{}{"open": state == door.StateOpen},
		ts)
}
