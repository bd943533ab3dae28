// Command fridge runs the fridge controller: it reads DS18B20 probes and the
// door switch, drives the compressor relay, and serves the shell on the
// serial console, MQTT and the web interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/app"
	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/config"
	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/homekit"
	"github.com/sweeney/fridge-controller/internal/journal"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/metrics"
	"github.com/sweeney/fridge-controller/internal/mqtt"
	"github.com/sweeney/fridge-controller/internal/onewire"
	"github.com/sweeney/fridge-controller/internal/settings"
	"github.com/sweeney/fridge-controller/internal/shell"
	"github.com/sweeney/fridge-controller/internal/status"
	"github.com/sweeney/fridge-controller/internal/web"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/fridge/config.yaml", "Configuration file")
	printState := flag.Bool("print-state", false, "Print door and relay state and exit")
	tick := flag.Duration("tick", 0, "Event loop tick interval (0 uses the config file)")

	flag.Parse()

	for {
		err := run(*configPath, *printState, *tick)
		if errors.Is(err, app.ErrRestart) {
			continue
		}
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}
}

func run(configPath string, printState bool, tick time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if tick > 0 {
		cfg.Tick = tick
	}
	board, err := gpio.LookupBoard(cfg.Board)
	if err != nil {
		return err
	}

	// The relay comes first so the compressor is off whatever fails next.
	chip, err := gpio.OpenChip(cfg.GPIOChip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()
	relayOut, err := chip.Output(board.Relay, false)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relayOut.Close()
	buzzerOut, err := chip.Output(board.Buzzer, true)
	if err != nil {
		return fmt.Errorf("init buzzer: %w", err)
	}
	defer buzzerOut.Close()
	doorIn, err := chip.Input(board.Door)
	if err != nil {
		return fmt.Errorf("init door: %w", err)
	}
	defer doorIn.Close()

	if printState {
		high, err := doorIn.Read()
		if err != nil {
			return fmt.Errorf("read door: %w", err)
		}
		doorState := "CLOSED"
		if !high {
			doorState = "OPEN"
		}
		fmt.Printf("Board: %s, Door: %s, Relay: OFF\n", board.Name, doorState)
		return nil
	}

	oneWire, err := chip.OpenDrain(board.OneWire)
	if err != nil {
		return fmt.Errorf("init 1-wire: %w", err)
	}
	defer oneWire.Close()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	base, _ := logging.NewLogger(os.Stderr, level)
	logs := logging.NewBroadcaster()
	base.AddHook(logs)
	syslog := logging.NewSyslog("fridge")
	base.AddHook(syslog)
	defer syslog.Close()
	logger := logging.New(base, "main", logging.Daemon)

	store := settings.Open(cfg.StateDir, logging.New(base, "settings", logging.Daemon))
	hostname := store.Values().Hostname
	if hostname == "" {
		hostname = defaultHostname("/etc/machine-id")
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Board:       board.Name,
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		MinOffMs:    cfg.Control.MinOff.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journalLog := logging.New(base, "journal", logging.Daemon)
	j, err := journal.Open(cfg.Journal.Path, journalLog)
	if err != nil {
		journalLog.WithError(err).Error("Journal unavailable, keeping history in memory")
		j, _ = journal.Open("", journalLog)
	}
	jctx, stopJournal := context.WithCancel(context.Background())
	go j.Run(jctx)
	defer func() {
		stopJournal()
		j.Close()
	}()

	opts := app.Options{
		Version:     version,
		Hostname:    hostname,
		MinOff:      cfg.Control.MinOff,
		Heartbeat:   cfg.MQTT.Heartbeat,
		Clock:       clock.NewMonotonic(),
		Now:         time.Now,
		Base:        base,
		Logs:        logs,
		Syslog:      syslog,
		Settings:    store,
		Tracker:     tracker,
		Relay:       relayOut,
		Buzzer:      buzzerOut,
		Door:        doorIn,
		Bus:         onewire.NewBus(onewire.NewPinLine(oneWire)),
		Journal:     j,
		Network:     readNetworkInfo,
		ConsoleName: cfg.Serial.Device,
	}

	if cfg.MQTT.Broker != "" {
		prefix := cfg.MQTT.TopicPrefix
		if prefix == "" {
			prefix = mqtt.DefaultPrefix(hostname)
		}
		publisher := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   prefix,
		}, logging.New(base, "mqtt", logging.Daemon))
		defer publisher.Close()
		opts.Publisher = publisher
		opts.MQTTStatus = publisher
	}

	if cfg.InfluxDB.Enabled {
		influx, err := metrics.Connect(metrics.Options{
			URL:    cfg.InfluxDB.URL,
			Token:  cfg.InfluxDB.Token,
			Org:    cfg.InfluxDB.Org,
			Bucket: cfg.InfluxDB.Bucket,
			Host:   hostname,
		}, logging.New(base, "influxdb", logging.Daemon))
		if err != nil {
			logger.WithError(err).Warn("InfluxDB unavailable, metrics disabled")
		} else {
			defer influx.Close()
			opts.Metrics = influx
		}
	}

	if cfg.HomeKit.Enabled {
		bridge := homekit.New(homekit.Options{
			Name:        cfg.HomeKit.Name,
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			Version:     version,
		}, logging.New(base, "homekit", logging.Daemon))
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.WithError(err).Error("HomeKit stopped")
			}
		}()
		opts.HomeKit = bridge
	}

	switch cfg.Serial.Device {
	case "":
	case "stdio":
		opts.Console = shell.Stdio()
	default:
		port, err := shell.OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return fmt.Errorf("open console: %w", err)
		}
		defer port.Close()
		opts.Console = port
	}

	a, err := app.New(opts)
	if err != nil {
		return err
	}
	if c := a.Console(); c != nil {
		go c.Run(ctx)
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, a.Shell(), logging.New(base, "web", logging.Daemon))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("HTTP server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof("HTTP status server listening on %s", cfg.HTTP.Addr)
	}

	a.Startup()
	logger.Debugf("Started: board=%s tick=%v broker=%s heartbeat=%v", board.Name, cfg.Tick, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(a, logger, ticker.C, sigCh)
}

// Loop is the part of the application driven by runLoop.
type Loop interface {
	Tick()
	Restarting() bool
	Shutdown(reason string)
}

func runLoop(l Loop, logger *logrus.Entry, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			logger.Infof("Received %v, shutting down", s)
			l.Shutdown(signalName(s))
			return nil

		case <-tick:
			l.Tick()
			if l.Restarting() {
				l.Shutdown("RESTART")
				return app.ErrRestart
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// loadConfig reads path, or uses the defaults if it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// defaultHostname derives "fridge-" plus six hex digits from the machine
// id, falling back to the kernel hostname.
func defaultHostname(machineIDPath string) string {
	if data, err := os.ReadFile(machineIDPath); err == nil {
		id := strings.TrimSpace(string(data))
		if len(id) >= 6 {
			return "fridge-" + strings.ToLower(id[len(id)-6:])
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "fridge"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
