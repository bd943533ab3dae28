package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// File names inside the state directory.
const (
	FileName       = "config.msgpack"
	BackupFileName = "config.msgpack~"
)

// Store is the loaded settings plus the files behind them. It is owned by
// the event loop and is not safe for concurrent use.
type Store struct {
	dir string
	log *logrus.Entry
	v   Values
}

// Open loads the primary file, then the backup, and falls back to
// defaults if neither can be read.
func Open(dir string, log *logrus.Entry) *Store {
	s := &Store{dir: dir, log: log}
	s.Load()
	return s
}

func (s *Store) primary() string { return filepath.Join(s.dir, FileName) }
func (s *Store) backup() string  { return filepath.Join(s.dir, BackupFileName) }

// Load replaces the in-memory values with those on disk.
func (s *Store) Load() {
	for _, path := range []string{s.primary(), s.backup()} {
		v, err := s.read(path)
		if err != nil {
			s.log.WithError(err).Errorf("Failed to read config file %s", path)
			continue
		}
		s.log.Infof("Loading config from file %s", path)
		s.v = v
		return
	}
	s.log.Error("Config failure, using defaults")
	s.v = Defaults()
}

func (s *Store) read(path string) (Values, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Values{}, err
	}
	v := Defaults()
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return Values{}, fmt.Errorf("parse %s: %w", path, err)
	}
	v.sanitize()
	return v, nil
}

// Commit writes the primary file, reads it back and only then refreshes
// the backup, so at least one good copy survives a failed write.
func (s *Store) Commit() error {
	b, err := msgpack.Marshal(&s.v)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	s.log.Infof("Writing config file %s", s.primary())
	if err := os.WriteFile(s.primary(), b, 0o600); err != nil {
		s.log.WithError(err).Errorf("Failed to write config file %s", s.primary())
		return fmt.Errorf("write config: %w", err)
	}
	check, err := os.ReadFile(s.primary())
	if err != nil {
		s.log.WithError(err).Errorf("Failed to read back config file %s", s.primary())
		return fmt.Errorf("verify config: %w", err)
	}
	if !bytes.Equal(check, b) {
		s.log.Errorf("Config file %s did not verify", s.primary())
		return ErrVerify
	}
	if err := os.WriteFile(s.backup(), b, 0o600); err != nil {
		s.log.WithError(err).Errorf("Failed to write config file %s", s.backup())
		return fmt.Errorf("write config backup: %w", err)
	}
	return nil
}

// Values returns a copy of the current values.
func (s *Store) Values() Values {
	return s.v
}

// Minimum returns the lower setpoint in °C.
func (s *Store) Minimum() float64 { return s.v.MinimumC }

// Maximum returns the upper setpoint in °C.
func (s *Store) Maximum() float64 { return s.v.MaximumC }

// SetMinimum updates the lower setpoint and reports whether the maximum
// had to move. Non-finite values are rejected and leave the store
// unchanged.
func (s *Store) SetMinimum(c float64) (bool, error) {
	return s.v.setMinimum(c)
}

// SetMaximum updates the upper setpoint and reports whether the minimum
// had to move.
func (s *Store) SetMaximum(c float64) (bool, error) {
	return s.v.setMaximum(c)
}

// SetHostname sets the hostname; empty selects the generated default.
func (s *Store) SetHostname(name string) { s.v.Hostname = name }

// SetWiFiSSID sets the network name handed to the Wi-Fi manager.
func (s *Store) SetWiFiSSID(ssid string) { s.v.WiFiSSID = ssid }

// SetWiFiPassword sets the network password.
func (s *Store) SetWiFiPassword(pw string) { s.v.WiFiPassword = pw }

// SetAdminPasswordHash stores an encoded hash from HashPassword.
func (s *Store) SetAdminPasswordHash(hash string) { s.v.AdminPassword = hash }

// SetSyslogHost sets the remote syslog destination; empty disables it.
func (s *Store) SetSyslogHost(host string) { s.v.SyslogHost = host }

// SetSyslogLevel sets the remote syslog threshold name.
func (s *Store) SetSyslogLevel(level string) { s.v.SyslogLevel = level }

// SetSyslogMarkInterval sets the mark interval in seconds.
func (s *Store) SetSyslogMarkInterval(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	s.v.SyslogMarkInterval = seconds
}
