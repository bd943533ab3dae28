package logging

import (
	"errors"
	"fmt"
	"log/syslog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSyslogPort is appended to hosts given without a port.
const DefaultSyslogPort = "514"

var errSyslogBackoff = errors.New("syslog redial backoff")

// SyslogWriter is the subset of *syslog.Writer used by Syslog.
type SyslogWriter interface {
	Emerg(m string) error
	Alert(m string) error
	Crit(m string) error
	Err(m string) error
	Warning(m string) error
	Notice(m string) error
	Info(m string) error
	Debug(m string) error
	Close() error
}

// DialFunc opens a writer for one facility.
type DialFunc func(network, raddr string, priority syslog.Priority, tag string) (SyslogWriter, error)

func dialSyslog(network, raddr string, priority syslog.Priority, tag string) (SyslogWriter, error) {
	return syslog.Dial(network, raddr, priority, tag)
}

var facilityPriority = map[Facility]syslog.Priority{
	Kern:   syslog.LOG_KERN,
	User:   syslog.LOG_USER,
	Daemon: syslog.LOG_DAEMON,
	Auth:   syslog.LOG_AUTH,
}

// Syslog queue and reconnect limits.
const (
	SyslogQueueSize = 128
	RedialBackoff   = 30 * time.Second
)

// Syslog is a logrus hook shipping entries to a remote syslog server over
// UDP, one connection per facility. Fire and Tick only queue messages; a
// background worker owns the connections, so a slow or failing DNS lookup
// never holds up the caller.
type Syslog struct {
	mu      sync.Mutex
	tag     string
	dial    DialFunc
	now     func() time.Time
	host    string
	level   Level
	mark    time.Duration
	lastMk  time.Time
	lastErr error
	dropped int

	queue chan syslogMsg
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// owned by the worker
	writers    map[Facility]SyslogWriter
	workerHost string
	failedAt   time.Time
}

type syslogMsg struct {
	host     string
	facility Facility
	level    Level
	text     string
	flushed  chan struct{}
}

// NewSyslog creates a disabled Syslog hook that tags messages with tag and
// starts its worker. Close stops it.
func NewSyslog(tag string) *Syslog {
	s := &Syslog{
		tag:     tag,
		dial:    dialSyslog,
		now:     time.Now,
		level:   Info,
		queue:   make(chan syslogMsg, SyslogQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		writers: make(map[Facility]SyslogWriter),
	}
	go s.run()
	return s
}

// SetDialer replaces the connection factory.
func (s *Syslog) SetDialer(d DialFunc) {
	s.mu.Lock()
	s.dial = d
	s.mu.Unlock()
}

// Configure sets the destination, level and mark interval. An empty host
// disables shipping and closes the connections.
func (s *Syslog) Configure(host string, level Level, mark time.Duration) {
	s.mu.Lock()
	changed := host != s.host
	if changed {
		s.host = host
		s.lastErr = nil
	}
	s.level = level
	s.mark = mark
	s.mu.Unlock()

	if changed {
		// an empty message tells the worker to switch hosts
		s.enqueue(syslogMsg{host: host})
	}
}

// Host returns the configured destination.
func (s *Syslog) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Level returns the configured threshold.
func (s *Syslog) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Mark returns the mark interval; zero means disabled.
func (s *Syslog) Mark() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark
}

// LastError returns the most recent connection or write error.
func (s *Syslog) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Dropped returns the number of messages discarded on a full queue.
func (s *Syslog) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Levels implements logrus.Hook.
func (s *Syslog) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (s *Syslog) Fire(e *logrus.Entry) error {
	lvl := EntryLevel(e)
	s.mu.Lock()
	host, enabled := s.host, s.level.Enabled(lvl)
	s.mu.Unlock()
	if host == "" || !enabled {
		return nil
	}

	text := e.Message
	if c := Component(e); c != "" {
		text = c + ": " + text
	}
	s.enqueue(syslogMsg{host: host, facility: EntryFacility(e), level: lvl, text: text})
	return nil
}

// Tick queues a "-- MARK --" message when the mark interval has elapsed.
func (s *Syslog) Tick(now time.Time) {
	s.mu.Lock()
	host := s.host
	if host == "" || s.mark <= 0 {
		s.mu.Unlock()
		return
	}
	if s.lastMk.IsZero() {
		s.lastMk = now
		s.mu.Unlock()
		return
	}
	if now.Sub(s.lastMk) < s.mark {
		s.mu.Unlock()
		return
	}
	s.lastMk = now
	s.mu.Unlock()

	s.enqueue(syslogMsg{host: host, facility: Daemon, level: Info, text: "-- MARK --"})
}

// Flush waits until every message queued so far has been handled.
func (s *Syslog) Flush() {
	flushed := make(chan struct{})
	select {
	case s.queue <- syslogMsg{flushed: flushed}:
	case <-s.done:
		return
	}
	select {
	case <-flushed:
	case <-s.done:
	}
}

// Close sends what is queued, then stops the worker and releases all
// connections.
func (s *Syslog) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Syslog) enqueue(m syslogMsg) {
	select {
	case s.queue <- m:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *Syslog) run() {
	defer close(s.done)
	defer s.closeWriters()
	for {
		select {
		case m := <-s.queue:
			s.handle(m)
		case <-s.quit:
			for {
				select {
				case m := <-s.queue:
					s.handle(m)
				default:
					return
				}
			}
		}
	}
}

func (s *Syslog) handle(m syslogMsg) {
	if m.flushed != nil {
		close(m.flushed)
		return
	}
	if m.host != s.workerHost {
		s.closeWriters()
		s.workerHost = m.host
		s.failedAt = time.Time{}
	}
	if m.host == "" || m.text == "" {
		return
	}
	w, err := s.writer(m.facility)
	if err != nil {
		return
	}
	if err := write(w, m.level, m.text); err != nil {
		s.setErr(err)
	}
}

func (s *Syslog) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// writer returns the connection for f, dialling it if needed. After a
// failed dial nothing is dialled again until RedialBackoff has passed.
func (s *Syslog) writer(f Facility) (SyslogWriter, error) {
	if w, ok := s.writers[f]; ok {
		return w, nil
	}
	s.mu.Lock()
	dial, now := s.dial, s.now
	s.mu.Unlock()

	if !s.failedAt.IsZero() && now().Sub(s.failedAt) < RedialBackoff {
		return nil, errSyslogBackoff
	}
	prio, ok := facilityPriority[f]
	if !ok {
		prio = syslog.LOG_USER
	}
	w, err := dial("udp", hostPort(s.workerHost), prio|syslog.LOG_INFO, s.tag)
	if err != nil {
		s.failedAt = now()
		err = fmt.Errorf("dial syslog %s: %w", s.workerHost, err)
		s.setErr(err)
		return nil, err
	}
	s.failedAt = time.Time{}
	s.writers[f] = w
	return w, nil
}

func (s *Syslog) closeWriters() {
	for f, w := range s.writers {
		w.Close()
		delete(s.writers, f)
	}
}

func write(w SyslogWriter, l Level, m string) error {
	switch l {
	case Emerg:
		return w.Emerg(m)
	case Alert:
		return w.Alert(m)
	case Crit:
		return w.Crit(m)
	case Err:
		return w.Err(m)
	case Warning:
		return w.Warning(m)
	case Notice:
		return w.Notice(m)
	case Info:
		return w.Info(m)
	default:
		return w.Debug(m)
	}
}

func hostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), DefaultSyslogPort)
}
