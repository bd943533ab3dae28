package shell

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/settings"
)

// InvalidPasswordDelay is how long a failed su waits before it answers, in
// milliseconds.
const InvalidPasswordDelay = 3000

// DefaultLogLevel is the log level of a new session.
const DefaultLogLevel = logging.Notice

// Control is the relay override the shell can change.
type Control interface {
	Mode() control.Mode
	SetMode(m control.Mode)
	MinOffRemaining(now uint32) uint32
}

// Env holds what commands act on. Each field is supplied by the owner of
// the event loop; a nil function leaves its section out of show output.
type Env struct {
	Version  string
	Settings *settings.Store

	Hostname func() string
	Devices  func() []sensors.Device
	Control  Control
	Relay    func() bool
	Door     func() (door.State, door.Counts)
	Network  func() []string
	History  func(limit int) []string
	Uptime   func() time.Duration

	// ApplySyslog is called after the syslog settings change.
	ApplySyslog func()
	Restart     func()

	// Verify and Hash default to the settings package's Argon2id functions.
	Verify func(password, encoded string) (bool, error)
	Hash   func(password string) (string, error)
}

const openingQueueSize = 8

// Shell owns the command registry and all running sessions.
type Shell struct {
	commands *Commands
	env      *Env
	log      *logrus.Entry
	logs     *logging.Broadcaster

	opening  chan *Session
	sessions []*Session
}

// New creates a Shell. Session log output is taken from logs.
func New(commands *Commands, env *Env, base *logrus.Logger, logs *logging.Broadcaster) *Shell {
	if env.Verify == nil {
		env.Verify = settings.VerifyPassword
	}
	if env.Hash == nil {
		env.Hash = settings.HashPassword
	}
	return &Shell{
		commands: commands,
		env:      env,
		log:      logging.New(base, "shell", logging.Auth),
		logs:     logs,
		opening:  make(chan *Session, openingQueueSize),
	}
}

// ErrTooManyPending is returned by Open when sessions are arriving faster
// than the loop starts them.
var ErrTooManyPending = errors.New("too many sessions waiting to start")

func (sh *Shell) newSession(name string, out io.Writer, flags Flags, echo bool) *Session {
	id := uuid.New()
	if name == "" {
		name = id.String()
	}
	return &Session{
		shell:   sh,
		id:      id,
		name:    name,
		out:     out,
		echo:    echo,
		flags:   flags,
		log:     sh.log.WithField("session", id.String()),
		in:      make(chan []byte, 16),
		hangup:  make(chan struct{}),
		done:    make(chan struct{}),
		results: make(chan func(), 1),
	}
}

// Open creates a session on out from a transport goroutine. The session
// starts on the next Tick. Open never waits: if openingQueueSize sessions
// are already waiting it returns ErrTooManyPending. Echo selects character
// echo and line redraws for terminal consoles.
func (sh *Shell) Open(name string, out io.Writer, flags Flags, echo bool) (*Session, error) {
	s := sh.newSession(name, out, flags, echo)
	select {
	case sh.opening <- s:
		return s, nil
	default:
		sh.log.Warnf("Refusing session on console %s: %v", s.name, ErrTooManyPending)
		return nil, ErrTooManyPending
	}
}

// Attach creates and starts a session immediately. It must only be called
// from the event loop, outside Tick.
func (sh *Shell) Attach(now uint32, name string, out io.Writer, flags Flags, echo bool) *Session {
	s := sh.newSession(name, out, flags, echo)
	s.start(now)
	sh.sessions = append(sh.sessions, s)
	return s
}

// Tick starts new sessions and runs every session's input.
func (sh *Shell) Tick(now uint32) {
	sh.startOpened(now)

	alive := sh.sessions[:0]
	for _, s := range sh.sessions {
		s.tick(now)
		if !s.stopped {
			alive = append(alive, s)
		}
	}
	for i := len(alive); i < len(sh.sessions); i++ {
		sh.sessions[i] = nil
	}
	sh.sessions = alive
}

func (sh *Shell) startOpened(now uint32) {
	for {
		select {
		case s := <-sh.opening:
			s.start(now)
			sh.sessions = append(sh.sessions, s)
		default:
			return
		}
	}
}

// Sessions returns the number of running sessions.
func (sh *Shell) Sessions() int {
	return len(sh.sessions)
}

// Shutdown ends every session.
func (sh *Shell) Shutdown() {
	for _, s := range sh.sessions {
		s.stop()
	}
	sh.sessions = nil
}
