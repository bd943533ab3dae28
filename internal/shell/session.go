package shell

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

const maxLineLength = 256

// Control characters understood by the line editor.
const (
	keyInterrupt = 0x03 // ^C
	keyEOT       = 0x04 // ^D
	keyBackspace = 0x08
	keyClear     = 0x0C // ^L
	keyKillLine  = 0x15 // ^U
	keyKillWord  = 0x17 // ^W
	keyDelete    = 0x7F
)

type passwordPrompt struct {
	text string
	done func(s *Session, completed bool, password string)
}

// Session is one console attached to the shell.
type Session struct {
	shell   *Shell
	id      uuid.UUID
	name    string
	out     io.Writer
	echo    bool
	flags   Flags
	context Context
	sensor  sensors.ID
	log     *logrus.Entry

	in         chan []byte
	hangup     chan struct{}
	hangupOnce sync.Once
	done       chan struct{}
	results    chan func()
	busy       int

	pending  []byte
	line     []byte
	lastCR   bool
	password *passwordPrompt

	delaying   bool
	delayStart uint32
	delayLen   uint32
	delayed    func()

	sub      *logging.Subscription
	now      uint32
	started  bool
	stopped  bool
	writeErr error
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id.String() }

// Name returns the console name used in log messages.
func (s *Session) Name() string { return s.name }

// Flags returns the privileges the session currently holds.
func (s *Session) Flags() Flags { return s.flags }

// Context returns the current command context.
func (s *Session) Context() Context { return s.context }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues input from a transport goroutine. It returns false once the
// session has ended.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.in <- data:
		return true
	case <-s.done:
		return false
	}
}

// Input queues input from inside the event loop.
func (s *Session) Input(data []byte) {
	s.pending = append(s.pending, data...)
}

// Close ends the session on its next tick. It is safe to call from any
// goroutine, more than once.
func (s *Session) Close() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// LogLevel returns the level of log messages shown on this console.
func (s *Session) LogLevel() logging.Level {
	if s.sub == nil {
		return DefaultLogLevel
	}
	return s.sub.Level()
}

// SetLogLevel changes the level of log messages shown on this console.
func (s *Session) SetLogLevel(l logging.Level) {
	if s.sub != nil {
		s.sub.SetLevel(l)
	}
}

// Print writes text without a line ending.
func (s *Session) Print(text string) {
	s.write(text)
}

// Println writes text and a line ending.
func (s *Session) Println(text string) {
	s.write(text + "\r\n")
}

// Printfln formats and writes a line.
func (s *Session) Printfln(format string, args ...interface{}) {
	s.Println(fmt.Sprintf(format, args...))
}

// EnterPassword prompts for a line without echo. done runs with the
// entered text, or completed=false if the prompt was cancelled.
func (s *Session) EnterPassword(prompt string, done func(s *Session, completed bool, password string)) {
	s.password = &passwordPrompt{text: prompt, done: done}
}

func (s *Session) start(now uint32) {
	s.now = now
	s.started = true
	if s.shell.logs != nil {
		s.sub = s.shell.logs.Subscribe(DefaultLogLevel)
	}
	s.log.Infof("User session opened on console %s", s.name)
	if s.echo {
		s.banner()
	}
	s.showPrompt()
	s.flush()
}

func (s *Session) stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.sub != nil {
		s.sub.Close()
	}
	if s.started {
		s.log.Infof("User session closed on console %s", s.name)
	}
	close(s.done)
}

func (s *Session) tick(now uint32) {
	s.now = now

	select {
	case <-s.hangup:
		s.stop()
		return
	default:
	}

	if s.busy > 0 {
		select {
		case next := <-s.results:
			s.busy--
			next()
			s.showPrompt()
		default:
		}
	}

	if s.delaying && clock.Since(now, s.delayStart) >= s.delayLen {
		s.delaying = false
		fn := s.delayed
		s.delayed = nil
		fn()
		s.showPrompt()
	}

	s.collect()
	for len(s.pending) > 0 && s.ready() {
		b := s.pending[0]
		s.pending = s.pending[1:]
		s.handleByte(b)
	}

	if !s.stopped {
		s.showLog()
	}
	s.flush()
}

func (s *Session) collect() {
	for {
		select {
		case data := <-s.in:
			s.pending = append(s.pending, data...)
		default:
			return
		}
	}
}

// ready reports whether input can be processed now.
func (s *Session) ready() bool {
	return !s.stopped && s.busy == 0 && !s.delaying
}

// offload runs work outside the event loop. The function it returns runs
// back on the loop; input waits until then.
func (s *Session) offload(work func() func()) {
	s.busy++
	results := s.results
	go func() {
		results <- work()
	}()
}

// delayUntil holds input until ms have passed since start, then runs fn.
func (s *Session) delayUntil(start, ms uint32, fn func()) {
	s.delaying = true
	s.delayStart = start
	s.delayLen = ms
	s.delayed = fn
}

func (s *Session) handleByte(b byte) {
	if b == '\n' && s.lastCR {
		s.lastCR = false
		return
	}
	s.lastCR = b == '\r'

	switch b {
	case '\r', '\n':
		s.enter()
	case keyInterrupt:
		s.interrupt()
	case keyEOT:
		s.endOfTransmission()
	case keyBackspace, keyDelete:
		s.backspace()
	case keyClear:
		if s.echo {
			s.write("\x1B[H\x1B[2J")
			s.showPrompt()
		}
	case keyKillLine:
		s.line = s.line[:0]
		s.redraw()
	case keyKillWord:
		s.killWord()
	case '\t':
		if s.echo {
			s.completeLine()
		} else {
			s.insert(' ')
		}
	default:
		if b >= 0x20 {
			s.insert(b)
		}
	}
}

func (s *Session) insert(b byte) {
	if len(s.line) >= maxLineLength {
		return
	}
	s.line = append(s.line, b)
	if s.echo && s.password == nil {
		s.write(string([]byte{b}))
	}
}

func (s *Session) enter() {
	line := string(s.line)
	s.line = s.line[:0]
	s.write("\r\n")

	if p := s.password; p != nil {
		s.password = nil
		p.done(s, true, line)
	} else {
		s.execute(line)
	}
	s.showPrompt()
}

func (s *Session) interrupt() {
	s.line = s.line[:0]
	if s.echo {
		s.write("^C")
	}
	s.write("\r\n")
	if p := s.password; p != nil {
		s.password = nil
		p.done(s, false, "")
	}
	s.showPrompt()
}

// endOfTransmission leaves the current context, drops admin or logs out,
// in that order of preference. It only acts on an empty line.
func (s *Session) endOfTransmission() {
	if len(s.line) != 0 {
		return
	}
	if s.password != nil {
		s.interrupt()
		return
	}
	s.write("\r\n")
	if s.context != MainContext || s.flags&Admin != 0 {
		s.execute("exit")
	} else {
		s.execute("logout")
	}
	s.showPrompt()
}

func (s *Session) backspace() {
	if len(s.line) == 0 {
		return
	}
	i := len(s.line) - 1
	for i > 0 && s.line[i]&0xC0 == 0x80 {
		i--
	}
	s.line = s.line[:i]
	if s.echo && s.password == nil {
		s.write("\b \b")
	}
}

func (s *Session) killWord() {
	i := len(s.line)
	for i > 0 && s.line[i-1] == ' ' {
		i--
	}
	for i > 0 && s.line[i-1] != ' ' {
		i--
	}
	s.line = s.line[:i]
	s.redraw()
}

func (s *Session) completeLine() {
	if s.password != nil {
		return
	}
	line, candidates := s.shell.commands.complete(s, s.context, s.flags, string(s.line))
	if len(line) > maxLineLength {
		return
	}
	s.line = []byte(line)
	if len(candidates) > 0 {
		s.write("\r\n" + strings.Join(candidates, "  ") + "\r\n")
		s.showPrompt()
		return
	}
	s.redraw()
}

// redraw rewrites the prompt and the line being edited.
func (s *Session) redraw() {
	if !s.echo || s.password != nil {
		return
	}
	s.write("\r\x1B[K")
	s.showPrompt()
}

func (s *Session) execute(line string) {
	words, err := splitWords(line)
	if err != nil {
		s.Println("Unterminated quotes")
		return
	}
	if len(words) == 0 {
		return
	}

	cmd, args, err := s.shell.commands.Find(s.context, s.flags, words)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		s.Println("Command not found")
	case errors.Is(err, ErrMissingArgument):
		s.Printfln("Insufficient arguments for command: %s", cmd.Usage())
	case errors.Is(err, ErrTooManyArguments):
		s.Printfln("Too many arguments for command: %s", cmd.Usage())
	default:
		cmd.Run(s, args)
	}
}

func (s *Session) promptText() string {
	host := "fridge"
	if s.shell.env.Hostname != nil {
		host = s.shell.env.Hostname()
	}
	ctx := "/"
	if s.context == SensorContext {
		ctx = s.sensor.String()
	}
	suffix := "$"
	if s.flags&Admin != 0 {
		suffix = "#"
	}
	return host + ":" + ctx + suffix + " "
}

func (s *Session) showPrompt() {
	if !s.ready() {
		return
	}
	if s.password != nil {
		s.write(s.password.text)
		return
	}
	s.write(s.promptText())
	if s.echo {
		s.write(string(s.line))
	}
}

func (s *Session) showLog() {
	if s.sub == nil {
		return
	}
	msgs, dropped := s.sub.Drain()
	if len(msgs) == 0 && dropped == 0 {
		return
	}

	redraw := s.echo && s.ready()
	if redraw {
		s.write("\r\x1B[K")
	}
	if dropped > 0 {
		s.Printfln("*** %d log messages dropped ***", dropped)
	}
	for _, m := range msgs {
		s.Println(formatMessage(m))
	}
	if redraw {
		s.showPrompt()
	}
}

func formatMessage(m logging.Message) string {
	return fmt.Sprintf("%s %-7s %s: %s",
		m.Time.Format("2006-01-02 15:04:05.000"),
		strings.ToUpper(m.Level.String()),
		m.Component, m.Text)
}

func (s *Session) banner() {
	s.Println("fridge " + s.shell.env.Version)
	s.Println("")
	s.Println("┌─────────────────────────────────────────────────────────────────────────┐")
	s.Println("│“I do believe,” said Detritus, “that I am genuinely cogitating. How very │")
	s.Println("│interesting!” .... More ice cascaded off Detritus as he rubbed his head. │")
	s.Println("│“Of course!” he said, holding up a giant finger. “Superconductivity!”    │")
	s.Println("└─────────────────────────────────────────────────────────────────────────┘")
	s.Println("")
}

func (s *Session) write(text string) {
	if s.writeErr != nil {
		return
	}
	if _, err := io.WriteString(s.out, text); err != nil {
		s.writeErr = err
		s.log.WithError(err).Debugf("Write failed on console %s", s.name)
		s.Close()
	}
}

func (s *Session) flush() {
	f, ok := s.out.(interface{ Flush() error })
	if !ok || s.writeErr != nil {
		return
	}
	if err := f.Flush(); err != nil {
		s.writeErr = err
		s.Close()
	}
}
