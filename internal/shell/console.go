package shell

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"
)

// ActivationPrompt is printed on an idle serial console.
const ActivationPrompt = "Press ^C to activate this console"

// OpenSerial opens a serial device at baud, 8N1.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(&serial.Config{
		Address:  device,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
}

// Stdio returns the process's standard input and output as a console
// port.
func Stdio() io.ReadWriter {
	return struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
}

// Console is a local terminal. It stays idle until ^C starts a user
// session or ^L a local one, and offers itself again when the session
// ends.
type Console struct {
	shell   *Shell
	port    io.ReadWriter
	name    string
	log     *logrus.Entry
	in      chan []byte
	session *Session
	idle    bool
}

// NewConsole creates a console on port.
func NewConsole(sh *Shell, port io.ReadWriter, name string) *Console {
	return &Console{
		shell: sh,
		port:  port,
		name:  name,
		log:   sh.log.WithField("console", name),
		in:    make(chan []byte, 16),
	}
}

// Run reads the port until ctx is cancelled or the port reports EOF.
// Closing the port unblocks a pending read.
func (c *Console) Run(ctx context.Context) {
	buf := make([]byte, 64)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case c.in <- data:
			case <-ctx.Done():
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			c.log.Debug("Console input closed")
			return
		}
		// read timeouts are expected while the line is quiet
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Tick starts or feeds the session. It runs before Shell.Tick.
func (c *Console) Tick(now uint32) {
	if c.session != nil {
		select {
		case <-c.session.Done():
			c.session = nil
			c.idle = false
		default:
		}
	}
	if c.session == nil && !c.idle {
		io.WriteString(c.port, "\r\n"+ActivationPrompt+"\r\n")
		c.idle = true
	}

	for {
		select {
		case data := <-c.in:
			c.receive(now, data)
		default:
			return
		}
	}
}

func (c *Console) receive(now uint32, data []byte) {
	if c.session != nil {
		c.session.Input(data)
		return
	}
	for i, b := range data {
		if b != keyInterrupt && b != keyClear {
			continue
		}
		flags := User
		if b == keyClear {
			flags |= Local
		}
		c.session = c.shell.Attach(now, c.name, c.port, flags, true)
		c.session.Input(data[i+1:])
		return
	}
}

// Active reports whether a session is running on the console.
func (c *Console) Active() bool {
	return c.session != nil
}
