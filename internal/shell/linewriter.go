package shell

import (
	"bytes"
	"strings"
)

// LineWriter adapts a message-per-line transport to a session's output.
// Complete lines are sent as they are written; Flush sends a partial line
// such as a prompt.
type LineWriter struct {
	send    func(line string) error
	buf     []byte
	flushed bool
}

// NewLineWriter creates a LineWriter that delivers lines to send.
func NewLineWriter(send func(line string) error) *LineWriter {
	return &LineWriter{send: send}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line == "" && w.flushed {
			// end of a line already sent by Flush
			w.flushed = false
			continue
		}
		w.flushed = false
		if err := w.send(line); err != nil {
			return len(p), err
		}
	}
	if len(w.buf) > 0 {
		w.flushed = false
	}
	return len(p), nil
}

// Flush sends any partial line.
func (w *LineWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	line := string(w.buf)
	w.buf = w.buf[:0]
	w.flushed = true
	return w.send(line)
}
