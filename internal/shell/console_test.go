package shell

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

type fakePort struct {
	r   io.Reader
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestConsoleActivation(t *testing.T) {
	h := newHarness(t)
	port := &fakePort{r: strings.NewReader("")}
	c := NewConsole(h.sh, port, "ttyS0")

	tick := func() {
		h.now += 10
		c.Tick(h.now)
		h.sh.Tick(h.now)
	}

	tick()
	if !strings.Contains(port.out.String(), ActivationPrompt) {
		t.Fatalf("expected activation prompt, got %q", port.out.String())
	}

	port.out.Reset()
	c.in <- []byte("ignored")
	tick()
	if c.Active() || port.out.Len() != 0 {
		t.Fatalf("console should stay idle until ^C, got %q", port.out.String())
	}

	c.in <- []byte{keyInterrupt}
	tick()
	if !c.Active() {
		t.Fatal("^C should start a session")
	}
	if !strings.Contains(port.out.String(), "fridge-test:/$ ") {
		t.Errorf("expected prompt, got %q", port.out.String())
	}

	c.in <- []byte("su\r")
	tick()
	if c.session.Flags()&Admin != 0 {
		t.Fatal("^C session is not local; su must ask for a password")
	}
	c.in <- []byte{keyInterrupt}
	tick()

	port.out.Reset()
	c.in <- []byte("logout\r")
	tick()
	tick()
	if c.Active() {
		t.Fatal("session should have ended")
	}
	if !strings.Contains(port.out.String(), ActivationPrompt) {
		t.Errorf("expected activation prompt again, got %q", port.out.String())
	}
}

func TestConsoleLocalActivation(t *testing.T) {
	h := newHarness(t)
	port := &fakePort{r: strings.NewReader("")}
	c := NewConsole(h.sh, port, "ttyS0")

	c.in <- []byte("\x0csu\r")
	h.now += 10
	c.Tick(h.now)
	h.sh.Tick(h.now)

	if !c.Active() {
		t.Fatal("^L should start a session")
	}
	if c.session.Flags()&(Admin|Local) != Admin|Local {
		t.Errorf("flags: got %b, want local admin", c.session.Flags())
	}
	if !strings.Contains(port.out.String(), "fridge-test:/# ") {
		t.Errorf("expected admin prompt, got %q", port.out.String())
	}
}

func TestConsoleRunForwardsInput(t *testing.T) {
	h := newHarness(t)
	port := &fakePort{r: strings.NewReader("abc")}
	c := NewConsole(h.sh, port, "ttyS0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	select {
	case data := <-c.in:
		if string(data) != "abc" {
			t.Errorf("got %q, want abc", data)
		}
	case <-ctx.Done():
		t.Fatal("no input forwarded")
	}
	select {
	case <-finished:
	case <-ctx.Done():
		t.Fatal("Run should return at EOF")
	}
}
