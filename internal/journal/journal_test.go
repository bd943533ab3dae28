package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryJournal(t *testing.T) {
	j, err := Open("", testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if got := j.Recent(0); len(got) != 0 {
		t.Fatalf("expected empty journal, got %d", len(got))
	}

	j.Record(base, KindDoor, "Door %s", "OPEN")
	j.Record(base.Add(time.Second), KindRelay, "Relay ON (auto)")

	got := j.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Kind != KindDoor || got[0].Detail != "Door OPEN" {
		t.Errorf("first: got %+v", got[0])
	}
	if got[1].Kind != KindRelay {
		t.Errorf("second: got %+v", got[1])
	}
}

func TestRecentLimitAndWrap(t *testing.T) {
	j, _ := Open("", testLog())

	total := RecentCapacity + 10
	for i := 0; i < total; i++ {
		j.Record(base.Add(time.Duration(i)*time.Second), KindSystem, "entry %d", i)
	}

	all := j.Recent(0)
	if len(all) != RecentCapacity {
		t.Fatalf("expected %d entries, got %d", RecentCapacity, len(all))
	}
	if all[0].Detail != "entry 10" {
		t.Errorf("oldest: got %q, want entry 10", all[0].Detail)
	}
	if all[len(all)-1].Detail != "entry 73" {
		t.Errorf("newest: got %q, want entry 73", all[len(all)-1].Detail)
	}

	last := j.Recent(3)
	if len(last) != 3 || last[0].Detail != "entry 71" || last[2].Detail != "entry 73" {
		t.Errorf("Recent(3): got %+v", last)
	}
}

func TestLines(t *testing.T) {
	j, _ := Open("", testLog())
	j.Record(base, KindSetpoint, "Minimum 2.00°C")

	lines := j.Lines(10)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "setpoint") || !strings.HasSuffix(lines[0], "Minimum 2.00°C") {
		t.Errorf("line: got %q", lines[0])
	}
}

func TestSQLitePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")

	j, err := Open(path, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)

	j.Record(base, KindSystem, "Startup")
	j.Record(base.Add(time.Minute), KindDoor, "Door OPEN")
	j.Record(base.Add(2*time.Minute), KindDoor, "Door CLOSED")

	cancel()
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, testLog())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	go reopened.Run(ctx2)
	defer func() {
		cancel2()
		reopened.Close()
	}()

	got := reopened.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 reloaded entries, got %d", len(got))
	}
	if got[0].Detail != "Startup" || got[2].Detail != "Door CLOSED" {
		t.Errorf("reload order: got %+v", got)
	}
	if !got[1].At.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp: got %v", got[1].At)
	}
	if got[1].Kind != KindDoor {
		t.Errorf("kind: got %q", got[1].Kind)
	}
}

func TestOpenBadPath(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be opened as a database
	if _, err := Open(dir, testLog()); err == nil {
		t.Error("expected error opening a directory")
	}
}

func TestOpenRestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	logger, hook := test.NewNullLogger()

	j, err := Open(path, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)
	defer func() {
		cancel()
		j.Close()
	}()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("permissions: got %o, want %o", perm, filePermissions)
	}
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Errorf("unexpected log: %s", e.Message)
		}
	}
}

func TestOpenWarnsWhenChmodFails(t *testing.T) {
	defer func(f func(string, os.FileMode) error) { chmod = f }(chmod)
	chmod = func(string, os.FileMode) error { return errors.New("operation not permitted") }

	logger, hook := test.NewNullLogger()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)
	defer func() {
		cancel()
		j.Close()
	}()

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.WarnLevel || !strings.Contains(e.Message, "operation not permitted") {
		t.Errorf("expected a permissions warning, got %+v", e)
	}
}
