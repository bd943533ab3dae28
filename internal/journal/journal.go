// Package journal keeps a history of door, relay, setpoint and lifecycle
// events. Recent entries are held in memory for the shell; when a path is
// configured every entry is also written to SQLite by a background writer,
// and the most recent rows are reloaded on start.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"
)

const (
	// RecentCapacity is the number of entries kept in memory.
	RecentCapacity = 64

	queueSize       = 64
	dirPermissions  = 0750
	filePermissions = 0600
	busyTimeoutMs   = 5000
	pingTimeout     = 5 * time.Second
	timestampLayout = "2006-01-02 15:04:05"
)

var chmod = os.Chmod

// Kind classifies an entry.
type Kind string

const (
	KindDoor     Kind = "door"
	KindRelay    Kind = "relay"
	KindSetpoint Kind = "setpoint"
	KindSystem   Kind = "system"
)

// Entry is one journal record.
type Entry struct {
	At     time.Time
	Kind   Kind
	Detail string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %-8s %s", e.At.Local().Format(timestampLayout), e.Kind, e.Detail)
}

const schema = `CREATE TABLE IF NOT EXISTS events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     INTEGER NOT NULL,
	kind   TEXT    NOT NULL,
	detail TEXT    NOT NULL
)`

// Journal records entries. Record is safe to call from any goroutine and
// never blocks on the database.
type Journal struct {
	db    *sql.DB
	log   *logrus.Entry
	queue chan Entry
	done  chan struct{}

	mu     sync.Mutex
	recent []Entry
	next   int
	full   bool
}

// Open creates a Journal. An empty path keeps the history in memory only.
func Open(path string, log *logrus.Entry) (*Journal, error) {
	j := &Journal{
		log:    log,
		queue:  make(chan Entry, queueSize),
		done:   make(chan struct{}),
		recent: make([]Entry, RecentCapacity),
	}
	if path == "" {
		close(j.done)
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	if err := chmod(path, filePermissions); err != nil {
		log.Warnf("Unable to restrict journal permissions: %v", err)
	}

	j.db = db
	if err := j.reload(ctx); err != nil {
		log.Warnf("Unable to reload journal history: %v", err)
	}
	return j, nil
}

func (j *Journal) reload(ctx context.Context) error {
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, RecentCapacity)
	if err != nil {
		return err
	}
	defer rows.Close()

	var loaded []Entry
	for rows.Next() {
		var (
			at   int64
			kind string
			e    Entry
		)
		if err := rows.Scan(&at, &kind, &e.Detail); err != nil {
			return err
		}
		e.At = time.UnixMilli(at)
		e.Kind = Kind(kind)
		loaded = append(loaded, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(loaded) - 1; i >= 0; i-- {
		j.remember(loaded[i])
	}
	return nil
}

// Run writes queued entries to the database until ctx is cancelled, then
// drains the queue. It returns at once for an in-memory journal.
func (j *Journal) Run(ctx context.Context) {
	if j.db == nil {
		return
	}
	defer close(j.done)
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-j.queue:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(e Entry) {
	_, err := j.db.Exec(`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`,
		e.At.UnixMilli(), string(e.Kind), e.Detail)
	if err != nil {
		j.log.Errorf("Unable to write journal entry: %v", err)
	}
}

// Record adds an entry.
func (j *Journal) Record(at time.Time, kind Kind, format string, args ...interface{}) {
	e := Entry{At: at, Kind: kind, Detail: fmt.Sprintf(format, args...)}

	j.mu.Lock()
	j.remember(e)
	j.mu.Unlock()

	if j.db == nil {
		return
	}
	select {
	case j.queue <- e:
	default:
		j.log.Warnf("Journal queue full, entry not persisted")
	}
}

func (j *Journal) remember(e Entry) {
	j.recent[j.next] = e
	j.next = (j.next + 1) % len(j.recent)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns up to limit of the newest entries, oldest first. A limit
// of zero or less returns everything held in memory.
func (j *Journal) Recent(limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.recent)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - limit; i < n; i++ {
		idx := i
		if j.full {
			idx = (j.next + i) % len(j.recent)
		}
		out = append(out, j.recent[idx])
	}
	return out
}

// Lines renders Recent for the shell.
func (j *Journal) Lines(limit int) []string {
	entries := j.Recent(limit)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Close waits for Run to drain and closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	<-j.done
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}
