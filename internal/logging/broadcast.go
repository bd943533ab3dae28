package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is a log entry as delivered to a console session.
type Message struct {
	Time      time.Time
	Level     Level
	Facility  Facility
	Component string
	Text      string
}

const subscriptionQueue = 64

// Broadcaster is a logrus hook that queues entries for console sessions.
// Each Subscription filters by its own level and is drained by its owner.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscription is one session's view of the log.
type Subscription struct {
	b       *Broadcaster
	level   Level
	queue   []Message
	dropped int
}

// Subscribe registers a new subscription at level.
func (b *Broadcaster) Subscribe(level Level) *Subscription {
	s := &Subscription{b: b, level: level}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Levels implements logrus.Hook.
func (b *Broadcaster) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (b *Broadcaster) Fire(e *logrus.Entry) error {
	msg := Message{
		Time:      e.Time,
		Level:     EntryLevel(e),
		Facility:  EntryFacility(e),
		Component: Component(e),
		Text:      e.Message,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if !s.level.Enabled(msg.Level) {
			continue
		}
		if len(s.queue) >= subscriptionQueue {
			s.queue = s.queue[1:]
			s.dropped++
		}
		s.queue = append(s.queue, msg)
	}
	return nil
}

// Level returns the subscription's threshold.
func (s *Subscription) Level() Level {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.level
}

// SetLevel changes the subscription's threshold.
func (s *Subscription) SetLevel(l Level) {
	s.b.mu.Lock()
	s.level = l
	s.b.mu.Unlock()
}

// Drain returns queued messages and the number dropped since the last
// drain because the queue was full.
func (s *Subscription) Drain() ([]Message, int) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	msgs, dropped := s.queue, s.dropped
	s.queue, s.dropped = nil, 0
	return msgs, dropped
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.queue = nil
	s.b.mu.Unlock()
}
