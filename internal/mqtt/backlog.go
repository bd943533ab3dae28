package mqtt

import "github.com/sirupsen/logrus"

// message is one publish waiting for the broker.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds what was published while the broker was unreachable.
//
// A retained message supersedes a queued retained message on the same
// topic: the broker would only keep the last one. Once the backlog is full
// the oldest QoS 0 message (a sensor reading) is evicted first, so door,
// relay and lifecycle events survive a long outage. The caller
// synchronizes.
type backlog struct {
	limit   int
	queue   []message
	dropped int
	log     *logrus.Entry
}

func newBacklog(limit int, log *logrus.Entry) *backlog {
	return &backlog{limit: limit, log: log}
}

func (b *backlog) add(m message) {
	if m.retained {
		for i, q := range b.queue {
			if q.retained && q.topic == m.topic {
				b.remove(i)
				break
			}
		}
	}
	if len(b.queue) >= b.limit {
		b.evict()
	}
	b.queue = append(b.queue, m)
}

func (b *backlog) evict() {
	victim := 0
	for i, q := range b.queue {
		if q.qos == 0 {
			victim = i
			break
		}
	}
	if b.dropped == 0 {
		b.log.Warnf("Offline backlog full (%d messages), dropping %s", b.limit, b.queue[victim].topic)
	}
	b.dropped++
	b.remove(victim)
}

func (b *backlog) remove(i int) {
	copy(b.queue[i:], b.queue[i+1:])
	b.queue[len(b.queue)-1] = message{}
	b.queue = b.queue[:len(b.queue)-1]
}

// take empties the backlog. It returns the queued messages in publish
// order and how many were evicted since the last take.
func (b *backlog) take() ([]message, int) {
	pending, dropped := b.queue, b.dropped
	b.queue, b.dropped = nil, 0
	return pending, dropped
}

func (b *backlog) len() int {
	return len(b.queue)
}
