package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/sensors"
)

const (
	backlogLimit   = 256
	consoleBacklog = 32
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
}

// RealPublisher publishes to an actual MQTT broker. It never blocks the
// caller on the network: messages published while disconnected are held
// in a backlog and replayed on reconnect.
type RealPublisher struct {
	client  paho.Client
	topics  Topics
	log     *logrus.Entry
	console chan string

	mu        sync.Mutex
	backlog   *backlog
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. The
// connection is made in the background and retried until Close.
func NewRealPublisher(o Options, log *logrus.Entry) *RealPublisher {
	p := &RealPublisher{
		topics:  NewTopics(o.Prefix),
		log:     log,
		console: make(chan string, consoleBacklog),
		backlog: newBacklog(backlogLimit, log),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.Infof("Connecting to MQTT broker %s", o.Broker)
	return p
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending, dropped := p.backlog.take()
	p.mu.Unlock()

	p.log.Infof("Connected to MQTT broker")

	c.Subscribe(p.topics.ConsoleIn, 1, p.handleConsole)

	for _, msg := range pending {
		p.send(msg)
	}
	if len(pending) > 0 {
		p.log.Infof("Replayed %d messages published while offline", len(pending))
	}
	if dropped > 0 {
		p.log.Warnf("Dropped %d messages while offline", dropped)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		p.send(message{topic: p.topics.System, payload: payload, qos: 1})
	}
}

func (p *RealPublisher) handleConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warnf("MQTT connection lost: %v", err)
}

func (p *RealPublisher) handleConsole(_ paho.Client, msg paho.Message) {
	for _, line := range strings.Split(strings.TrimRight(string(msg.Payload()), "\r\n"), "\n") {
		select {
		case p.console <- strings.TrimSuffix(line, "\r"):
		default:
			p.log.Warnf("Console input backlog full, dropping line")
			return
		}
	}
}

// send hands msg to the client and reports a failure in the background.
func (p *RealPublisher) send(msg message) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warnf("Publish to %s timed out", msg.topic)
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warnf("Publish to %s failed: %v", msg.topic, err)
		}
	}()
}

func (p *RealPublisher) publish(msg message, keep bool) error {
	p.mu.Lock()
	if !p.connected {
		if keep {
			p.backlog.add(msg)
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.send(msg)
	return nil
}

// PublishSensors sends the readings from a scan (QoS 0, not retained).
func (p *RealPublisher) PublishSensors(ts time.Time, devices []sensors.Device) error {
	payload, err := FormatSensorsPayload(ts, devices)
	if err != nil {
		return fmt.Errorf("format sensors payload: %w", err)
	}
	return p.publish(message{topic: p.topics.Sensors, payload: payload}, true)
}

// PublishDoor sends a door event (QoS 1).
func (p *RealPublisher) PublishDoor(event DoorEvent) error {
	payload, err := FormatDoorPayload(event)
	if err != nil {
		return fmt.Errorf("format door payload: %w", err)
	}
	return p.publish(message{topic: p.topics.Door, payload: payload, qos: 1}, true)
}

// PublishRelay sends a relay event (QoS 1, retained so late subscribers
// see the current compressor state).
func (p *RealPublisher) PublishRelay(event RelayEvent) error {
	payload, err := FormatRelayPayload(event)
	if err != nil {
		return fmt.Errorf("format relay payload: %w", err)
	}
	return p.publish(message{topic: p.topics.Relay, payload: payload, qos: 1, retained: true}, true)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(message{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained}, true)
}

// PublishConsole sends one line of shell output. Output produced while
// disconnected is discarded.
func (p *RealPublisher) PublishConsole(line string) error {
	return p.publish(message{topic: p.topics.ConsoleOut, payload: []byte(line)}, false)
}

// ConsoleInput delivers lines received on the console input topic.
func (p *RealPublisher) ConsoleInput() <-chan string {
	return p.console
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
