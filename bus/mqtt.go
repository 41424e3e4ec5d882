package bus

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tricorder/config"
	"tricorder/internal/ratelimit"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT is a Bus backed by a broker connection.
//
// Key aspects:
//   - Connect never blocks startup on an unreachable broker: paho keeps
//     retrying in the background (ConnectRetry) and reconnects with backoff
//     after a drop (AutoReconnect, capped by MaxReconnectInterval).
//   - Subscriptions are remembered and replayed from the onConnect handler so
//     they survive reconnects.
//   - Publish fails fast with ErrNotConnected while the link is down; the
//     caller decides whether that matters.
//   - paho's message callback only queues; one worker goroutine feeds the
//     handler in arrival order. The handler publishes and waits for the ack,
//     which it could not do on paho's ordered delivery goroutine. A full
//     queue drops the message.
type MQTT struct {
	cfg       config.MQTTConfig
	brokerURL string
	client    mqtt.Client

	mu      sync.Mutex
	topics  []string
	handler Handler

	connects atomic.Uint64
	drops    atomic.Uint64

	inbound   chan Message
	quit      chan struct{}
	closeOnce sync.Once
	worker    sync.WaitGroup
	dropped   atomic.Uint64
	dropLog   *ratelimit.Counter
}

// NewMQTT builds an unconnected client from cfg.
func NewMQTT(cfg config.MQTTConfig) *MQTT {
	queue := cfg.InboundQueueSize
	if queue <= 0 {
		queue = 256
	}
	m := &MQTT{
		cfg:       cfg,
		brokerURL: fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port),
		inbound:   make(chan Message, queue),
		quit:      make(chan struct{}),
		dropLog:   ratelimit.NewCounter(30 * time.Second),
	}
	m.worker.Add(1)
	go m.run()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.brokerURL)
	// Suffix keeps two instances from kicking each other off the broker.
	opts.SetClientID(fmt.Sprintf("%s-%d", cfg.ClientID, time.Now().UnixNano()%1_000_000))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(time.Duration(cfg.KeepaliveSeconds) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutSeconds) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.MaxReconnectIntervalSeconds) * time.Second)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Printf("MQTT: reconnecting to %s", m.brokerURL)
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect starts the connection. It waits up to the connect timeout for the
// first session and returns nil either way; with ConnectRetry enabled paho
// keeps trying in the background.
func (m *MQTT) Connect() error {
	log.Printf("MQTT: connecting to %s...", m.brokerURL)
	token := m.client.Connect()
	wait := time.Duration(m.cfg.ConnectTimeoutSeconds) * time.Second
	if !token.WaitTimeout(wait) {
		log.Printf("MQTT: broker %s not reachable yet, retrying in background", m.brokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.brokerURL, err)
	}
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.connects.Add(1)
	m.mu.Lock()
	topics := append([]string(nil), m.topics...)
	m.mu.Unlock()
	log.Printf("MQTT: connected to %s, subscribing to %d topic(s)", m.brokerURL, len(topics))
	for _, topic := range topics {
		m.subscribe(client, topic)
	}
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.drops.Add(1)
	log.Printf("MQTT: connection lost: %v (will reconnect)", err)
}

func (m *MQTT) subscribe(client mqtt.Client, topic string) {
	token := client.Subscribe(topic, m.cfg.QoS, m.deliver)
	if !token.WaitTimeout(m.publishTimeout()) {
		log.Printf("MQTT: subscribe %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("MQTT: subscribe %s failed: %v", topic, err)
	}
}

func (m *MQTT) deliver(_ mqtt.Client, msg mqtt.Message) {
	m.enqueue(msg.Topic(), msg.Payload())
}

// enqueue hands a message to the worker without blocking.
func (m *MQTT) enqueue(topic string, payload []byte) bool {
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	select {
	case m.inbound <- msg:
		return true
	default:
		total := m.dropped.Add(1)
		m.dropLog.Logf("MQTT: inbound queue full, dropping message on %s (%d dropped)", topic, total)
		return false
	}
}

func (m *MQTT) run() {
	defer m.worker.Done()
	for {
		select {
		case <-m.quit:
			return
		case msg := <-m.inbound:
			m.mu.Lock()
			h := m.handler
			m.mu.Unlock()
			if h != nil {
				h(msg.Topic, msg.Payload)
			}
		}
	}
}

// Dropped returns how many inbound messages were discarded on a full queue.
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

// Subscribe records the topic and subscribes immediately when connected.
// Topics subscribed while offline are picked up by the next onConnect.
func (m *MQTT) Subscribe(topic string) error {
	m.mu.Lock()
	for _, t := range m.topics {
		if t == topic {
			m.mu.Unlock()
			return nil
		}
	}
	m.topics = append(m.topics, topic)
	m.mu.Unlock()

	if m.client.IsConnectionOpen() {
		m.subscribe(m.client, topic)
	}
	return nil
}

func (m *MQTT) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Publish sends payload without retaining it. A timeout or an offline link
// is reported as an error; nothing is queued.
func (m *MQTT) Publish(topic string, payload interface{}) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := m.client.Publish(topic, m.cfg.QoS, false, data)
	if !token.WaitTimeout(m.publishTimeout()) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker session is currently open.
func (m *MQTT) IsConnected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}

// Reconnects returns how many sessions were established and lost.
func (m *MQTT) Reconnects() (connects, drops uint64) {
	return m.connects.Load(), m.drops.Load()
}

func (m *MQTT) publishTimeout() time.Duration {
	return time.Duration(m.cfg.PublishTimeoutMS) * time.Millisecond
}

// Close disconnects, allowing 250ms for in-flight work, then stops the
// worker once the message it is handling returns. Queued messages are
// discarded.
func (m *MQTT) Close() {
	m.closeOnce.Do(func() {
		if m.client != nil {
			log.Println("MQTT: disconnecting")
			m.client.Disconnect(250)
		}
		close(m.quit)
	})
	m.worker.Wait()
}
