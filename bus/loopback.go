package bus

import (
	"sync"
)

// Message is a published payload captured by Loopback.
type Message struct {
	Topic   string
	Payload []byte
}

// Loopback is an in-process bus. Publish delivers synchronously to the
// handler when the topic matches a subscription, and every publish is kept
// for inspection.
type Loopback struct {
	mu        sync.Mutex
	filters   []string
	handler   Handler
	published []Message
	failWith  error
}

// NewLoopback returns an empty loopback bus.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Publish(topic string, payload interface{}) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.failWith != nil {
		err := l.failWith
		l.mu.Unlock()
		return err
	}
	l.published = append(l.published, Message{Topic: topic, Payload: data})
	deliver := false
	for _, f := range l.filters {
		if MatchTopic(f, topic) {
			deliver = true
			break
		}
	}
	h := l.handler
	l.mu.Unlock()

	if deliver && h != nil {
		h(topic, data)
	}
	return nil
}

func (l *Loopback) Subscribe(topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.filters {
		if f == topic {
			return nil
		}
	}
	l.filters = append(l.filters, topic)
	return nil
}

func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) Close() {}

// Inject delivers an inbound message as if it came from a remote publisher,
// without recording it as published.
func (l *Loopback) Inject(topic string, payload interface{}) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(topic, data)
	}
	return nil
}

// Published returns a copy of every message published so far.
func (l *Loopback) Published() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.published...)
}

// PublishedOn returns the payloads published on one topic.
func (l *Loopback) PublishedOn(topic string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [][]byte
	for _, m := range l.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Reset drops the captured messages.
func (l *Loopback) Reset() {
	l.mu.Lock()
	l.published = nil
	l.mu.Unlock()
}

// FailPublishes makes every Publish return err until called with nil; it
// simulates a broker outage.
func (l *Loopback) FailPublishes(err error) {
	l.mu.Lock()
	l.failWith = err
	l.mu.Unlock()
}
