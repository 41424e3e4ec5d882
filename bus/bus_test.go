package bus

import (
	"errors"
	"testing"
	"time"

	"tricorder/config"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/x/c", true},
		{"a/+/c", "a/x/y/c", false},
		{"a/#", "a/x/y/c", true},
		{"a/#", "a", true},
		{"#", "anything/at/all", true},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
	}
	for _, tc := range tests {
		if got := MatchTopic(tc.filter, tc.topic); got != tc.want {
			t.Fatalf("MatchTopic(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestEncode(t *testing.T) {
	raw := []byte(`{"x":1}`)
	if got, _ := Encode(raw); string(got) != string(raw) {
		t.Fatalf("bytes should pass through, got %s", got)
	}
	if got, _ := Encode("plain"); string(got) != "plain" {
		t.Fatalf("strings should pass through, got %s", got)
	}
	got, err := Encode(map[string]int{"n": 2})
	if err != nil || string(got) != `{"n":2}` {
		t.Fatalf("unexpected encoding %s (%v)", got, err)
	}
	if _, err := Encode(make(chan int)); err == nil {
		t.Fatalf("expected unencodable payload to fail")
	}
}

func TestLoopbackDeliversToSubscribers(t *testing.T) {
	l := NewLoopback()
	var got []string
	l.SetHandler(func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	})
	_ = l.Subscribe("suit/+")
	_ = l.Subscribe("suit/+")

	_ = l.Publish("suit/o2", "21")
	_ = l.Publish("base/o2", "21")

	if len(got) != 1 || got[0] != "suit/o2=21" {
		t.Fatalf("unexpected deliveries %v", got)
	}
	if len(l.Published()) != 2 || len(l.PublishedOn("base/o2")) != 1 {
		t.Fatalf("every publish should be captured, got %+v", l.Published())
	}
	l.Reset()
	if len(l.Published()) != 0 {
		t.Fatalf("Reset should drop captured messages")
	}
}

func TestLoopbackInjectAndFailures(t *testing.T) {
	l := NewLoopback()
	var seen int
	l.SetHandler(func(string, []byte) { seen++ })
	_ = l.Inject("anything", map[string]bool{"leak": true})
	if seen != 1 || len(l.Published()) != 0 {
		t.Fatalf("inject should reach the handler without being recorded")
	}

	l.FailPublishes(ErrNotConnected)
	if err := l.Publish("x", "y"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	l.FailPublishes(nil)
	if err := l.Publish("x", "y"); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
}

func TestMQTTPublishOfflineFailsFast(t *testing.T) {
	m := NewMQTT(config.MQTTConfig{
		Broker:                      "127.0.0.1",
		Port:                        1,
		ClientID:                    "test",
		KeepaliveSeconds:            5,
		ConnectTimeoutSeconds:       1,
		MaxReconnectIntervalSeconds: 1,
		PublishTimeoutMS:            100,
	})
	if m.IsConnected() {
		t.Fatalf("client should start disconnected")
	}
	if err := m.Publish("t", "p"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.Subscribe("t"); err != nil {
		t.Fatalf("offline subscribe should be deferred, got %v", err)
	}
	m.Close()
}

func offlineMQTT(queue int) *MQTT {
	return NewMQTT(config.MQTTConfig{
		Broker:                      "127.0.0.1",
		Port:                        1,
		ClientID:                    "test",
		KeepaliveSeconds:            5,
		ConnectTimeoutSeconds:       1,
		MaxReconnectIntervalSeconds: 1,
		PublishTimeoutMS:            100,
		InboundQueueSize:            queue,
	})
}

func TestMQTTSlowHandlerDoesNotBlockDelivery(t *testing.T) {
	m := offlineMQTT(8)
	defer m.Close()

	release := make(chan struct{})
	got := make(chan string, 8)
	m.SetHandler(func(topic string, payload []byte) {
		<-release
		got <- topic + "=" + string(payload)
	})

	start := time.Now()
	for _, topic := range []string{"a", "b", "c"} {
		if !m.enqueue(topic, []byte("1")) {
			t.Fatalf("enqueue %s refused", topic)
		}
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		t.Fatalf("delivery blocked on the handler for %s", waited)
	}

	close(release)
	for _, want := range []string{"a=1", "b=1", "c=1"} {
		select {
		case msg := <-got:
			if msg != want {
				t.Fatalf("expected %s in arrival order, got %s", want, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("handler never saw %s", want)
		}
	}
}

func TestMQTTFullQueueDrops(t *testing.T) {
	m := offlineMQTT(1)
	defer m.Close()

	busy := make(chan struct{})
	release := make(chan struct{})
	m.SetHandler(func(string, []byte) {
		select {
		case busy <- struct{}{}:
		default:
		}
		<-release
	})

	m.enqueue("first", nil)
	select {
	case <-busy:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first message")
	}
	if !m.enqueue("second", nil) {
		t.Fatalf("second message should fit the queue")
	}
	if m.enqueue("third", nil) {
		t.Fatalf("third message should be dropped")
	}
	if m.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", m.Dropped())
	}
	close(release)
}
