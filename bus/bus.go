// Package bus is the publish/subscribe boundary of the core. The core only
// needs three things from a transport: publish a payload on a topic,
// subscribe to a topic, and deliver inbound messages to one handler.
//
// Two implementations exist: MQTT (paho, with automatic reconnect and
// backoff) and Loopback (in-process, used when no broker is configured and
// in tests).
package bus

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotConnected is returned by Publish while the transport is down.
var ErrNotConnected = errors.New("bus: not connected")

// Handler receives inbound messages. It is called from the transport's
// delivery goroutine.
type Handler func(topic string, payload []byte)

// Bus is the transport contract the core depends on.
type Bus interface {
	Publish(topic string, payload interface{}) error
	Subscribe(topic string) error
	SetHandler(h Handler)
	Close()
}

// Encode turns a payload into wire bytes. Byte slices and strings pass
// through untouched; everything else is JSON encoded.
func Encode(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bus: encode: %w", err)
	}
	return data, nil
}

// MatchTopic reports whether topic matches an MQTT subscription filter,
// honoring the single-level (+) and multi-level (#) wildcards.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	for i, f := range fparts {
		if f == "#" {
			return i == len(fparts)-1
		}
		if i >= len(tparts) {
			return false
		}
		if f != "+" && f != tparts[i] {
			return false
		}
	}
	return len(fparts) == len(tparts)
}
