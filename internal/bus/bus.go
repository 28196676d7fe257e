// Package bus subscribes to the line signal topic over ZeroMQ or MQTT.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// ErrClosed is returned by Receive after Close
var ErrClosed = errors.New("bus: subscriber closed")

// Transports accepted by Dial
const (
	TransportZMQ  = "zmq"
	TransportMQTT = "mqtt"
)

// DefaultBuffer is the receive high-water mark; older messages are kept,
// the transport blocks when it is full
const DefaultBuffer = 100

// Config selects and addresses the transport
type Config struct {
	Transport string
	Endpoint  string // tcp://host:port
	Topic     string
	ClientID  string // mqtt only
}

// Message is one payload received on a subscribed topic
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber yields messages of one topic
type Subscriber interface {
	// Receive waits up to timeout for a message. ok is false on timeout.
	// A non-nil error means the transport failed and the subscriber is unusable.
	Receive(ctx context.Context, timeout time.Duration) (msg Message, ok bool, err error)
	Close() error
}

// Dial connects the configured transport and subscribes to cfg.Topic
func Dial(ctx context.Context, cfg Config, logger *logging.Logger) (Subscriber, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	switch cfg.Transport {
	case TransportZMQ, "":
		return DialZMQ(ctx, cfg, logger)
	case TransportMQTT:
		return DialMQTT(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}

// Channel is a Subscriber fed by Publish; the transports deliver into one, and
// it serves in-process producers directly
type Channel struct {
	msgs   chan Message
	errs   chan error
	done   chan struct{}
	once   sync.Once
	closer func() error
}

// NewChannel creates a channel subscriber with the default buffer
func NewChannel() *Channel {
	return &Channel{
		msgs: make(chan Message, DefaultBuffer),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// Publish delivers a message, blocking while the buffer is full. It reports
// false once the channel is closed.
func (c *Channel) Publish(topic string, payload []byte) bool {
	select {
	case c.msgs <- Message{Topic: topic, Payload: payload}:
		return true
	case <-c.done:
		return false
	}
}

// Fail makes the next Receive return err. Only the first failure is kept.
func (c *Channel) Fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Receive implements Subscriber. Buffered messages are delivered before a failure.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	select {
	case msg := <-c.msgs:
		return msg, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-c.msgs:
		return msg, true, nil
	case err := <-c.errs:
		return Message{}, false, err
	case <-c.done:
		return Message{}, false, ErrClosed
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	case <-timer.C:
		return Message{}, false, nil
	}
}

// Close stops delivery and releases the transport
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			err = c.closer()
		}
	})
	return err
}
