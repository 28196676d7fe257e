package bus

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// DialZMQ connects a SUB socket to cfg.Endpoint. Messages are two frames,
// [topic, payload]; frames for other topics sharing the prefix are dropped.
func DialZMQ(ctx context.Context, cfg Config, logger *logging.Logger) (*Channel, error) {
	sockCtx, cancel := context.WithCancel(ctx)
	sub := zmq4.NewSub(sockCtx)
	if err := sub.Dial(cfg.Endpoint); err != nil {
		cancel()
		sub.Close()
		return nil, fmt.Errorf("failed to connect zmq subscriber to %s: %w", cfg.Endpoint, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, cfg.Topic); err != nil {
		cancel()
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", cfg.Topic, err)
	}

	ch := NewChannel()
	ch.closer = func() error {
		cancel()
		return sub.Close()
	}

	go func() {
		for {
			msg, err := sub.Recv()
			if err != nil {
				select {
				case <-ch.done:
				default:
					ch.Fail(fmt.Errorf("zmq receive: %w", err))
				}
				return
			}
			if len(msg.Frames) < 2 {
				logger.Warn("Dropping zmq message without payload frame", map[string]interface{}{"frames": len(msg.Frames)})
				continue
			}
			topic := string(msg.Frames[0])
			if topic != cfg.Topic {
				continue
			}
			if !ch.Publish(topic, msg.Frames[1]) {
				return
			}
		}
	}()

	logger.Info("Subscribed to line signal", map[string]interface{}{"transport": TransportZMQ, "endpoint": cfg.Endpoint, "topic": cfg.Topic})
	return ch, nil
}
