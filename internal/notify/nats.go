package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// NATS is a Bus over a NATS subject.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials the server and returns a Bus publishing on subject.
func ConnectNATS(o NATSOptions, subject string, logger *slog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(o.Name),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", slog.Any("error", err))
		}),
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := n.nc.Publish(n.subject, raw); err != nil {
		return fmt.Errorf("publishing to NATS: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, subscriberBuffer)
	sub, err := n.nc.ChanSubscribe(n.subject, in)
	if err != nil {
		return nil, fmt.Errorf("subscribing to NATS: %w", err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				var msg Message
				if err := json.Unmarshal(m.Data, &msg); err != nil {
					n.logger.WarnContext(ctx, "dropping undecodable notification", slog.Any("error", err))
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close drains and closes the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
