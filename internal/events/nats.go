package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON events to <prefix>.<kind>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("versevoice"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", url, err)
	}
	return NewNATSPublisherFromConn(conn, prefix), nil
}

func NewNATSPublisherFromConn(conn *nats.Conn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "versevoice.playback"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Kind, err)
	}
	return nil
}

// Close flushes pending messages and drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

// NewPublisher returns a NATS publisher when url is set, otherwise Noop.
func NewPublisher(url, prefix string) (Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return Noop{}, nil
	}
	return NewNATSPublisher(url, prefix)
}
