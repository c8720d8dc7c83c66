package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
)

// Bus publishes domain events to NATS under a common subject prefix.
type Bus struct {
	conn   *nats.Conn
	prefix string
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url, prefix string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc, prefix: trimPrefix(prefix)}, nil
}

// Close drains pending messages and shuts down the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func trimPrefix(prefix string) string {
	return strings.TrimSuffix(strings.TrimSpace(prefix), ".")
}

// Subject joins the bus prefix and subj.
func (b *Bus) Subject(subj string) string {
	if b.prefix == "" {
		return subj
	}
	return b.prefix + "." + subj
}

// Publish encodes v as JSON and publishes it to the prefixed subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.Subject(subj), data)
}
