// Package natspub announces archived threads on NATS subjects.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultFlushTimeout bounds the flush when the caller's context has no deadline.
const DefaultFlushTimeout = 5 * time.Second

type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher publishes JSON payloads with trace headers and a Nats-Msg-Id.
type Publisher struct {
	nc             conn
	defaultSubject string
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, defaultSubject string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("board-archiver")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(nc, defaultSubject)
}

// New wraps an existing connection.
func New(nc conn, defaultSubject string) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	return &Publisher{nc: nc, defaultSubject: defaultSubject}, nil
}

// Publish sends payload to subject (or the default subject) and flushes so
// the server has accepted it before returning. The returned id is the
// message's Nats-Msg-Id header.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if subject == "" {
		subject = p.defaultSubject
	}
	if subject == "" {
		return "", errors.New("nats subject is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, id)
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	if err := p.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", subject, err)
	}
	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, DefaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return "", fmt.Errorf("flush %s: %w", subject, err)
	}
	return id, nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// headerCarrier adapts nats.Msg headers for propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
