package nats

import (
	"context"
	"strings"
	"time"

	"coin/internal/application/port"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// Sink publishes every rendered line on <subject>.<venue>.<pair>.
type Sink struct {
	nc      *nats.Conn
	subject string
}

func New(url, subject string, opts ...nats.Option) (*Sink, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Sink{nc: nc, subject: strings.Trim(subject, ".")}, nil
}

func (s *Sink) Name() string { return "nats" }

// Write publishes and flushes so the message has reached the server.
func (s *Sink) Write(ctx context.Context, rec port.Record) error {
	if err := s.nc.Publish(Subject(s.subject, rec.Event.Venue(), rec.Event.Pair()), []byte(rec.Line)); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *Sink) Close() error {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	return nil
}

// Subject 将 venue/pair 拼接成 NATS subject，去掉分隔符和通配符
func Subject(prefix, venue, pair string) string {
	clean := func(s string) string {
		return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
	}
	parts := []string{clean(venue), clean(pair)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

var _ port.Sink = (*Sink)(nil)
