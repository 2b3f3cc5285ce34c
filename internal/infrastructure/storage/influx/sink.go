package influx

import (
	"context"
	"fmt"
	"strings"

	"coin/internal/application/port"
	"coin/internal/domain/model"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s", cfg.URL, cfg.Org, cfg.Bucket)
}

// Sink 使用阻塞写入：Write 返回时点已被服务端接受
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func New(cfg Config) *Sink {
	c := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{client: c, write: c.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Write(ctx context.Context, rec port.Record) error {
	return s.write.WritePoint(ctx, Point(rec.Event))
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// Point maps an event to a point. measurement: event kind; tags: venue/pair
// (and side for trades). Heartbeats carry a single "alive" field.
func Point(ev model.Event) *write.Point {
	tags := map[string]string{
		"venue": ev.Venue(),
		"pair":  ev.Pair(),
	}
	fields := map[string]interface{}{}

	switch p := ev.Payload().(type) {
	case model.Trade:
		tags["side"] = string(p.Side)
		fields["id"] = p.ID
		fields["price"] = p.Price.InexactFloat64()
		fields["volume"] = p.Volume.InexactFloat64()
	case model.Ticker:
		fields["bid"] = p.Bid.InexactFloat64()
		fields["ask"] = p.Ask.InexactFloat64()
		fields["last"] = p.Last.InexactFloat64()
		fields["volume"] = p.Volume.InexactFloat64()
	default:
		fields["alive"] = true
	}
	return write.NewPoint(strings.ToLower(string(ev.Kind())), tags, fields, ev.Time())
}

var _ port.Sink = (*Sink)(nil)
