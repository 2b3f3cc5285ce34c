package redis

import (
	"context"
	"strings"

	"coin/internal/application/port"
	"coin/internal/infrastructure/storage"

	"github.com/redis/go-redis/v9"
)

// Repo appends records to a stream (XADD) and optionally announces the
// rendered line on a pub/sub channel.
type Repo struct {
	rdb     *redis.Client
	stream  string
	channel string
}

func New(rdb *redis.Client, stream, channel string) *Repo {
	if strings.TrimSpace(stream) == "" {
		stream = "coin:events"
	}
	return &Repo{rdb: rdb, stream: stream, channel: strings.TrimSpace(channel)}
}

// Dial 创建客户端并 PING 确认可用
func Dial(ctx context.Context, addr string, db int, stream, channel string) (*Repo, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return New(rdb, stream, channel), nil
}

func (r *Repo) Name() string { return "redis" }

func (r *Repo) Write(ctx context.Context, rec port.Record) error {
	// 1) Stream: XADD <stream> * field value ...
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: values(storage.NewRow(rec)),
	}).Err(); err != nil {
		return err
	}
	if r.channel == "" {
		return nil
	}
	// 2) PubSub: PUBLISH <channel> line
	return r.rdb.Publish(ctx, r.channel, rec.Line).Err()
}

func (r *Repo) Close() error { return r.rdb.Close() }

// values keeps only populated fields so heartbeats stay small.
func values(row storage.Row) map[string]any {
	v := map[string]any{
		"id":    row.ID,
		"kind":  row.Kind,
		"venue": row.Venue,
		"pair":  row.Pair,
		"ts_ms": row.TsMs,
		"line":  row.Line,
	}
	for k, s := range map[string]string{
		"trade_id": row.TradeID,
		"price":    row.Price,
		"volume":   row.Volume,
		"side":     row.Side,
		"bid":      row.Bid,
		"ask":      row.Ask,
		"last":     row.Last,
	} {
		if s != "" {
			v[k] = s
		}
	}
	return v
}

var _ port.Sink = (*Repo)(nil)
