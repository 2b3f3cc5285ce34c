package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"

	"github.com/shopspring/decimal"
)

func tradeEvent(venue, pair string, seq int, price int64) model.Event {
	return model.NewEvent(venue, pair, time.Now(), model.Trade{
		ID:     fmt.Sprintf("%d", seq),
		Price:  decimal.NewFromInt(price),
		Volume: decimal.NewFromInt(1),
		Side:   model.SideBuy,
	})
}

// fakeFeed emits count events per Listen call (forever when count < 0), then
// returns err.
type fakeFeed struct {
	name     string
	count    int
	interval time.Duration
	err      error
	price    func(i int) int64
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) Channels() []port.Channel {
	return []port.Channel{port.ChannelTrades, port.ChannelTicker}
}

func (f *fakeFeed) Listen(ctx context.Context, pair string, _ port.Channel, pub port.Publisher) error {
	for i := 0; f.count < 0 || i < f.count; i++ {
		price := int64(100)
		if f.price != nil {
			price = f.price(i)
		}
		if err := pub.Publish(ctx, tradeEvent(f.name, pair, i, price)); err != nil {
			return err
		}
		if f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return f.err
}

var errSinkBroken = errors.New("disk full")

// memSink records every write and can be made to fail after failAfter writes.
type memSink struct {
	mu        sync.Mutex
	recs      []port.Record
	times     []time.Time
	calls     int
	failAfter int // <= 0 never fails
	closed    bool
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Write(_ context.Context, rec port.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAfter > 0 && s.calls > s.failAfter {
		return errSinkBroken
	}
	s.recs = append(s.recs, rec)
	s.times = append(s.times, time.Now())
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) records() []port.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]port.Record(nil), s.recs...)
}
