package collect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"coin/internal/application/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceDeliversAllEventsUntilFeedsDisconnect(t *testing.T) {
	sink := &memSink{}
	svc := NewService(ServiceDeps{Sink: sink, BusSize: 4})

	feed := &fakeFeed{name: "sim", count: 10}
	for _, pair := range []string{"A", "B", "C"} {
		_, err := svc.Listen(feed, pair, port.ChannelTrades)
		require.NoError(t, err)
	}

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopSubscriptionsDone, sum.Reason)
	assert.Equal(t, StateStopped, svc.State())
	assert.Len(t, sum.Completed, 3)
	assert.Empty(t, sum.Failed)
	assert.EqualValues(t, 30, sum.Received)
	assert.EqualValues(t, 30, sum.Written)
	assert.NotEmpty(t, sum.RunID)
	assert.True(t, sink.closed)

	recs := sink.records()
	require.Len(t, recs, 30)
	next := map[string]int{}
	for _, rec := range recs {
		tr, ok := rec.Event.Trade()
		require.True(t, ok)
		seq, _ := strconv.Atoi(tr.ID)
		assert.Equal(t, next[rec.Event.Pair()], seq)
		next[rec.Event.Pair()]++
	}
}

func TestServiceBudgetAndFilter(t *testing.T) {
	const budget, grace = 200 * time.Millisecond, 100 * time.Millisecond

	pipe, err := BuildPipeline(PipelineOptions{Filters: []string{"price >= 0"}}, nil)
	require.NoError(t, err)
	sink := &memSink{}
	svc := NewService(ServiceDeps{Pipeline: pipe, Sink: sink, Budget: budget, Grace: grace})

	feed := &fakeFeed{
		name:     "sim",
		count:    -1,
		interval: 2 * time.Millisecond,
		price: func(i int) int64 {
			if i%2 == 0 {
				return int64(i)
			}
			return -int64(i)
		},
	}
	_, err = svc.Listen(feed, "A", port.ChannelTrades)
	require.NoError(t, err)

	start := time.Now()
	sum, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopBudget, sum.Reason)
	assert.Less(t, time.Since(start), budget+grace+300*time.Millisecond)

	recs := sink.records()
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		tr, _ := rec.Event.Trade()
		assert.False(t, tr.Price.IsNegative(), "negative price %s written", tr.Price)
	}
	cutoff := start.Add(budget + grace + 50*time.Millisecond)
	for _, at := range sink.times {
		assert.False(t, at.After(cutoff), "write at %s after cutoff", at.Sub(start))
	}
	assert.Positive(t, sum.Dropped)
}

func TestServiceSinkFailureStopsRun(t *testing.T) {
	sink := &memSink{failAfter: 3}
	svc := NewService(ServiceDeps{Sink: sink, Grace: 200 * time.Millisecond})

	for _, pair := range []string{"A", "B"} {
		_, err := svc.Listen(&fakeFeed{name: "sim", count: -1, interval: time.Millisecond}, pair, port.ChannelTrades)
		require.NoError(t, err)
	}

	sum, err := svc.Run(context.Background())

	var swe *SinkWriteError
	require.ErrorAs(t, err, &swe)
	assert.ErrorIs(t, err, errSinkBroken)
	assert.Equal(t, "mem", swe.Sink)
	assert.Equal(t, StopSinkFailed, sum.Reason)
	assert.Equal(t, StateStopped, svc.State())
	assert.Len(t, sum.Cancelled, 2)
	assert.Empty(t, svc.Registry().List())

	// one failing write, nothing attempted afterwards
	assert.Equal(t, 4, sink.calls)
	assert.EqualValues(t, 3, sum.Written)
	assert.True(t, sink.closed)
}

func TestServiceStopWithUnboundedBudget(t *testing.T) {
	const grace = 200 * time.Millisecond
	sink := &memSink{}
	svc := NewService(ServiceDeps{Sink: sink, Grace: grace})

	for i := 0; i < 5; i++ {
		_, err := svc.Listen(&fakeFeed{name: "sim", count: -1, interval: time.Millisecond}, fmt.Sprintf("P%d", i), port.ChannelTrades)
		require.NoError(t, err)
	}

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := svc.Run(context.Background())
		done <- result{sum, err}
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateRunning, svc.State())
	requested := time.Now()
	svc.Stop()
	svc.Stop()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, StopRequested, res.sum.Reason)
		assert.Len(t, res.sum.Cancelled, 5)
		assert.Less(t, time.Since(requested), grace+100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, StateStopped, svc.State())
}

func TestServiceContextCancel(t *testing.T) {
	svc := NewService(ServiceDeps{Sink: &memSink{}, Grace: 100 * time.Millisecond})
	_, err := svc.Listen(&fakeFeed{name: "sim", count: -1, interval: time.Millisecond}, "A", port.ChannelTrades)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sum, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopContext, sum.Reason)
}

func TestServiceFailedSubscriptionDoesNotAbortRun(t *testing.T) {
	svc := NewService(ServiceDeps{Sink: &memSink{}, Grace: 100 * time.Millisecond})

	broken := &fakeFeed{name: "broken", count: 0, err: errors.New("handshake rejected")}
	healthy := &fakeFeed{name: "sim", count: -1, interval: time.Millisecond}
	_, err := svc.Listen(broken, "A", port.ChannelTrades)
	require.NoError(t, err)
	_, err = svc.Listen(healthy, "A", port.ChannelTrades)
	require.NoError(t, err)

	go func() {
		time.Sleep(80 * time.Millisecond)
		svc.Stop()
	}()
	sum, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopRequested, sum.Reason)
	require.Contains(t, sum.Failed, "broken:A:trades")
	assert.Contains(t, sum.Failed["broken:A:trades"], "handshake rejected")
	assert.Equal(t, []string{"sim:A:trades"}, sum.Cancelled)
	assert.Positive(t, sum.Written)
}

func TestServiceListenValidation(t *testing.T) {
	svc := NewService(ServiceDeps{Sink: &memSink{}})
	feed := &fakeFeed{name: "sim", count: 1}

	id, err := svc.Listen(feed, "btcusd", port.ChannelTrades)
	require.NoError(t, err)
	assert.Equal(t, "sim:BTCUSD:trades", id)

	_, err = svc.Listen(feed, "BTCUSD", port.ChannelTrades)
	assert.ErrorIs(t, err, ErrDuplicateSubscription)

	_, err = svc.Listen(feed, "BTCUSD", port.ChannelTicker)
	assert.NoError(t, err)

	_, err = svc.Listen(feed, "  ", port.ChannelTrades)
	assert.Error(t, err)

	_, err = svc.Listen(feed, "ETHUSD", port.Channel("candles"))
	assert.Error(t, err)

	_, err = svc.Run(context.Background())
	require.NoError(t, err)

	_, err = svc.Listen(feed, "ETHUSD", port.ChannelTrades)
	assert.ErrorIs(t, err, ErrServiceStarted)
	_, err = svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrServiceStarted)
}

func TestServiceRequiresSink(t *testing.T) {
	_, err := NewService(ServiceDeps{}).Run(context.Background())
	assert.Error(t, err)
}

// stallingSink accepts the first write, then blocks until release is closed
// and ignores ctx, like a stdout pipe nobody reads.
type stallingSink struct {
	release chan struct{}
	writes  atomic.Int32
	closed  atomic.Bool
}

func (s *stallingSink) Name() string { return "stalling" }

func (s *stallingSink) Write(context.Context, port.Record) error {
	if s.writes.Add(1) > 1 {
		<-s.release
	}
	return nil
}

func (s *stallingSink) Close() error {
	s.closed.Store(true)
	return nil
}

func TestServiceStopsWhenSinkWriteHangs(t *testing.T) {
	const budget, grace = 100 * time.Millisecond, 100 * time.Millisecond

	sink := &stallingSink{release: make(chan struct{})}
	t.Cleanup(func() { close(sink.release) })

	svc := NewService(ServiceDeps{Sink: sink, Budget: budget, Grace: grace})
	_, err := svc.Listen(&fakeFeed{name: "sim", count: -1, interval: time.Millisecond}, "A", port.ChannelTrades)
	require.NoError(t, err)

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSinkStalled)
		assert.Less(t, time.Since(start), budget+grace+500*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop while the sink write was hanging")
	}
	assert.Equal(t, StateStopped, svc.State())
	assert.Eventually(t, sink.closed.Load, time.Second, 10*time.Millisecond)
}
