package storage

import (
	"context"
	"sync"

	"coin/internal/application/port"

	"github.com/google/uuid"
)

// Row is the flat, store-friendly form of a written record. Decimal values are
// kept as text so no precision is lost.
type Row struct {
	ID      string
	Kind    string
	Venue   string
	Pair    string
	TsMs    int64
	TradeID string
	Price   string
	Volume  string
	Side    string
	Bid     string
	Ask     string
	Last    string
	Line    string
}

// NewRow 为记录生成行，ID 为新的 uuid
func NewRow(rec port.Record) Row {
	ev := rec.Event
	r := Row{
		ID:    uuid.NewString(),
		Kind:  string(ev.Kind()),
		Venue: ev.Venue(),
		Pair:  ev.Pair(),
		TsMs:  ev.TimestampMs(),
		Line:  rec.Line,
	}
	if t, ok := ev.Trade(); ok {
		r.TradeID = t.ID
		r.Price = t.Price.String()
		r.Volume = t.Volume.String()
		r.Side = string(t.Side)
	}
	if t, ok := ev.Ticker(); ok {
		r.Bid = t.Bid.String()
		r.Ask = t.Ask.String()
		r.Last = t.Last.String()
		r.Volume = t.Volume.String()
	}
	return r
}

// Memory keeps records in process.
type Memory struct {
	mu   sync.Mutex
	recs []port.Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(_ context.Context, rec port.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *Memory) Close() error { return nil }

// Records returns a copy of everything written so far.
func (m *Memory) Records() []port.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]port.Record(nil), m.recs...)
}

var _ port.Sink = (*Memory)(nil)
