package luno

import (
	"fmt"
	"time"

	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"

	"github.com/segmentio/encoding/json"
)

type tradeUpdate struct {
	Base         string `json:"base"`
	Counter      string `json:"counter"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
}

// frame covers both the initial order book and the incremental updates.
type frame struct {
	Sequence     string          `json:"sequence"`
	Asks         json.RawMessage `json:"asks"`
	Bids         json.RawMessage `json:"bids"`
	TradeUpdates []tradeUpdate   `json:"trade_updates"`
	Timestamp    int64           `json:"timestamp"`
	Status       string          `json:"status"`
}

type decoder struct {
	pair string
}

func newDecoder(pair string) *decoder { return &decoder{pair: pair} }

// decode maps keep-alive frames to heartbeats and trade updates to trades.
// The order book snapshot and order updates carry no events.
func (d *decoder) decode(b []byte, now time.Time) ([]model.Event, error) {
	if exchange.IsKeepAlive(b) {
		return []model.Event{model.NewEvent(Name, d.pair, now, model.Heartbeat{})}, nil
	}

	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, exchange.Malformed("%v", err)
	}
	if present(f.Asks) || present(f.Bids) || len(f.TradeUpdates) == 0 {
		return nil, nil
	}

	ts := now
	if f.Timestamp > 0 {
		ts = time.UnixMilli(f.Timestamp)
	}
	out := make([]model.Event, 0, len(f.TradeUpdates))
	for i, u := range f.TradeUpdates {
		base, err := exchange.Decimal("base", u.Base)
		if err != nil {
			return nil, err
		}
		counter, err := exchange.Decimal("counter", u.Counter)
		if err != nil {
			return nil, err
		}
		if base.IsZero() {
			return nil, exchange.Malformed("zero base volume")
		}
		id := f.Sequence
		if len(f.TradeUpdates) > 1 {
			id = fmt.Sprintf("%s-%d", f.Sequence, i)
		}
		out = append(out, model.NewEvent(Name, d.pair, ts, model.Trade{
			ID:     id,
			Price:  counter.Div(base),
			Volume: base,
			Side:   model.SideUnknown,
		}))
	}
	return out, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
