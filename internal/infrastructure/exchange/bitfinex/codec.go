package bitfinex

import (
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// decoder follows one channel of the v2 public stream. Data frames are arrays
// whose first element is the channel id assigned in the "subscribed" event:
//
//	[17,"hb"]                          heartbeat
//	[17,"te",[ID,MTS,AMOUNT,PRICE]]    trade executed
//	[17,[[...],...]]                   trades snapshot (ignored)
//	[17,[BID,BID_SIZE,ASK,...]]        ticker
type decoder struct {
	pair    string
	channel port.Channel
	chanID  int64
}

func newDecoder(pair string, channel port.Channel) *decoder {
	return &decoder{pair: pair, channel: channel, chanID: -1}
}

func (d *decoder) decode(frame []byte, now time.Time) ([]model.Event, error) {
	if !gjson.ValidBytes(frame) {
		return nil, exchange.Malformed("invalid json")
	}
	r := gjson.ParseBytes(frame)
	switch {
	case r.IsObject():
		return nil, d.onEvent(r)
	case r.IsArray():
		return d.onData(r.Array(), now)
	default:
		return nil, exchange.Malformed("unexpected frame %s", r.Raw)
	}
}

func (d *decoder) onEvent(r gjson.Result) error {
	switch r.Get("event").String() {
	case "subscribed":
		d.chanID = r.Get("chanId").Int()
	case "error":
		return &exchange.VenueError{Venue: Name, Code: r.Get("code").Int(), Msg: r.Get("msg").String()}
	}
	return nil
}

func (d *decoder) onData(arr []gjson.Result, now time.Time) ([]model.Event, error) {
	if len(arr) < 2 {
		return nil, exchange.Malformed("short data frame")
	}
	if arr[0].Int() != d.chanID {
		return nil, nil
	}

	body := arr[1]
	if body.Type == gjson.String {
		switch body.Str {
		case "hb":
			return []model.Event{model.NewEvent(Name, d.pair, now, model.Heartbeat{})}, nil
		case "te":
			if len(arr) < 3 {
				return nil, exchange.Malformed("te without trade")
			}
			ev, err := d.trade(arr[2])
			if err != nil {
				return nil, err
			}
			return []model.Event{ev}, nil
		default:
			// "tu" repeats "te" with the final trade id
			return nil, nil
		}
	}

	if !body.IsArray() {
		return nil, exchange.Malformed("unexpected data %s", body.Raw)
	}
	if d.channel == port.ChannelTicker {
		ev, err := d.ticker(body, now)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	}
	return nil, nil
}

func (d *decoder) trade(t gjson.Result) (model.Event, error) {
	f := t.Array()
	if len(f) < 4 {
		return model.Event{}, exchange.Malformed("trade has %d fields", len(f))
	}
	amount, err := exchange.Decimal("amount", f[2].Raw)
	if err != nil {
		return model.Event{}, err
	}
	price, err := exchange.Decimal("price", f[3].Raw)
	if err != nil {
		return model.Event{}, err
	}
	side := model.SideBuy
	if amount.IsNegative() {
		side = model.SideSell
	}
	return model.NewEvent(Name, d.pair, time.UnixMilli(f[1].Int()), model.Trade{
		ID:     f[0].Raw,
		Price:  price,
		Volume: amount.Abs(),
		Side:   side,
	}), nil
}

func (d *decoder) ticker(t gjson.Result, now time.Time) (model.Event, error) {
	f := t.Array()
	if len(f) < 8 {
		return model.Event{}, exchange.Malformed("ticker has %d fields", len(f))
	}
	var vals [4]decimal.Decimal
	for i, idx := range []int{0, 2, 6, 7} {
		v, err := exchange.Decimal("ticker", f[idx].Raw)
		if err != nil {
			return model.Event{}, err
		}
		vals[i] = v
	}
	return model.NewEvent(Name, d.pair, now, model.Ticker{
		Bid: vals[0], Ask: vals[1], Last: vals[2], Volume: vals[3],
	}), nil
}
