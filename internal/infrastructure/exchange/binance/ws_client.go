package binance

import (
	"context"
	"strconv"
	"strings"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"
	"coin/internal/infrastructure/feed"

	"github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
)

const (
	Name       = "binance"
	DefaultURL = "wss://stream.binance.com:9443"
)

var symbols = exchange.NewCommonSymbolConverter("", true)

type Client struct {
	opts feed.Options
}

func NewClient(opts feed.Options) *Client {
	if strings.TrimSpace(opts.WsURL) == "" {
		opts.WsURL = DefaultURL
	}
	return &Client{opts: opts}
}

func (c *Client) Name() string { return Name }

func (c *Client) Channels() []port.Channel {
	return []port.Channel{port.ChannelTrades, port.ChannelTicker}
}

// Listen 使用 raw stream：/ws/<symbol>@trade 或 /ws/<symbol>@ticker
func (c *Client) Listen(ctx context.Context, pair string, channel port.Channel, pub port.Publisher) error {
	stream := "@trade"
	if channel == port.ChannelTicker {
		stream = "@ticker"
	}
	url, err := exchange.BuildURL(c.opts.WsURL, "/ws/"+symbols.Pair2Symbol(pair)+stream, "")
	if err != nil {
		return err
	}
	return exchange.Stream{
		Venue:  Name,
		URL:    url,
		Retry:  c.opts.Retry,
		Raw:    c.opts.Raw,
		Decode: decoder{pair: strings.ToUpper(pair)}.decode,
	}.Run(ctx, pub)
}

// Field names are matched case-insensitively when no exact match exists, so
// every upper/lower pair present on the wire is declared explicitly.
type tradeMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"` // buyer is the maker
	Ignore    bool   `json:"M"`
}

type tickerMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Last      string `json:"c"`
	CloseTime int64  `json:"C"`
	Bid       string `json:"b"`
	BidQty    string `json:"B"`
	Ask       string `json:"a"`
	AskQty    string `json:"A"`
	Volume    string `json:"v"`
}

type decoder struct {
	pair string
}

func (d decoder) decode(b []byte, now time.Time) ([]model.Event, error) {
	if !gjson.ValidBytes(b) {
		return nil, exchange.Malformed("invalid json")
	}
	if e := gjson.GetBytes(b, "error"); e.Exists() {
		return nil, &exchange.VenueError{Venue: Name, Code: e.Get("code").Int(), Msg: e.Get("msg").String()}
	}

	switch gjson.GetBytes(b, "e").String() {
	case "trade":
		var msg tradeMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return nil, exchange.Malformed("%v", err)
		}
		return d.trade(msg)
	case "24hrTicker":
		var msg tickerMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return nil, exchange.Malformed("%v", err)
		}
		return d.ticker(msg, now)
	}
	return nil, nil
}

func (d decoder) trade(msg tradeMsg) ([]model.Event, error) {
	price, err := exchange.Decimal("p", msg.Price)
	if err != nil {
		return nil, err
	}
	qty, err := exchange.Decimal("q", msg.Qty)
	if err != nil {
		return nil, err
	}
	side := model.SideBuy
	if msg.Maker {
		side = model.SideSell
	}
	return []model.Event{model.NewEvent(Name, d.pair, time.UnixMilli(msg.TradeTime), model.Trade{
		ID:     strconv.FormatInt(msg.TradeID, 10),
		Price:  price,
		Volume: qty,
		Side:   side,
	})}, nil
}

func (d decoder) ticker(msg tickerMsg, now time.Time) ([]model.Event, error) {
	var tk model.Ticker
	var err error
	if tk.Bid, err = exchange.Decimal("b", msg.Bid); err != nil {
		return nil, err
	}
	if tk.Ask, err = exchange.Decimal("a", msg.Ask); err != nil {
		return nil, err
	}
	if tk.Last, err = exchange.Decimal("c", msg.Last); err != nil {
		return nil, err
	}
	if tk.Volume, err = exchange.Decimal("v", msg.Volume); err != nil {
		return nil, err
	}
	ts := now
	if msg.EventTime > 0 {
		ts = time.UnixMilli(msg.EventTime)
	}
	return []model.Event{model.NewEvent(Name, d.pair, ts, tk)}, nil
}
