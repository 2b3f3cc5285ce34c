package bybit

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/exchange"
	"coin/internal/infrastructure/feed"
	"coin/internal/infrastructure/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
)

const (
	Name       = "bybit"
	DefaultURL = "wss://stream.bybit.com/v5/public/spot"

	pingInterval = 20 * time.Second
)

var symbols = exchange.NewCommonSymbolConverter("", false)

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

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func topic(pair string, channel port.Channel) string {
	if channel == port.ChannelTicker {
		return "tickers." + symbols.Pair2Symbol(pair)
	}
	return "publicTrade." + symbols.Pair2Symbol(pair)
}

// Listen 订阅 publicTrade.<SYMBOL> 或 tickers.<SYMBOL>；心跳使用 {"op":"ping"}
func (c *Client) Listen(ctx context.Context, pair string, channel port.Channel, pub port.Publisher) error {
	sub := subReq{Op: "subscribe", Args: []string{topic(pair, channel)}}
	return exchange.Stream{
		Venue:  Name,
		URL:    c.opts.WsURL,
		Retry:  c.opts.Retry,
		Raw:    c.opts.Raw,
		Hello:  func(conn *gws.Conn) error { return conn.WriteJSON(sub) },
		Decode: decoder{pair: strings.ToUpper(pair)}.decode,
		Options: []websocket.Option{
			websocket.WithPing(pingInterval, func(conn *gws.Conn) error {
				return conn.WriteJSON(subReq{Op: "ping"})
			}),
		},
	}.Run(ctx, pub)
}

type tradeItem struct {
	Ts     int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Volume string `json:"v"`
	Price  string `json:"p"`
	ID     string `json:"i"`
}

type tickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Volume24h string `json:"volume24h"`
}

type message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

type decoder struct {
	pair string
}

func (d decoder) decode(b []byte, now time.Time) ([]model.Event, error) {
	var msg message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, exchange.Malformed("%v", err)
	}

	// ack / pong
	if msg.Success != nil {
		if !*msg.Success {
			return nil, &exchange.VenueError{Venue: Name, Msg: fmt.Sprintf("%s rejected: %s", msg.Op, msg.RetMsg)}
		}
		return nil, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "publicTrade."):
		var items []tradeItem
		if err := unmarshalList(msg.Data, &items); err != nil {
			return nil, err
		}
		out := make([]model.Event, 0, len(items))
		for _, it := range items {
			ev, err := d.trade(it)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil

	case strings.HasPrefix(msg.Topic, "tickers."):
		var items []tickerItem
		if err := unmarshalList(msg.Data, &items); err != nil {
			return nil, err
		}
		ts := now
		if msg.Ts > 0 {
			ts = time.UnixMilli(msg.Ts)
		}
		out := make([]model.Event, 0, len(items))
		for _, it := range items {
			ev, err := d.ticker(it, ts)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	}
	return nil, nil
}

func (d decoder) trade(it tradeItem) (model.Event, error) {
	price, err := exchange.Decimal("p", it.Price)
	if err != nil {
		return model.Event{}, err
	}
	vol, err := exchange.Decimal("v", it.Volume)
	if err != nil {
		return model.Event{}, err
	}
	side := model.SideUnknown
	switch strings.ToLower(it.Side) {
	case "buy":
		side = model.SideBuy
	case "sell":
		side = model.SideSell
	}
	return model.NewEvent(Name, d.pair, time.UnixMilli(it.Ts), model.Trade{
		ID: it.ID, Price: price, Volume: vol, Side: side,
	}), nil
}

// ticker: spot tickers carry no top of book, missing bid/ask stay zero
func (d decoder) ticker(it tickerItem, ts time.Time) (model.Event, error) {
	var tk model.Ticker
	var err error
	if tk.Last, err = exchange.Decimal("lastPrice", it.LastPrice); err != nil {
		return model.Event{}, err
	}
	if tk.Volume, err = exchange.Decimal("volume24h", it.Volume24h); err != nil {
		return model.Event{}, err
	}
	if it.Bid1Price != "" {
		if tk.Bid, err = exchange.Decimal("bid1Price", it.Bid1Price); err != nil {
			return model.Event{}, err
		}
	}
	if it.Ask1Price != "" {
		if tk.Ask, err = exchange.Decimal("ask1Price", it.Ask1Price); err != nil {
			return model.Event{}, err
		}
	}
	return model.NewEvent(Name, d.pair, ts, tk), nil
}

// data can be object OR array
func unmarshalList[T any](raw json.RawMessage, out *[]T) error {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || string(b) == "null" {
		*out = nil
		return nil
	}
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, out); err != nil {
			return exchange.Malformed("%v", err)
		}
	case '{':
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return exchange.Malformed("%v", err)
		}
		*out = []T{one}
	default:
		return exchange.Malformed("unexpected data json: %s", string(b))
	}
	return nil
}
