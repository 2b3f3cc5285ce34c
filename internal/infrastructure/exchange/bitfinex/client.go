package bitfinex

import (
	"context"
	"strings"

	"coin/internal/application/port"
	"coin/internal/infrastructure/exchange"
	"coin/internal/infrastructure/feed"

	gws "github.com/gorilla/websocket"
)

const (
	Name       = "bitfinex"
	DefaultURL = "wss://api-pub.bitfinex.com/ws/2"
)

var symbols = exchange.NewCommonSymbolConverter("t", false)

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

type subscribeReq struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// Listen subscribes to one channel of pair on its own connection.
func (c *Client) Listen(ctx context.Context, pair string, channel port.Channel, pub port.Publisher) error {
	dec := newDecoder(pair, channel)
	return exchange.Stream{
		Venue: Name,
		URL:   c.opts.WsURL,
		Retry: c.opts.Retry,
		Raw:   c.opts.Raw,
		Hello: func(conn *gws.Conn) error {
			return conn.WriteJSON(subscribeReq{Event: "subscribe", Channel: string(channel), Symbol: symbols.Pair2Symbol(pair)})
		},
		Decode: dec.decode,
	}.Run(ctx, pub)
}
