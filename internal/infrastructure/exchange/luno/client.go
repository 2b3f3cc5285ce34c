package luno

import (
	"context"
	"strings"

	"coin/internal/application/port"
	"coin/internal/infrastructure/exchange"
	"coin/internal/infrastructure/feed"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	Name       = "luno"
	DefaultURL = "wss://ws.luno.com/api/1/stream"
)

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

// Channels: the stream carries trades only.
func (c *Client) Channels() []port.Channel { return []port.Channel{port.ChannelTrades} }

type credentials struct {
	APIKeyID     string `json:"api_key_id"`
	APIKeySecret string `json:"api_key_secret"`
}

func (c *Client) Listen(ctx context.Context, pair string, _ port.Channel, pub port.Publisher) error {
	url, err := exchange.BuildURL(c.opts.WsURL, "/"+strings.ToUpper(pair), "")
	if err != nil {
		return err
	}
	if c.opts.APIKeyID == "" {
		log.Warn().Str("venue", Name).Msg("no api key configured, the stream will likely reject the connection")
	}

	dec := newDecoder(pair)
	return exchange.Stream{
		Venue: Name,
		URL:   url,
		Retry: c.opts.Retry,
		Raw:   c.opts.Raw,
		Hello: func(conn *gws.Conn) error {
			return conn.WriteJSON(credentials{APIKeyID: c.opts.APIKeyID, APIKeySecret: c.opts.APIKeySecret})
		},
		Decode: dec.decode,
	}.Run(ctx, pub)
}
