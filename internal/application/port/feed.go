package port

import (
	"context"
	"fmt"
	"strings"

	"coin/internal/domain/model"
)

// Channel 交易所频道
type Channel string

const (
	ChannelTrades Channel = "trades"
	ChannelTicker Channel = "ticker"
)

// ParseChannel 解析频道名称
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelTrades, "trade", "":
		return ChannelTrades, nil
	case ChannelTicker:
		return ChannelTicker, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Publisher receives the events produced by a feed. Publish blocks while the
// downstream buffer is full.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Feed is a venue client. Listen streams one (pair, channel) subscription into
// pub and blocks until the venue disconnects (nil), the connection fails
// (error) or ctx is cancelled (ctx.Err()).
type Feed interface {
	Name() string
	Channels() []Channel
	Listen(ctx context.Context, pair string, channel Channel, pub Publisher) error
}

// RawSink mirrors undecoded venue frames.
type RawSink interface {
	WriteRaw(venue string, frame []byte) error
}

// SupportsChannel reports whether f serves ch.
func SupportsChannel(f Feed, ch Channel) bool {
	for _, c := range f.Channels() {
		if c == ch {
			return true
		}
	}
	return false
}
