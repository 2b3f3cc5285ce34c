package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/feed"
	"coin/internal/infrastructure/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrMalformedFrame marks a frame that could not be decoded. The frame is
// skipped; the stream keeps running.
var ErrMalformedFrame = errors.New("malformed frame")

// VenueError is a rejection sent by the venue over the stream. It ends the
// subscription.
type VenueError struct {
	Venue string
	Code  int64
	Msg   string
}

func (e *VenueError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Venue, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Venue, e.Msg)
}

// Decoder turns one frame into zero or more events.
type Decoder func(frame []byte, now time.Time) ([]model.Event, error)

// Stream 单个订阅的连接参数
type Stream struct {
	Venue   string
	URL     string
	Header  http.Header
	Retry   websocket.RetryConfig
	Raw     port.RawSink
	Hello   func(conn *gws.Conn) error // subscription request, sent once after dial
	Decode  Decoder
	Options []websocket.Option
}

// Run dials, subscribes and pumps decoded events into pub until the venue
// closes the stream (nil), ctx ends or the connection fails.
func (s Stream) Run(ctx context.Context, pub port.Publisher) error {
	logger := log.With().Str("venue", s.Venue).Str("url", s.URL).Logger()
	skipLog := logger.Sample(&zerolog.BurstSampler{Burst: 3, Period: 10 * time.Second})

	conn, err := websocket.Dial(ctx, s.URL, s.Header, s.Retry)
	if err != nil {
		return err
	}
	if s.Hello != nil {
		if err := s.Hello(conn); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%s subscribe: %w", s.Venue, err)
		}
	}
	logger.Info().Msg("ws connected")

	err = websocket.ReadLoop(ctx, conn, func(frame []byte) error {
		feed.Mirror(s.Raw, s.Venue, frame)
		events, err := s.Decode(frame, time.Now())
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				skipLog.Warn().Err(err).Msg("frame skipped")
				return nil
			}
			return err
		}
		for _, ev := range events {
			if err := pub.Publish(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}, s.Options...)

	if err == nil {
		logger.Info().Msg("stream closed by venue")
	}
	return err
}

// BuildURL 拼接 base 与 path/query
func BuildURL(base, path, query string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query
	return u.String(), nil
}

// IsKeepAlive reports whether frame carries no data.
func IsKeepAlive(frame []byte) bool {
	b := bytes.TrimSpace(frame)
	return len(b) == 0 || string(b) == `""`
}

// Decimal parses a venue number, reporting failures as ErrMalformedFrame.
func Decimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrMalformedFrame, field, s)
	}
	return d, nil
}

// Malformed 构造 ErrMalformedFrame
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
