package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// RetryConfig WebSocket 连接重试配置
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	InitialDel: 1 * time.Second,
	MaxDelay:   10 * time.Second,
}

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// Dial 带重试的连接；每次重试延迟翻倍，不超过 MaxDelay
func Dial(ctx context.Context, url string, header http.Header, rc RetryConfig) (*gws.Conn, error) {
	var lastErr error
	delay := rc.InitialDel

	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Info().
				Str("url", url).
				Int("attempt", attempt).
				Int64("delay_ms", delay.Milliseconds()).
				Msg("retrying websocket connection")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > rc.MaxDelay {
				delay = rc.MaxDelay
			}
		}

		cctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := gws.DefaultDialer.DialContext(cctx, url, header)
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Warn().Str("url", url).Err(err).Msg("ws dial failed")
	}
	return nil, fmt.Errorf("dial %s after %d retries: %w", url, rc.MaxRetries, lastErr)
}

type loopConfig struct {
	readTimeout  time.Duration
	pingInterval time.Duration
	ping         func(conn *gws.Conn) error
}

type Option func(*loopConfig)

// WithPing replaces the control-frame ping, for venues that expect an
// application level message instead.
func WithPing(interval time.Duration, ping func(conn *gws.Conn) error) Option {
	return func(c *loopConfig) {
		if interval > 0 {
			c.pingInterval = interval
		}
		c.ping = ping
	}
}

// ErrHandlerStopped wraps the error returned by an onMsg callback.
var ErrHandlerStopped = errors.New("message handler stopped")

// ReadLoop reads frames and passes them to onMsg until one of:
//   - the venue closes the stream normally: returns nil
//   - ctx ends: returns ctx.Err()
//   - onMsg fails: returns its error wrapped in ErrHandlerStopped
//   - any other read error
//
// The connection is closed on return and onMsg is never called afterwards.
func ReadLoop(ctx context.Context, conn *gws.Conn, onMsg func([]byte) error, opts ...Option) error {
	cfg := loopConfig{readTimeout: readTimeout, pingInterval: pingInterval}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.ping == nil {
		cfg.ping = func(c *gws.Conn) error {
			return c.WriteControl(gws.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(cfg.pingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
			if err := onMsg(b); err != nil {
				errCh <- fmt.Errorf("%w: %w", ErrHandlerStopped, err)
				return
			}
		}
	}()

	finish := func(err error) error {
		_ = conn.Close()
		<-readerDone
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())
		case err := <-errCh:
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				return finish(nil)
			}
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			return finish(err)
		case <-pingTicker.C:
			if err := cfg.ping(conn); err != nil {
				log.Debug().Err(err).Msg("ws ping failed")
			}
		}
	}
}
