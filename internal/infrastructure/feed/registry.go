package feed

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"coin/internal/application/port"
	"coin/internal/infrastructure/websocket"

	"github.com/rs/zerolog/log"
)

// Options 创建 venue 客户端所需的配置
type Options struct {
	WsURL        string // empty uses the venue default
	APIKeyID     string
	APIKeySecret string
	Retry        websocket.RetryConfig
	Raw          port.RawSink // nil disables raw mirroring
}

// Factory builds a venue client.
type Factory func(opts Options) port.Feed

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register 由各交易所包的 init() 调用完成自注册
func Register(venue string, factory Factory) {
	venue = strings.ToLower(venue)
	if factory == nil {
		log.Warn().Str("venue", venue).Msg("invalid feed factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[venue]; exists {
		log.Warn().Str("venue", venue).Msg("feed factory already registered, overwriting")
	}
	registry[venue] = factory
}

func Get(venue string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[strings.ToLower(venue)]
	return f, ok
}

// New looks up venue and builds its client.
func New(venue string, opts Options) (port.Feed, error) {
	f, ok := Get(venue)
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (available: %s)", venue, strings.Join(Names(), ", "))
	}
	if opts.Retry == (websocket.RetryConfig{}) {
		opts.Retry = websocket.DefaultRetryConfig
	}
	return f(opts), nil
}

// Names 已注册的 venue（排序）
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Mirror forwards a raw frame to sink when one is configured. Mirroring errors
// are logged and never stop the feed.
func Mirror(sink port.RawSink, venue string, frame []byte) {
	if sink == nil {
		return
	}
	if err := sink.WriteRaw(venue, frame); err != nil {
		log.Warn().Str("venue", venue).Err(err).Msg("raw output write failed")
	}
}
