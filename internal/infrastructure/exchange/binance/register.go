package binance

import (
	"coin/internal/application/port"
	"coin/internal/infrastructure/feed"
)

// init() 自注册 Binance feed factory
func init() {
	feed.Register(Name, func(opts feed.Options) port.Feed {
		return NewClient(opts)
	})
}
