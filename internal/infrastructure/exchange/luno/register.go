package luno

import (
	"coin/internal/application/port"
	"coin/internal/infrastructure/feed"
)

func init() {
	feed.Register(Name, func(opts feed.Options) port.Feed {
		return NewClient(opts)
	})
}
