package port

import (
	"context"

	"coin/internal/domain/model"
)

// Record 经过管道处理后的事件及其输出表示
type Record struct {
	Event model.Event
	Line  string // rendered representation, no trailing separator
}

// Sink is the terminal destination of the pipeline. Write must make the record
// visible to external readers before returning.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Metrics 管道计数（由 infrastructure/metrics 实现）
type Metrics interface {
	EventPublished(venue string)
	EventDropped(reason string)
	EventWritten(sink string)
	SubscriptionEnded(outcome string)
}
