package collect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosedBus 总线关闭后仍然发布/订阅（生命周期错误）
var ErrClosedBus = errors.New("event bus closed")

// ErrDuplicateSubscription 订阅 id 已存在
var ErrDuplicateSubscription = errors.New("duplicate subscription")

// ErrSinkStalled 宽限期结束后 sink 写入仍未返回
var ErrSinkStalled = errors.New("sink write did not return within the grace period")

// ErrFieldAbsent 过滤表达式引用了该事件类型不存在的字段
var ErrFieldAbsent = errors.New("field absent on event")

// ConnectionError is a venue-side failure of one subscription.
type ConnectionError struct {
	ID  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("subscription %s: connection error: %v", e.ID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PredicateError is a per-event filter evaluation failure.
type PredicateError struct {
	Expr string
	Err  error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("predicate %q: %v", e.Expr, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// SinkWriteError ends the run: output is no longer possible.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink %s: write failed: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// StragglerError lists subscriptions that did not stop within the grace period.
type StragglerError struct {
	IDs []string
}

func (e *StragglerError) Error() string {
	return fmt.Sprintf("%d subscription(s) did not stop in time: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}
