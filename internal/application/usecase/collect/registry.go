package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coin/internal/application/port"

	"github.com/rs/zerolog/log"
)

// Outcome 订阅结束状态
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed" // venue closed the stream
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// SubscriptionID 由 venue、pair、channel 组成
func SubscriptionID(venue, pair string, channel port.Channel) string {
	return fmt.Sprintf("%s:%s:%s", venue, pair, channel)
}

// Subscription is the handle of one running feed connection.
type Subscription struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	mu      sync.Mutex
	ended   time.Time
	err     error
	outcome Outcome
}

func (s *Subscription) ID() string { return s.id }
func (s *Subscription) StartedAt() time.Time { return s.started }
func (s *Subscription) Done() <-chan struct{} { return s.done }
func (s *Subscription) Cancel() { s.cancel() }

// Err returns the *ConnectionError of a failed subscription, nil otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Subscription) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Registry owns every active subscription. Mutations are serialized by mu;
// completion callbacks run on the subscription goroutine.
type Registry struct {
	metrics port.Metrics

	mu       sync.Mutex
	active   map[string]*Subscription
	order    []*Subscription
	finished []*Subscription
}

// NewRegistry 创建订阅注册表
func NewRegistry(metrics port.Metrics) *Registry {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Registry{
		metrics: metrics,
		active:  make(map[string]*Subscription),
	}
}

// Register starts run in its own goroutine under a child context of ctx.
// A duplicate id is rejected and the existing entry is left untouched.
func (r *Registry) Register(ctx context.Context, id string, run func(ctx context.Context) error) (*Subscription, error) {
	r.mu.Lock()
	if _, exists := r.active[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, id)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:      id,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		outcome: OutcomeRunning,
	}
	r.active[id] = sub
	r.order = append(r.order, sub)
	r.mu.Unlock()

	log.Debug().Str("sub", id).Msg("subscription registered")

	go func() {
		err := run(sctx)
		r.complete(sctx, sub, err)
	}()
	return sub, nil
}

func (r *Registry) complete(ctx context.Context, sub *Subscription, err error) {
	outcome := OutcomeCompleted
	var subErr error
	switch {
	case ctx.Err() != nil, errors.Is(err, ErrClosedBus):
		outcome = OutcomeCancelled
	case err != nil:
		outcome = OutcomeFailed
		subErr = &ConnectionError{ID: sub.id, Err: err}
	}

	// outcome is final before the entry becomes visible in Finished
	sub.mu.Lock()
	sub.ended = time.Now()
	sub.err = subErr
	sub.outcome = outcome
	sub.mu.Unlock()

	r.mu.Lock()
	delete(r.active, sub.id)
	for i, s := range r.order {
		if s == sub {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.finished = append(r.finished, sub)
	r.mu.Unlock()
	sub.cancel()
	close(sub.done)

	r.metrics.SubscriptionEnded(string(outcome))
	switch outcome {
	case OutcomeFailed:
		log.Error().Str("sub", sub.id).Err(err).Msg("subscription failed")
	case OutcomeCompleted:
		log.Info().Str("sub", sub.id).Msg("subscription closed by venue")
	default:
		log.Debug().Str("sub", sub.id).Msg("subscription cancelled")
	}
}

// List 活跃订阅（按注册顺序）
func (r *Registry) List() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, len(r.order))
	copy(out, r.order)
	return out
}

// Finished 已结束订阅（按结束顺序）
func (r *Registry) Finished() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, len(r.finished))
	copy(out, r.finished)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// WaitAll blocks until every currently active subscription has ended.
func (r *Registry) WaitAll(ctx context.Context) error {
	for _, sub := range r.List() {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CancelAll cancels every active subscription and waits for them to stop
// until ctx ends. Subscriptions still running at that point are returned in a
// *StragglerError.
func (r *Registry) CancelAll(ctx context.Context) error {
	subs := r.List()
	for _, sub := range subs {
		sub.Cancel()
	}

	var stragglers []string
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			select {
			case <-sub.Done():
			default:
				stragglers = append(stragglers, sub.id)
			}
		}
	}
	if len(stragglers) > 0 {
		return &StragglerError{IDs: stragglers}
	}
	return nil
}
