package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace 排空阶段的固定宽限期
const DefaultGrace = time.Second

// consumerSettle bounds the wait for an in-progress sink write once the grace
// window has expired.
const consumerSettle = 50 * time.Millisecond

// ErrServiceStarted is returned by Listen and Run once the run has begun.
var ErrServiceStarted = errors.New("collect service already started")

// State 运行状态机：Idle → Running → Draining → Stopped
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StopReason records what moved the run into Draining.
type StopReason string

const (
	StopBudget            StopReason = "budget_elapsed"
	StopRequested         StopReason = "stop_requested"
	StopContext           StopReason = "context_done"
	StopSubscriptionsDone StopReason = "subscriptions_done"
	StopSinkFailed        StopReason = "sink_failed"
)

type ServiceDeps struct {
	Pipeline *Pipeline
	Sink     port.Sink
	Budget   time.Duration // <= 0 runs until stopped
	Grace    time.Duration
	BusSize  int
	Metrics  port.Metrics
}

// Summary 运行结束后的汇总
type Summary struct {
	RunID      string
	StartedAt  time.Time
	StoppedAt  time.Time
	Reason     StopReason
	Completed  []string
	Failed     map[string]string // id -> error
	Cancelled  []string
	Stragglers []string
	Received   int64
	Written    int64
	Dropped    int64
}

type listenSpec struct {
	id      string
	feed    port.Feed
	pair    string
	channel port.Channel
}

// Service is the run coordinator: it wires feeds into the bus, drives the
// pipeline and sink from one consumer goroutine, and shuts everything down
// when the budget elapses, Stop is called, ctx ends, every subscription has
// finished or the sink fails.
type Service struct {
	deps     ServiceDeps
	registry *Registry
	bus      *Bus

	state atomic.Int32

	mu    sync.Mutex
	specs []listenSpec
	ids   map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once

	received atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
}

func NewService(deps ServiceDeps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics()
	}
	if deps.Grace <= 0 {
		deps.Grace = DefaultGrace
	}
	if deps.Pipeline == nil {
		deps.Pipeline = NewPipeline(NewFormatter(FormatEvents), deps.Metrics)
	}
	return &Service{
		deps:     deps,
		registry: NewRegistry(deps.Metrics),
		bus:      NewBus(deps.BusSize),
		ids:      make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Listen queues a subscription to (feed, pair, channel). It is started by Run.
func (s *Service) Listen(feed port.Feed, pair string, channel port.Channel) (string, error) {
	if s.State() != StateIdle {
		return "", ErrServiceStarted
	}
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return "", errors.New("empty pair")
	}
	if !port.SupportsChannel(feed, channel) {
		return "", fmt.Errorf("%s does not support channel %q", feed.Name(), channel)
	}
	id := SubscriptionID(feed.Name(), pair, channel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSubscription, id)
	}
	s.ids[id] = struct{}{}
	s.specs = append(s.specs, listenSpec{id: id, feed: feed, pair: pair, channel: channel})
	return id, nil
}

// Stop requests a graceful shutdown. Safe to call more than once and before Run.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("collect state")
}

// Run drives the assembly until one of the stop conditions fires, then drains
// for at most one grace period and releases the bus and the sink. It always
// reaches StateStopped; the returned error is the sink failure, if any.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if s.deps.Sink == nil {
		return Summary{}, errors.New("collect: no sink configured")
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Summary{}, ErrServiceStarted
	}

	sum := Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := log.With().Str("run", sum.RunID).Logger()

	var deadline <-chan time.Time
	if s.deps.Budget > 0 {
		timer := time.NewTimer(s.deps.Budget)
		defer timer.Stop()
		deadline = timer.C
	}

	events, err := s.bus.Subscribe()
	if err != nil {
		return sum, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	// the consumer outlives ctx so buffered events can drain after cancellation
	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	defer cancelConsume()

	sinkFailed := make(chan struct{})
	consumerDone := make(chan struct{})
	allDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(consumerDone)
		return s.consume(consumeCtx, events, sinkFailed)
	})

	s.mu.Lock()
	specs := append([]listenSpec(nil), s.specs...)
	s.mu.Unlock()
	for _, sp := range specs {
		sp := sp
		pub := &countingPublisher{svc: s, venue: sp.feed.Name()}
		_, err := s.registry.Register(runCtx, sp.id, func(ctx context.Context) error {
			return sp.feed.Listen(ctx, sp.pair, sp.channel, pub)
		})
		if err != nil {
			logger.Error().Err(err).Str("sub", sp.id).Msg("register subscription failed")
		}
	}

	g.Go(func() error {
		if s.registry.WaitAll(runCtx) == nil {
			close(allDone)
		}
		return nil
	})

	logger.Info().
		Int("subscriptions", len(specs)).
		Dur("budget", s.deps.Budget).
		Strs("stages", s.deps.Pipeline.Stages()).
		Str("sink", s.deps.Sink.Name()).
		Msg("collect running")

	select {
	case <-deadline:
		sum.Reason = StopBudget
	case <-s.stopCh:
		sum.Reason = StopRequested
	case <-ctx.Done():
		sum.Reason = StopContext
	case <-allDone:
		sum.Reason = StopSubscriptionsDone
	case <-sinkFailed:
		sum.Reason = StopSinkFailed
	}

	s.setState(StateDraining)
	logger.Info().Str("reason", string(sum.Reason)).Msg("draining")

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), s.deps.Grace)
	defer cancelGrace()

	if err := s.registry.CancelAll(graceCtx); err != nil {
		var se *StragglerError
		if errors.As(err, &se) {
			sum.Stragglers = se.IDs
		}
		logger.Warn().Err(err).Msg("subscriptions still running after cancel")
	}
	cancelRun()
	s.bus.Close()

	stalled := false
	select {
	case <-consumerDone:
	case <-graceCtx.Done():
		cancelConsume()
		select {
		case <-consumerDone:
		case <-time.After(consumerSettle):
			stalled = true
		}
	}

	var runErr error
	if stalled {
		// a Write that ignores ctx (e.g. an unread stdout pipe) must not keep the run alive
		logger.Warn().Str("sink", s.deps.Sink.Name()).Dur("grace", s.deps.Grace).Msg("sink write still pending after grace, abandoning it")
		runErr = fmt.Errorf("%w: %s", ErrSinkStalled, s.deps.Sink.Name())
		go func() {
			if err := s.deps.Sink.Close(); err != nil {
				log.Error().Err(err).Str("sink", s.deps.Sink.Name()).Msg("close stalled sink failed")
			}
		}()
	} else {
		runErr = g.Wait()
		if err := s.deps.Sink.Close(); err != nil {
			logger.Error().Err(err).Str("sink", s.deps.Sink.Name()).Msg("close sink failed")
			runErr = errors.Join(runErr, fmt.Errorf("close sink %s: %w", s.deps.Sink.Name(), err))
		}
	}
	s.setState(StateStopped)

	s.fillSummary(&sum)
	logger.Info().
		Str("reason", string(sum.Reason)).
		Int("completed", len(sum.Completed)).
		Int("failed", len(sum.Failed)).
		Int("cancelled", len(sum.Cancelled)).
		Int64("received", sum.Received).
		Int64("written", sum.Written).
		Int64("dropped", sum.Dropped).
		Dur("elapsed", sum.StoppedAt.Sub(sum.StartedAt)).
		Msg("collect stopped")
	return sum, runErr
}

// consume is the only goroutine touching the pipeline and the sink.
func (s *Service) consume(ctx context.Context, events <-chan model.Event, sinkFailed chan<- struct{}) error {
	var failed *SinkWriteError
	result := func() error {
		if failed != nil {
			return failed
		}
		return nil
	}
	// events left in the buffer after the cutoff are counted, not processed
	dropRest := func() {
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
				s.drop(DropDeadline)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			dropRest()
			return result()
		case ev, ok := <-events:
			if !ok {
				return result()
			}
			if ctx.Err() != nil {
				s.drop(DropDeadline)
				dropRest()
				return result()
			}
			if failed != nil {
				s.drop(DropSinkFailed)
				continue
			}

			rec, keep := s.deps.Pipeline.Process(ev)
			if !keep {
				s.dropped.Add(1)
				continue
			}
			if err := s.deps.Sink.Write(ctx, rec); err != nil {
				failed = &SinkWriteError{Sink: s.deps.Sink.Name(), Err: err}
				log.Error().Err(failed).Msg("sink unusable, stopping run")
				close(sinkFailed)
				s.drop(DropSinkFailed)
				continue
			}
			s.written.Add(1)
			s.deps.Metrics.EventWritten(s.deps.Sink.Name())
		}
	}
}

func (s *Service) drop(reason string) {
	s.dropped.Add(1)
	s.deps.Metrics.EventDropped(reason)
}

func (s *Service) fillSummary(sum *Summary) {
	sum.StoppedAt = time.Now()
	sum.Received = s.received.Load()
	sum.Written = s.written.Load()
	sum.Dropped = s.dropped.Load()
	sum.Failed = make(map[string]string)
	for _, sub := range s.registry.Finished() {
		log.Debug().
			Str("sub", sub.ID()).
			Str("outcome", string(sub.Outcome())).
			Time("started", sub.StartedAt()).
			Dur("lifetime", sub.EndedAt().Sub(sub.StartedAt())).
			Msg("subscription ended")
		switch sub.Outcome() {
		case OutcomeCompleted:
			sum.Completed = append(sum.Completed, sub.ID())
		case OutcomeFailed:
			sum.Failed[sub.ID()] = sub.Err().Error()
		default:
			sum.Cancelled = append(sum.Cancelled, sub.ID())
		}
	}
}

// countingPublisher 统计每个 venue 发布到总线的事件
type countingPublisher struct {
	svc   *Service
	venue string
}

func (p *countingPublisher) Publish(ctx context.Context, ev model.Event) error {
	if err := p.svc.bus.Publish(ctx, ev); err != nil {
		return err
	}
	p.svc.received.Add(1)
	p.svc.deps.Metrics.EventPublished(p.venue)
	return nil
}
