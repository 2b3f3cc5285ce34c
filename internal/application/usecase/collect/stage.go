package collect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// drop reasons reported to metrics
const (
	DropFiltered       = "filtered"
	DropPredicateError = "predicate_error"
	DropFormatError    = "format_error"
	DropSinkFailed     = "sink_failed"
	DropDeadline       = "deadline"
)

// Stage is one filter in the chain. Stages keep no state between events.
type Stage interface {
	Name() string
	Keep(ev model.Event) (bool, error)
}

// KindFilter keeps events of one kind.
type KindFilter struct {
	kind model.Kind
}

func NewKindFilter(kind model.Kind) *KindFilter { return &KindFilter{kind: kind} }

func (f *KindFilter) Name() string { return "kind==" + string(f.kind) }

func (f *KindFilter) Keep(ev model.Event) (bool, error) { return ev.Kind() == f.kind, nil }

// PredicateFilter keeps events matching a compiled expression.
type PredicateFilter struct {
	pred *Predicate
}

func NewPredicateFilter(expr string) (*PredicateFilter, error) {
	p, err := CompilePredicate(expr)
	if err != nil {
		return nil, err
	}
	return &PredicateFilter{pred: p}, nil
}

func (f *PredicateFilter) Name() string { return "filter(" + f.pred.String() + ")" }

func (f *PredicateFilter) Keep(ev model.Event) (bool, error) { return f.pred.Match(ev) }

// PipelineOptions 管道配置（由 CLI/配置层校验后传入）
type PipelineOptions struct {
	Kind    model.Kind // empty keeps every kind
	Filters []string
	Format  Format
}

// Pipeline applies the stages in order and renders survivors with the
// formatter. It is driven by a single consumer goroutine.
type Pipeline struct {
	stages    []Stage
	formatter *Formatter
	metrics   port.Metrics
	dropLog   zerolog.Logger
}

// NewPipeline 按给定顺序组装管道
func NewPipeline(formatter *Formatter, metrics port.Metrics, stages ...Stage) *Pipeline {
	if formatter == nil {
		formatter = NewFormatter(FormatEvents)
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Pipeline{
		stages:    stages,
		formatter: formatter,
		metrics:   metrics,
		dropLog:   log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
	}
}

// BuildPipeline compiles opts into a pipeline: kind filter first, then the
// filter expressions in the given order.
func BuildPipeline(opts PipelineOptions, metrics port.Metrics) (*Pipeline, error) {
	var stages []Stage
	if opts.Kind != "" {
		stages = append(stages, NewKindFilter(opts.Kind))
	}
	for _, expr := range opts.Filters {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		f, err := NewPredicateFilter(expr)
		if err != nil {
			return nil, err
		}
		stages = append(stages, f)
	}
	return NewPipeline(NewFormatter(opts.Format), metrics, stages...), nil
}

// Stages 返回各阶段名称
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Process runs ev through every stage. Errors never escape: a failing stage
// drops the event, which is logged and counted.
func (p *Pipeline) Process(ev model.Event) (port.Record, bool) {
	for _, s := range p.stages {
		keep, err := s.Keep(ev)
		if err != nil {
			p.metrics.EventDropped(DropPredicateError)
			p.dropLog.Warn().Err(err).Str("stage", s.Name()).Str("event", string(ev.Kind())).Msg("event dropped")
			return port.Record{}, false
		}
		if !keep {
			p.metrics.EventDropped(DropFiltered)
			return port.Record{}, false
		}
	}

	line, err := p.formatter.Render(ev)
	if err != nil {
		p.metrics.EventDropped(DropFormatError)
		p.dropLog.Error().Err(fmt.Errorf("render %s: %w", ev.Kind(), err)).Msg("event dropped")
		return port.Record{}, false
	}
	return port.Record{Event: ev, Line: line}, true
}

// IsFieldAbsent reports whether err comes from a filter referencing a field
// the event kind does not carry.
func IsFieldAbsent(err error) bool { return errors.Is(err, ErrFieldAbsent) }
