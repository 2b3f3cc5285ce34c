package composite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coin/internal/application/port"
)

// Repo fans every record out to all sinks.
type Repo struct {
	sinks []port.Sink
}

func New(sinks ...port.Sink) *Repo {
	// nil sinks are allowed; filter in constructor for safety
	out := make([]port.Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Repo{sinks: out}
}

func (r *Repo) Name() string {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// Write tries every sink and reports the first failure.
func (r *Repo) Write(ctx context.Context, rec port.Record) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Write(ctx, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Repo) Len() int { return len(r.sinks) }

var _ port.Sink = (*Repo)(nil)
