// Package metrics exposes the collect pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"coin/internal/application/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "coin"

// Collector implements port.Metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	written   *prometheus.CounterVec
	ended     *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to the bus, by venue",
		}, []string{"venue"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded before reaching the sink, by reason",
		}, []string{"reason"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Records accepted by the sink",
		}, []string{"sink"}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_ended_total",
			Help:      "Subscriptions that ended, by outcome",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		c.published, c.dropped, c.written, c.ended,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) EventPublished(venue string) { c.published.WithLabelValues(venue).Inc() }
func (c *Collector) EventDropped(reason string) { c.dropped.WithLabelValues(reason).Inc() }
func (c *Collector) EventWritten(sink string) { c.written.WithLabelValues(sink).Inc() }
func (c *Collector) SubscriptionEnded(outcome string) { c.ended.WithLabelValues(outcome).Inc() }

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var _ port.Metrics = (*Collector)(nil)
