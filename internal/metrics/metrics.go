package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const namespace = "order_ledger"

type Metrics struct {
	registry *prometheus.Registry

	BackfillOrders   *prometheus.CounterVec
	CancelledReplay  *prometheus.CounterVec
	Events           *prometheus.CounterVec
	ChainCallRetries *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BackfillOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_orders_total",
			Help:      "Orders processed by the backfill, by outcome.",
		}, []string{"outcome"}),
		CancelledReplay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_cancelled_logs_total",
			Help:      "OrderCancelled logs replayed by the backfill, by outcome.",
		}, []string{"outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Live contract events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		ChainCallRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_call_failures_total",
			Help:      "Failed chain call attempts, by call.",
		}, []string{"call"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backfill_stage_duration_seconds",
			Help:      "Wall time of backfill stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.BackfillOrders,
		m.CancelledReplay,
		m.Events,
		m.ChainCallRetries,
		m.StageDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, log *logan.Entry, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to shut down metrics server")
		}
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server failed")
	}
	return nil
}
