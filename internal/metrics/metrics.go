// Package metrics exposes Prometheus instrumentation for the index and the
// plugin dispatcher.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("elysium.metrics")

var (
	// IndexUpdates counts document updates applied per plugin and event.
	IndexUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elysium_index_updates_total",
		Help: "Document updates applied to plugin indexes",
	}, []string{"plugin", "event"})

	// UpdateDuration tracks how long one plugin takes to rescan and apply a document.
	UpdateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "elysium_index_update_duration_seconds",
		Help:    "Rescan and apply duration per plugin",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
	}, []string{"plugin"})

	// PluginFailures counts errors and panics caught at the dispatcher boundary.
	PluginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elysium_plugin_failures_total",
		Help: "Plugin failures isolated by the dispatcher",
	}, []string{"plugin", "operation"})

	// StaleResults counts query results discarded because the document moved on.
	StaleResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elysium_stale_results_total",
		Help: "Query results discarded for closed or superseded documents",
	}, []string{"query"})

	TrackedDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "elysium_tracked_documents",
		Help: "Documents currently tracked by the document store",
	})
)

// ObserveUpdate records a finished update of one plugin started at start.
func ObserveUpdate(plugin string, event string, start time.Time) {
	IndexUpdates.WithLabelValues(plugin, event).Inc()
	UpdateDuration.WithLabelValues(plugin).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("metrics shutdown: %s", err)
		}
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
