package adblock

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/LeFroid/Viper-Browser-sub001/internal/filterstore"
	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes reported to [Metrics].
const (
	OutcomeImportant = "important"
	OutcomeBlock     = "block"
	OutcomeRedirect  = "redirect"
	OutcomeAllowed   = "allowed"
	OutcomePass      = "pass"
)

// Names of the cosmetic caches reported to [Metrics].
const (
	CacheStylesheet = "stylesheet"
	CacheScript     = "script"
)

// Metrics is the interface for the engine's statistics.
type Metrics interface {
	// IncrementDecisions counts a request decision with the given outcome.
	IncrementDecisions(ctx context.Context, outcome string)

	// IncrementCacheLookups counts a lookup in the named cosmetic cache.
	IncrementCacheLookups(ctx context.Context, cache string, hit bool)

	// SetBucketSize sets the number of filters in bucket.
	SetBucketSize(ctx context.Context, bucket filterstore.Bucket, n int)

	// ObserveBuild records the duration of a filter classification.
	ObserveBuild(ctx context.Context, dur time.Duration)

	// IncrementUpdates counts a subscription download.
	IncrementUpdates(ctx context.Context, ok bool)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncrementDecisions implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementDecisions(_ context.Context, _ string) {}

// IncrementCacheLookups implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementCacheLookups(_ context.Context, _ string, _ bool) {}

// SetBucketSize implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetBucketSize(_ context.Context, _ filterstore.Bucket, _ int) {}

// ObserveBuild implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveBuild(_ context.Context, _ time.Duration) {}

// IncrementUpdates implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementUpdates(_ context.Context, _ bool) {}

// subsystem is the prometheus subsystem of the engine metrics.
const subsystem = "adblock"

// PrometheusMetrics is the Prometheus-based implementation of the [Metrics]
// interface.
type PrometheusMetrics struct {
	decisions    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	bucketSize   *prometheus.GaugeVec
	buildTime    prometheus.Histogram
	updates      *prometheus.CounterVec
}

// type check
var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the engine metrics in reg and returns a
// properly initialized *PrometheusMetrics.
func NewPrometheusMetrics(
	namespace string,
	reg prometheus.Registerer,
) (m *PrometheusMetrics, err error) {
	const (
		decisions    = "decisions_total"
		cacheLookups = "cache_lookups_total"
		bucketSize   = "bucket_filters"
		buildTime    = "build_duration_seconds"
		updates      = "subscription_updates_total"
	)

	m = &PrometheusMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      decisions,
			Namespace: namespace,
			Subsystem: subsystem,
			Help:      "The number of request decisions by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      cacheLookups,
			Namespace: namespace,
			Subsystem: subsystem,
			Help: "The number of cosmetic cache lookups.  Label hit is 1 for hits " +
				"and 0 for misses.",
		}, []string{"cache", "hit"}),
		bucketSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      bucketSize,
			Namespace: namespace,
			Subsystem: subsystem,
			Help:      "The number of filters in each classification bucket.",
		}, []string{"bucket"}),
		buildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:      buildTime,
			Namespace: namespace,
			Subsystem: subsystem,
			Help:      "Time spent classifying the filters of all subscriptions.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      updates,
			Namespace: namespace,
			Subsystem: subsystem,
			Help:      "The number of subscription downloads.  Label ok is 1 for successes.",
		}, []string{"ok"}),
	}

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   decisions,
		Value: m.decisions,
	}, {
		Key:   cacheLookups,
		Value: m.cacheLookups,
	}, {
		Key:   bucketSize,
		Value: m.bucketSize,
	}, {
		Key:   buildTime,
		Value: m.buildTime,
	}, {
		Key:   updates,
		Value: m.updates,
	}}

	for _, c := range collectors {
		err = reg.Register(c.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// IncrementDecisions implements the [Metrics] interface for
// *PrometheusMetrics.
func (m *PrometheusMetrics) IncrementDecisions(_ context.Context, outcome string) {
	m.decisions.WithLabelValues(outcome).Inc()
}

// IncrementCacheLookups implements the [Metrics] interface for
// *PrometheusMetrics.
func (m *PrometheusMetrics) IncrementCacheLookups(_ context.Context, cache string, hit bool) {
	m.cacheLookups.WithLabelValues(cache, boolString(hit)).Inc()
}

// SetBucketSize implements the [Metrics] interface for *PrometheusMetrics.
func (m *PrometheusMetrics) SetBucketSize(_ context.Context, bucket filterstore.Bucket, n int) {
	m.bucketSize.WithLabelValues(bucket.String()).Set(float64(n))
}

// ObserveBuild implements the [Metrics] interface for *PrometheusMetrics.
func (m *PrometheusMetrics) ObserveBuild(_ context.Context, dur time.Duration) {
	m.buildTime.Observe(dur.Seconds())
}

// IncrementUpdates implements the [Metrics] interface for *PrometheusMetrics.
func (m *PrometheusMetrics) IncrementUpdates(_ context.Context, ok bool) {
	m.updates.WithLabelValues(boolString(ok)).Inc()
}

func boolString(b bool) (s string) {
	if b {
		return "1"
	}

	return "0"
}
