// Package metrics registers the Prometheus collectors of the pricing engine.
package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "micaa_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	priceRequests *prometheus.CounterVec
	priceLatency  *prometheus.HistogramVec

	recomputeTotal   *prometheus.CounterVec
	recomputeLatency *prometheus.HistogramVec

	globalAdjustmentTotal     *prometheus.CounterVec
	globalAdjustmentLatency   *prometheus.HistogramVec
	globalAdjustmentMaterials prometheus.Counter

	pricingWarnings *prometheus.CounterVec

	exportTotal *prometheus.CounterVec
)

// Init registers the collectors once. A non-nil db also registers catalog gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		priceRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unit_price_requests_total",
				Help: "Total unit price computations by result",
			},
			[]string{"result"},
		)
		priceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "unit_price_latency_seconds",
				Help:    "Unit price computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		recomputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recompute_total",
				Help: "Total persisted recomputes by scope and result",
			},
			[]string{"scope", "result"},
		)
		recomputeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "recompute_latency_seconds",
				Help:    "Recompute latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scope", "result"},
		)

		globalAdjustmentTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "global_adjustment_total",
				Help: "Total global price adjustments by result",
			},
			[]string{"result"},
		)
		globalAdjustmentLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "global_adjustment_latency_seconds",
				Help:    "Global price adjustment latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		globalAdjustmentMaterials = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "global_adjustment_materials_total",
				Help: "Total material prices rewritten by global adjustments",
			},
		)

		pricingWarnings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pricing_warnings_total",
				Help: "Total pricing warnings by code",
			},
			[]string{"code"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "apu_export_total",
				Help: "Total APU spreadsheet exports by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			priceRequests,
			priceLatency,
			recomputeTotal,
			recomputeLatency,
			globalAdjustmentTotal,
			globalAdjustmentLatency,
			globalAdjustmentMaterials,
			pricingWarnings,
			exportTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveUnitPrice records one unit price computation.
func ObserveUnitPrice(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if priceRequests != nil {
		priceRequests.WithLabelValues(result).Inc()
	}
	if priceLatency != nil {
		priceLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveRecompute records a persisted recompute; scope is "activity" or "all".
func ObserveRecompute(scope, result string, duration time.Duration) {
	if scope == "" {
		scope = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if recomputeTotal != nil {
		recomputeTotal.WithLabelValues(scope, result).Inc()
	}
	if recomputeLatency != nil {
		recomputeLatency.WithLabelValues(scope, result).Observe(duration.Seconds())
	}
}

// ObserveGlobalAdjustment records a global adjustment and how many materials it rewrote.
func ObserveGlobalAdjustment(result string, affected int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if globalAdjustmentTotal != nil {
		globalAdjustmentTotal.WithLabelValues(result).Inc()
	}
	if globalAdjustmentLatency != nil {
		globalAdjustmentLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if globalAdjustmentMaterials != nil && affected > 0 {
		globalAdjustmentMaterials.Add(float64(affected))
	}
}

// IncPricingWarning counts a warning attached to a computed price.
func IncPricingWarning(code string) {
	if code == "" {
		code = "unknown"
	}
	if pricingWarnings != nil {
		pricingWarnings.WithLabelValues(code).Inc()
	}
}

func IncExport(result string) {
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(result).Inc()
	}
}

// Result returns the result label for err.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ScopeActivity = "activity"
	ScopeAll      = "all"
)
