package observability

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mavuno/native/lending"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics

	onrampMetricsOnce sync.Once
	onrampRegistry    *OnrampMetrics
)

// ModuleMetrics returns the lazily-initialised HTTP metrics registry used to
// record gateway route activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route group, route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route group, route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mavuno",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route group
// and reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks committed and rejected ledger transactions.
type LedgerMetrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// Ledger returns the singleton registry for ledger transactions.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "ledger",
				Name:      "ops_total",
				Help:      "Ledger transactions segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mavuno",
				Subsystem: "ledger",
				Name:      "op_duration_seconds",
				Help:      "Time spent holding the ledger writer lock per operation.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"module", "op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "ledger",
				Name:      "failures_total",
				Help:      "Rejected ledger transactions segmented by module and reason.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.ops,
			ledgerRegistry.latency,
			ledgerRegistry.failures,
		)
	})
	return ledgerRegistry
}

// Observe records one ledger transaction. Its signature matches the node's
// operation observer so it can be installed directly.
func (m *LedgerMetrics) Observe(module, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	module = labelOr(module, "unknown")
	op = labelOr(op, "unknown")
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
		m.failures.WithLabelValues(module, failureReason(err)).Inc()
	}
	m.ops.WithLabelValues(module, op, outcome).Inc()
	m.latency.WithLabelValues(module, op).Observe(elapsed.Seconds())
}

// failureReason reduces an error chain to its innermost message so sentinel
// errors become stable, low-cardinality labels.
func failureReason(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, ": "); ok && !strings.Contains(rest, ": ") {
		msg = rest
	}
	return labelOr(msg, "unknown")
}

// PoolMetrics exposes the aggregate state of each lending pool.
type PoolMetrics struct {
	supplied    *prometheus.GaugeVec
	borrowed    *prometheus.GaugeVec
	reserves    *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	borrowRate  *prometheus.GaugeVec
	supplyRate  *prometheus.GaugeVec
}

// Pools returns the singleton registry for pool gauges.
func Pools() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		gauge := func(name, help string) *prometheus.GaugeVec {
			return prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mavuno",
				Subsystem: "pool",
				Name:      name,
				Help:      help,
			}, []string{"currency"})
		}
		poolRegistry = &PoolMetrics{
			supplied:    gauge("total_supplied", "Supplier value in fiat minor units."),
			borrowed:    gauge("total_borrowed", "Outstanding debt in fiat minor units."),
			reserves:    gauge("reserves", "Protocol reserves in fiat minor units."),
			utilization: gauge("utilization_ratio", "Borrowed over supplied (0-1)."),
			borrowRate:  gauge("borrow_rate_bps", "Current borrow APR in basis points."),
			supplyRate:  gauge("supply_rate_bps", "Current supply APR in basis points."),
		}
		prometheus.MustRegister(
			poolRegistry.supplied,
			poolRegistry.borrowed,
			poolRegistry.reserves,
			poolRegistry.utilization,
			poolRegistry.borrowRate,
			poolRegistry.supplyRate,
		)
	})
	return poolRegistry
}

// Record publishes a pool snapshot.
func (m *PoolMetrics) Record(snap *lending.Snapshot) {
	if m == nil || snap == nil {
		return
	}
	label := labelCurrency(snap.Currency)
	m.supplied.WithLabelValues(label).Set(bigToFloat(snap.TotalSupplied))
	m.borrowed.WithLabelValues(label).Set(bigToFloat(snap.TotalBorrowed))
	m.reserves.WithLabelValues(label).Set(bigToFloat(snap.Reserves))
	m.utilization.WithLabelValues(label).Set(float64(snap.UtilizationBps) / 10_000)
	m.borrowRate.WithLabelValues(label).Set(float64(snap.BorrowRateBps))
	m.supplyRate.WithLabelValues(label).Set(float64(snap.SupplyRateBps))
}

// OnrampMetrics wraps collectors tracking the payment on-ramp.
type OnrampMetrics struct {
	payments *prometheus.CounterVec
	minted   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Onramp exposes the metrics registry for the payment on-ramp.
func Onramp() *OnrampMetrics {
	onrampMetricsOnce.Do(func() {
		onrampRegistry = &OnrampMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "onramp",
				Name:      "payments_total",
				Help:      "Payment notifications segmented by purpose and outcome.",
			}, []string{"purpose", "outcome"}),
			minted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mavuno",
				Subsystem: "onramp",
				Name:      "minted_total",
				Help:      "Fiat minted for settled payments in minor units.",
			}, []string{"currency"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mavuno",
				Subsystem: "onramp",
				Name:      "settlement_duration_seconds",
				Help:      "Latency from webhook receipt to settled ledger state.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"purpose"}),
		}
		prometheus.MustRegister(
			onrampRegistry.payments,
			onrampRegistry.minted,
			onrampRegistry.latency,
		)
	})
	return onrampRegistry
}

// RecordPayment counts one notification. Outcomes should be stable strings
// such as "settled", "duplicate", "rejected" or "failed".
func (m *OnrampMetrics) RecordPayment(purpose, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(labelOr(purpose, "unknown"), labelOr(outcome, "unknown")).Inc()
}

// RecordSettlement records a settled payment's minted amount and latency.
func (m *OnrampMetrics) RecordSettlement(purpose, currency string, amount *big.Int, d time.Duration) {
	if m == nil {
		return
	}
	m.minted.WithLabelValues(labelCurrency(currency)).Add(bigToFloat(amount))
	m.latency.WithLabelValues(labelOr(purpose, "unknown")).Observe(d.Seconds())
}

func labelOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func labelCurrency(currency string) string {
	trimmed := strings.TrimSpace(currency)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() < 0 {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
