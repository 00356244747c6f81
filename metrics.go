package hybridAuth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricAccountLocked
	MetricFederatedLoginSuccess
	MetricFederatedLoginFailure
	MetricLinkCreated
	MetricLinkBySub
	MetricLinkByEmail
	MetricLinkDenied
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricSessionCreated
	MetricLogout
	MetricLogoutAll
	MetricAuthorizeAllowed
	MetricAuthorizeDenied
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricRateLimitHit
	MetricAuthorizeLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:                "login_success_total",
	MetricLoginFailure:                "login_failure_total",
	MetricAccountLocked:               "account_locked_total",
	MetricFederatedLoginSuccess:       "federated_login_success_total",
	MetricFederatedLoginFailure:       "federated_login_failure_total",
	MetricLinkCreated:                 "link_created_total",
	MetricLinkBySub:                   "link_by_sub_total",
	MetricLinkByEmail:                 "link_by_email_total",
	MetricLinkDenied:                  "link_denied_total",
	MetricRefreshSuccess:              "refresh_success_total",
	MetricRefreshFailure:              "refresh_failure_total",
	MetricRefreshReuseDetected:        "refresh_reuse_detected_total",
	MetricSessionCreated:              "session_created_total",
	MetricLogout:                      "logout_total",
	MetricLogoutAll:                   "logout_all_total",
	MetricAuthorizeAllowed:            "authorize_allowed_total",
	MetricAuthorizeDenied:             "authorize_denied_total",
	MetricPasswordChangeSuccess:       "password_change_success_total",
	MetricPasswordChangeFailure:       "password_change_failure_total",
	MetricPasswordResetRequest:        "password_reset_request_total",
	MetricPasswordResetConfirmSuccess: "password_reset_confirm_success_total",
	MetricPasswordResetConfirmFailure: "password_reset_confirm_failure_total",
	MetricEmailVerificationRequest:    "email_verification_request_total",
	MetricEmailVerificationSuccess:    "email_verification_success_total",
	MetricEmailVerificationFailure:    "email_verification_failure_total",
	MetricRateLimitHit:                "rate_limit_hit_total",
	MetricAuthorizeLatency:            "authorize_latency",
}

// String returns the exported metric name.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every counter in declaration order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets. The last
// bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters plus one latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d. Only MetricAuthorizeLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthorizeLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAuthorizeLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthorizeLatency].buckets[i])
		}
		s.Histograms[MetricAuthorizeLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
