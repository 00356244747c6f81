package internaldefs

import (
	hybridAuth "github.com/MrEthical07/hybridAuth"
)

// Namespace prefixes every exported metric name.
const Namespace = "hybridauth"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   hybridAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   hybridAuth.MetricID
	Name string
	Help string
}

var counterHelp = map[hybridAuth.MetricID]string{
	hybridAuth.MetricLoginSuccess:                "Successful password logins.",
	hybridAuth.MetricLoginFailure:                "Rejected password logins.",
	hybridAuth.MetricAccountLocked:               "Accounts locked after repeated failures.",
	hybridAuth.MetricFederatedLoginSuccess:       "Successful federated logins.",
	hybridAuth.MetricFederatedLoginFailure:       "Rejected federated logins.",
	hybridAuth.MetricLinkCreated:                 "Accounts provisioned from a federated identity.",
	hybridAuth.MetricLinkBySub:                   "Federated identities resolved by subject.",
	hybridAuth.MetricLinkByEmail:                 "Federated identities linked by verified email.",
	hybridAuth.MetricLinkDenied:                  "Federated identities that could not be linked.",
	hybridAuth.MetricRefreshSuccess:              "Successful refresh operations.",
	hybridAuth.MetricRefreshFailure:              "Failed refresh operations.",
	hybridAuth.MetricRefreshReuseDetected:        "Refresh tokens presented after rotation.",
	hybridAuth.MetricSessionCreated:              "Refresh sessions created.",
	hybridAuth.MetricLogout:                      "Single-session logouts.",
	hybridAuth.MetricLogoutAll:                   "Logout-all operations.",
	hybridAuth.MetricAuthorizeAllowed:            "Authorization checks that passed.",
	hybridAuth.MetricAuthorizeDenied:             "Authorization checks that failed.",
	hybridAuth.MetricPasswordChangeSuccess:       "Successful password changes.",
	hybridAuth.MetricPasswordChangeFailure:       "Rejected password changes.",
	hybridAuth.MetricPasswordResetRequest:        "Password reset requests.",
	hybridAuth.MetricPasswordResetConfirmSuccess: "Completed password resets.",
	hybridAuth.MetricPasswordResetConfirmFailure: "Rejected password reset confirmations.",
	hybridAuth.MetricEmailVerificationRequest:    "Email verification requests.",
	hybridAuth.MetricEmailVerificationSuccess:    "Completed email verifications.",
	hybridAuth.MetricEmailVerificationFailure:    "Rejected email verifications.",
	hybridAuth.MetricRateLimitHit:                "Requests denied by a throttle.",
}

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the engine histograms.
var HistogramDefs = []HistogramDef{
	{ID: hybridAuth.MetricAuthorizeLatency, Name: Namespace + "_authorize_latency_seconds", Help: "Authorize latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure or
// sink failure.
const AuditDroppedName = Namespace + "_audit_dropped_total"

func buildCounterDefs() []CounterDef {
	out := make([]CounterDef, 0, len(counterHelp))
	for _, id := range hybridAuth.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		out = append(out, CounterDef{ID: id, Name: Namespace + "_" + id.String(), Help: help})
	}
	return out
}

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = len(hybridAuth.HistogramBounds) + 1

// HistogramUpperBounds are the finite bucket bounds in seconds.
var HistogramUpperBounds = upperBounds()

// HistogramBounds are the le labels, ending in +Inf.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func upperBounds() []float64 {
	out := make([]float64, len(hybridAuth.HistogramBounds))
	for i, d := range hybridAuth.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
