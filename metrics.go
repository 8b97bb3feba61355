package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID names one in-process counter or histogram.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricMailDeliveryFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginEmailNotVerified
	MetricPasswordUpgraded
	MetricTwoFactorRequired
	MetricTOTPSetup
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplay
	MetricTOTPReset
	MetricEmailVerificationRequest
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricTokenReplayDetected
	MetricTokenAttemptsExceeded
	MetricRateLimitHit
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	// Histograms. Keep these last; counterCount depends on it.
	MetricLoginLatency
	MetricTokenValidateLatency
	metricIDCount
)

const counterCount = int(MetricLoginLatency)

// latencyBounds are the inclusive upper edges of every bucket but the last,
// which catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

var histogramIDs = [...]MetricID{MetricLoginLatency, MetricTokenValidateLatency}

type latencyHistogram [histBucketCount]atomic.Uint64

func (h *latencyHistogram) record(d time.Duration) {
	i := 0
	for i < len(latencyBounds) && d > latencyBounds[i] {
		i++
	}
	h[i].Add(1)
}

func (h *latencyHistogram) load() []uint64 {
	out := make([]uint64, histBucketCount)
	for i := range h {
		out[i] = h[i].Load()
	}
	return out
}

// counterSlot keeps hot counters on separate cache lines.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters and latency histograms.
// The zero value counts nothing; use NewMetrics.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [counterCount]counterSlot
	latency       [len(histogramIDs)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics. Histograms holds
// per-bucket (non-cumulative) counts in latencyBounds order.
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
	if !m.Enabled() || int(id) >= counterCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d in the histogram for id. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	if h := m.histogram(id); h != nil {
		h.record(d)
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || int(id) >= counterCount {
		return 0
	}
	return m.counters[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for i := range m.counters {
		s.Counters[MetricID(i)] = m.counters[i].n.Load()
	}
	if m.enableLatency {
		for i, id := range histogramIDs {
			s.Histograms[id] = m.latency[i].load()
		}
	}
	return s
}

func (m *Metrics) histogram(id MetricID) *latencyHistogram {
	for i, hid := range histogramIDs {
		if hid == id {
			return &m.latency[i]
		}
	}
	return nil
}
