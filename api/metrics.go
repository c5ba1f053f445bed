package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertSignInFailureSpike  AlertType = "sign_in_failure_spike"
	AlertTokenRejectionSpike AlertType = "token_rejection_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events in a trailing window and fires once the
// threshold is reached, then starts over.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
	alert     AlertType
	message   string
}

// metricsCollector watches audit events for anomalies.
type metricsCollector struct {
	mu      sync.Mutex
	signIn  slidingCounter
	tokens  slidingCounter
	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultSignInFailureWindow    = 1 * time.Minute
	defaultSignInFailureThreshold = 50
	defaultTokenRejectWindow      = 1 * time.Minute
	defaultTokenRejectThreshold   = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		signIn: slidingCounter{
			window:    defaultSignInFailureWindow,
			threshold: defaultSignInFailureThreshold,
			alert:     AlertSignInFailureSpike,
			message:   "sign-in failure rate exceeds threshold",
		},
		tokens: slidingCounter{
			window:    defaultTokenRejectWindow,
			threshold: defaultTokenRejectThreshold,
			alert:     AlertTokenRejectionSpike,
			message:   "rejected token rate exceeds threshold",
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditSignInFailure:
		m.observe(&m.signIn)
	case AuditTokenRejected:
		m.observe(&m.tokens)
	}
}

func (m *metricsCollector) observe(c *slidingCounter) {
	m.mu.Lock()
	now := m.now()
	c.events = trimWindow(append(c.events, now), now, c.window)
	if len(c.events) < c.threshold {
		m.mu.Unlock()
		return
	}
	ev := AlertEvent{
		Type:      c.alert,
		Message:   c.message,
		Count:     len(c.events),
		Threshold: c.threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	c.events = c.events[:0]
	m.mu.Unlock()

	m.alertFn(ev)
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
