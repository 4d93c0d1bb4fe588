package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike   AlertType = "login_failure_spike"
	AlertRefreshFailureSpike AlertType = "refresh_failure_spike"
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

const (
	defaultLoginFailureWindow      = 1 * time.Minute
	defaultLoginFailureThreshold   = 50
	defaultRefreshFailureWindow    = 5 * time.Minute
	defaultRefreshFailureThreshold = 20
)

// spikeDetector counts events in a sliding window and fires once the
// threshold is reached.
type spikeDetector struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	events    []time.Time
}

func (d *spikeDetector) record(now time.Time) (AlertEvent, bool) {
	d.events = append(d.events, now)
	d.events = trimWindow(d.events, now, d.window)
	if len(d.events) < d.threshold {
		return AlertEvent{}, false
	}
	ev := AlertEvent{
		Type:      d.alert,
		Message:   d.message,
		Count:     len(d.events),
		Threshold: d.threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	d.events = d.events[:0]
	return ev, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu              sync.Mutex
	now             func() time.Time
	loginFailures   spikeDetector
	refreshFailures spikeDetector
	alertFn         AlertFunc
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now: time.Now,
		loginFailures: spikeDetector{
			alert:     AlertLoginFailureSpike,
			message:   "login failure rate exceeds threshold",
			window:    defaultLoginFailureWindow,
			threshold: defaultLoginFailureThreshold,
		},
		refreshFailures: spikeDetector{
			alert:     AlertRefreshFailureSpike,
			message:   "connection refresh failure rate exceeds threshold",
			window:    defaultRefreshFailureWindow,
			threshold: defaultRefreshFailureThreshold,
		},
		alertFn: alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	var d *spikeDetector
	switch event {
	case AuditLoginFailure:
		d = &m.loginFailures
	case AuditConnectionRefreshFailed:
		d = &m.refreshFailures
	default:
		return
	}

	m.mu.Lock()
	ev, fire := d.record(m.now())
	m.mu.Unlock()
	if fire {
		m.alertFn(ev)
	}
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
