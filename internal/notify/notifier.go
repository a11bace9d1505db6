package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"energy-insight/internal/analytics/anomaly"
	"energy-insight/internal/observability/metrics"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// AnomalyNotifier forwards detected anomalies through a channel. It
// filters by minimum severity and suppresses repeats for the same
// device and anomaly type within the cooldown window.
type AnomalyNotifier struct {
	channel     Channel
	minSeverity anomaly.Severity
	cooldown    time.Duration
	clock       Clock
	logger      *log.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Option configures the notifier.
type Option func(*AnomalyNotifier)

// WithMinSeverity drops anomalies below the given severity.
func WithMinSeverity(severity anomaly.Severity) Option {
	return func(n *AnomalyNotifier) {
		if severity.Valid() {
			n.minSeverity = severity
		}
	}
}

// WithCooldown sets the minimum interval between notifications for
// the same device and anomaly type.
func WithCooldown(interval time.Duration) Option {
	return func(n *AnomalyNotifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *AnomalyNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *AnomalyNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewAnomalyNotifier constructs an anomaly notifier.
func NewAnomalyNotifier(channel Channel, opts ...Option) (*AnomalyNotifier, error) {
	if channel == nil {
		return nil, errors.New("anomaly notifier: nil channel")
	}
	n := &AnomalyNotifier{
		channel:     channel,
		minSeverity: anomaly.SeverityMedium,
		cooldown:    30 * time.Minute,
		clock:       systemClock{},
		logger:      log.Default(),
		lastSent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyAnomalies sends one message per anomaly that passes the
// severity filter and the cooldown. Channel failures are logged, not
// returned; detection must not depend on delivery.
func (n *AnomalyNotifier) NotifyAnomalies(ctx context.Context, anomalies []anomaly.Anomaly) {
	if n == nil || n.channel == nil {
		return
	}
	for _, item := range anomalies {
		if item.Severity.Rank() < n.minSeverity.Rank() {
			continue
		}
		if !n.shouldSend(item) {
			continue
		}
		if err := n.channel.Send(ctx, formatAnomaly(item)); err != nil {
			n.logger.Printf("notify: send anomaly for %s: %v", item.DeviceName, err)
			metrics.IncNotification(metrics.ResultError)
			continue
		}
		n.markSent(item)
		metrics.IncNotification(metrics.ResultSuccess)
	}
}

func (n *AnomalyNotifier) shouldSend(item anomaly.Anomaly) bool {
	if n.cooldown <= 0 {
		return true
	}
	key := notificationKey(item)
	now := n.clock.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	if sentAt, ok := n.lastSent[key]; ok && now.Sub(sentAt) < n.cooldown {
		return false
	}
	return true
}

func (n *AnomalyNotifier) markSent(item anomaly.Anomaly) {
	n.mu.Lock()
	n.lastSent[notificationKey(item)] = n.clock.Now().UTC()
	n.mu.Unlock()
}

func notificationKey(item anomaly.Anomaly) string {
	return item.DeviceName + "|" + string(item.Type)
}

func formatAnomaly(item anomaly.Anomaly) string {
	var b strings.Builder
	b.WriteString("[Energy Alert]\n")
	fmt.Fprintf(&b, "Device: %s\n", item.DeviceName)
	fmt.Fprintf(&b, "Type: %s\n", item.Type)
	fmt.Fprintf(&b, "Severity: %s\n", item.Severity)
	fmt.Fprintf(&b, "Detail: %s\n", item.Message)
	fmt.Fprintf(&b, "At: %s\n", item.Timestamp.UTC().Format(time.RFC3339))
	return strings.TrimSpace(b.String())
}
