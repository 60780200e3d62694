// Package notification delivers operator notifications. Delivery is fire-and-forget: failures are
// logged and counted, never returned to the caller.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/metrics"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Notifier is the sink the guard core reports operator-relevant conditions to.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, message string)
}

// Notification is a single delivered message.
type Notification struct {
	Severity Severity
	Title    string
	Message  string
	Time     time.Time
}

// Sink delivers a notification to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to every sink in the background. Identical titles of the
// same severity are suppressed for the cooldown period.
type Dispatcher struct {
	sinks    []Sink
	cooldown time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	wg sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(cooldown time.Duration, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:    sinks,
		cooldown: cooldown,
		timeout:  15 * time.Second,
		logger:   logger.With().Str("component", "notification").Logger(),
		lastSent: make(map[string]time.Time),
	}
}

// Notify queues a notification for delivery and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, severity Severity, title, message string) {
	key := string(severity) + ":" + title

	d.mu.Lock()
	if last, ok := d.lastSent[key]; ok && d.cooldown > 0 && time.Since(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug().Str("title", title).Msg("notification suppressed by cooldown")
		return
	}
	d.lastSent[key] = time.Now()
	d.mu.Unlock()

	n := Notification{Severity: severity, Title: title, Message: message, Time: time.Now().UTC()}
	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()
		for _, s := range d.sinks {
			if err := s.Send(ctx, n); err != nil {
				metrics.NotificationErrors.WithLabelValues(s.Name()).Inc()
				d.logger.Warn().Err(err).Str("sink", s.Name()).Str("title", title).Msg("notification send failed")
				continue
			}
			metrics.NotificationsSent.WithLabelValues(s.Name(), string(severity)).Inc()
		}
	}()
}

// Wait blocks until queued notifications are delivered.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSink writes notifications to the guard log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notification_log").Logger()}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, n Notification) error {
	ev := l.logger.Info()
	switch n.Severity {
	case SeverityWarning:
		ev = l.logger.Warn()
	case SeverityError, SeverityCritical:
		ev = l.logger.Error()
	}
	ev.Str("severity", string(n.Severity)).Str("title", n.Title).Msg(n.Message)
	return nil
}

// Recorder is an in-memory Notifier that keeps every notification. Used in tests.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify records the notification synchronously.
func (r *Recorder) Notify(_ context.Context, severity Severity, title, message string) {
	r.mu.Lock()
	r.list = append(r.list, Notification{Severity: severity, Title: title, Message: message, Time: time.Now()})
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.list...)
}
