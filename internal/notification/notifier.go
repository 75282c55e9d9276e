// Package notification forwards runner order and exit events to external
// channels (log, Discord, generic webhooks).
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shadowbeta/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info(alert.Title, "level", string(alert.Level), "message", alert.Message)
	return nil
}

// AlertFromEvent maps order, exit and error events to an alert. Signals,
// lifecycle and evaluation events are not forwarded.
func AlertFromEvent(ev model.Event) (Alert, bool) {
	switch ev.Type {
	case model.EventOrderSubmitted, model.EventPaperTrade:
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("BUY %s", ev.Symbol),
			Message: fmt.Sprintf("%d @ %.2f (strategy %s, %s)", ev.Qty, ev.Price, ev.StrategyID, ev.Type),
		}, true
	case model.EventExitOrder, model.EventPaperExit:
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("SELL %s (%s)", ev.Symbol, ev.Reason),
			Message: fmt.Sprintf("%d @ %.2f, realized %.2f (strategy %s, %s)",
				ev.Qty, ev.Price, ev.RealizedPnL, ev.StrategyID, ev.Type),
		}, true
	case model.EventOrderError, model.EventExitError:
		return Alert{
			Level:   AlertWarning,
			Title:   fmt.Sprintf("%s %s", ev.Type, ev.Symbol),
			Message: ev.Error,
		}, true
	case model.EventRunnerError:
		return Alert{Level: AlertCritical, Title: "runner error", Message: ev.Error}, true
	default:
		return Alert{}, false
	}
}

// Forwarder is a model.Broadcaster that sends alerts for selected runner
// events on a background goroutine. Events are dropped when the queue is
// full.
type Forwarder struct {
	notifier Notifier
	queue    chan Alert
	timeout  time.Duration
	log      *slog.Logger
}

// NewForwarder creates a forwarder with the given queue size.
func NewForwarder(n Notifier, queueSize int) *Forwarder {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Forwarder{
		notifier: n,
		queue:    make(chan Alert, queueSize),
		timeout:  10 * time.Second,
		log:      slog.Default().With("component", "notify"),
	}
}

// Broadcast implements model.Broadcaster.
func (f *Forwarder) Broadcast(ev model.Event) {
	alert, ok := AlertFromEvent(ev)
	if !ok {
		return
	}
	select {
	case f.queue <- alert:
	default:
		f.log.Warn("notification queue full, dropping alert", "title", alert.Title)
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-f.queue:
			sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
			if err := f.notifier.Send(sendCtx, alert); err != nil {
				f.log.Warn("notification failed", "title", alert.Title, "err", err)
			}
			cancel()
		}
	}
}
