// Package notification pushes trading alerts (fills, rejections, loss
// limits, session events) out of the engine to external channels.
package notification

import (
	"context"
	"log"
)

// AlertLevel grades an alert's severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one outbound notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier delivers alerts to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. It is the fallback when
// no external channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// FanoutNotifier delivers each alert to every configured backend. A
// backend failure is logged and does not block the others; the first
// error is returned so callers can count delivery failures.
type FanoutNotifier struct {
	backends []Notifier
}

func NewFanoutNotifier(backends ...Notifier) *FanoutNotifier {
	return &FanoutNotifier{backends: backends}
}

func (f *FanoutNotifier) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, b := range f.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
