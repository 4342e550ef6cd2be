// Package notification delivers trading alerts (opens, closes, risk halts)
// to external channels such as Telegram or generic webhooks.
package notification

import (
	"context"
	"log"
	"strings"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Field is one labeled detail on an alert (symbol, price, P&L...). Fields
// keep their order so backends render them the way the alerter listed them.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Fields  []Field    `json:"fields,omitempty"`
}

// fieldLines renders the fields as "key: value" lines for text backends.
func (a Alert) fieldLines() string {
	if len(a.Fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range a.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (paper trading and
// development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if len(alert.Fields) > 0 {
		log.Printf("[notify] [%s] %s: %s | %s", alert.Level, alert.Title, alert.Message,
			strings.ReplaceAll(alert.fieldLines(), "\n", " "))
		return nil
	}
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends; the first error is returned
// but every backend is attempted.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
