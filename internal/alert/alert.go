// Package alert fans notifications out to chat channels (Discord, Telegram).
// Delivery is asynchronous and never blocks the trading path.
package alert

import (
	"context"
	"sync"
	"time"

	"signal_relay/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// sendTimeout bounds each channel delivery attempt.
const sendTimeout = 10 * time.Second

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// StudySender is implemented by channels that can relay raw TradingView
// study payloads with a chart snapshot link.
type StudySender interface {
	SendStudy(ctx context.Context, payload map[string]interface{}, chartURL string) error
}

type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert dispatches to every channel without waiting for delivery. Each send
// runs detached from the caller's context so request-scoped cancellation
// does not drop the notification.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		go func(c AlertChannel) {
			sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// StudyAlert relays a study payload to every channel that supports it.
func (am *AlertManager) StudyAlert(ctx context.Context, payload map[string]interface{}, chartURL string) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		sender, ok := ch.(StudySender)
		if !ok {
			continue
		}
		go func(name string, s StudySender) {
			sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := s.SendStudy(sendCtx, payload, chartURL); err != nil {
				am.logger.Error("Failed to send study alert", "channel", name, "error", err)
			}
		}(ch.Name(), sender)
	}
}

// Info sends an informational alert.
func (am *AlertManager) Info(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Info, fields)
}

// Warning sends a warning alert.
func (am *AlertManager) Warning(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Warning, fields)
}

// Error sends an error alert.
func (am *AlertManager) Error(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Error, fields)
}

// Critical sends a critical alert.
func (am *AlertManager) Critical(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Critical, fields)
}
