// Package notification delivers buy/sell signals to external channels.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// SignalAlert renders a signal as an info alert.
func SignalAlert(s model.Signal) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s", s.Side, s.Symbol),
		Message: fmt.Sprintf("RSI %d at price %d (%s)", s.RSI, s.Price, s.TS.UTC().Format("2006-01-02 15:04:05")),
	}
}

// Notifier is implemented by every delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info(alert.Title, zap.String("level", string(alert.Level)), zap.String("message", alert.Message))
	return nil
}
