package notifier

import (
	"context"

	"go.uber.org/zap"
)

// Notifier dispatches OTP codes out of band (SMS or email). Delivery is fire
// and forget from the auth core's perspective.
type Notifier interface {
	Send(ctx context.Context, identifier, code string) bool
}

// LogNotifier writes codes to the development log instead of dispatching
// them. Production deployments plug in an SMS/email gateway implementation.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, identifier, code string) bool {
	// Development only: the raw code must never reach production logs.
	n.logger.Info("OTP dispatch (dev)",
		zap.String("identifier", identifier),
		zap.String("code", code))
	return true
}
