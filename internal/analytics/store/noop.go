package store

import (
	"context"

	"github.com/serroba/consultation-ratelimit/internal/analytics"
	"go.uber.org/zap"
)

// Noop is an analytics.Sink that only logs decisions.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new logging sink.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveDecision(_ context.Context, event *analytics.DecisionEvent) error {
	n.logger.Info("rate limit decision",
		zap.String("id", event.ID),
		zap.String("userId", event.UserID),
		zap.String("operation", event.Operation),
		zap.Bool("allowed", event.Allowed),
		zap.Int("remaining", event.Remaining),
		zap.Time("windowStart", event.WindowStart),
		zap.Time("decidedAt", event.DecidedAt),
		zap.String("clientIp", event.ClientIP),
	)

	return nil
}

var _ analytics.Sink = (*Noop)(nil)
