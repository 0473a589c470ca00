// Package analytics records rate limit decisions for auditing.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TopicDecision carries one DecisionEvent per admitted or denied request.
const TopicDecision = "ratelimit.decision"

// DecisionEvent is emitted after every rate limit check.
type DecisionEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Operation   string    `json:"operation"`
	Allowed     bool      `json:"allowed"`
	Remaining   int       `json:"remaining"`
	WindowStart time.Time `json:"windowStart"`
	DecidedAt   time.Time `json:"decidedAt"`
	ClientIP    string    `json:"clientIp,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

// NewDecisionEvent creates an event with a fresh id.
func NewDecisionEvent(userID, operation string, allowed bool, remaining int, windowStart, decidedAt time.Time) *DecisionEvent {
	return &DecisionEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		Operation:   operation,
		Allowed:     allowed,
		Remaining:   remaining,
		WindowStart: windowStart,
		DecidedAt:   decidedAt,
	}
}

// Sink persists decision events.
type Sink interface {
	SaveDecision(ctx context.Context, event *DecisionEvent) error
}
