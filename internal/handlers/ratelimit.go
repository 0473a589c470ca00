package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/consultation-ratelimit/internal/analytics"
	"github.com/serroba/consultation-ratelimit/internal/auth"
	"github.com/serroba/consultation-ratelimit/internal/messaging"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
	"go.uber.org/zap"
)

// ConfigGate reports whether the identity settings are complete.
type ConfigGate interface {
	Validate() error
}

// RateLimitHandler serves the rate limit status and check endpoints.
type RateLimitHandler struct {
	engine              *ratelimit.Engine
	gate                ConfigGate
	verifier            auth.Verifier
	publish             messaging.Publish[analytics.DecisionEvent]
	logger              *zap.Logger
	devUserID           string
	allowWindowOverride bool
	now                 func() time.Time
}

// HandlerOption configures a RateLimitHandler.
type HandlerOption func(*RateLimitHandler)

// WithDevUser identifies requests without an Authorization header as userID.
// Leave unset in production.
func WithDevUser(userID string) HandlerOption {
	return func(h *RateLimitHandler) {
		h.devUserID = userID
	}
}

// WithWindowOverride controls whether POST bodies may pin windowStart.
func WithWindowOverride(allow bool) HandlerOption {
	return func(h *RateLimitHandler) {
		h.allowWindowOverride = allow
	}
}

// WithHandlerClock overrides the time stamped on decision events.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *RateLimitHandler) {
		h.now = now
	}
}

// NewRateLimitHandler creates the handler. Window overrides are allowed unless disabled.
func NewRateLimitHandler(
	engine *ratelimit.Engine,
	gate ConfigGate,
	verifier auth.Verifier,
	publish messaging.Publish[analytics.DecisionEvent],
	logger *zap.Logger,
	opts ...HandlerOption,
) *RateLimitHandler {
	h := &RateLimitHandler{
		engine:              engine,
		gate:                gate,
		verifier:            verifier,
		publish:             publish,
		logger:              logger,
		allowWindowOverride: true,
		now:                 time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// GetStatus reports the remaining allowance without consuming it.
func (h *RateLimitHandler) GetStatus(ctx context.Context, req *StatusRequest) (*DecisionResponse, error) {
	userID, err := h.identify(ctx, req.Authorization)
	if err != nil {
		return nil, err
	}

	op, err := h.parseOperation(req.OperationType)
	if err != nil {
		return nil, err
	}

	decision, err := h.engine.Status(ctx, userID, op)
	if err != nil {
		return nil, h.engineError(err, userID, op)
	}

	return newDecisionResponse(decision), nil
}

// Check admits or denies one request and records it when admitted.
func (h *RateLimitHandler) Check(ctx context.Context, req *CheckRequest) (*DecisionResponse, error) {
	userID, err := h.identify(ctx, req.Authorization)
	if err != nil {
		return nil, err
	}

	var body CheckBody
	if err := json.Unmarshal(req.RawBody, &body); err != nil {
		return nil, NewAPIError(http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON in request body")
	}

	op, err := h.parseOperation(body.OperationType)
	if err != nil {
		return nil, err
	}

	var windowStart *time.Time
	if h.allowWindowOverride && body.WindowStart != nil {
		windowStart = &body.WindowStart.Time
	}

	decision, err := h.engine.CheckAndIncrement(ctx, userID, op, windowStart)
	if err != nil {
		return nil, h.engineError(err, userID, op)
	}

	h.recordDecision(ctx, userID, op, decision)

	if !decision.Allowed {
		h.logger.Warn("rate limit exceeded",
			zap.String("userId", userID),
			zap.String("operation", string(op)),
			zap.Time("resetTime", decision.ResetTime),
		)

		return nil, rateLimitExceeded(decision)
	}

	h.logger.Debug("request admitted",
		zap.String("userId", userID),
		zap.String("operation", string(op)),
		zap.Int("remaining", decision.Remaining),
	)

	return newDecisionResponse(decision), nil
}

// identify runs the configuration gate, then resolves the caller.
func (h *RateLimitHandler) identify(ctx context.Context, header string) (string, error) {
	if err := h.gate.Validate(); err != nil {
		h.logger.Error("identity provider is not configured", zap.Error(err))

		return "", NewAPIError(http.StatusInternalServerError, CodeConfigError, "Server configuration error")
	}

	token, ok := auth.BearerToken(header)
	if !ok {
		if header == "" && h.devUserID != "" {
			return h.devUserID, nil
		}

		return "", errUnauthorized("Missing or invalid authorization header")
	}

	userID, err := h.verifier.Verify(ctx, token)

	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "", errUnauthorized("Invalid or expired token")
	case err != nil:
		h.logger.Error("token verification failed", zap.Error(err))

		return "", errInternal()
	}

	return userID, nil
}

func (h *RateLimitHandler) parseOperation(raw string) (ratelimit.Operation, error) {
	op, err := ratelimit.ParseOperation(raw)
	if err != nil {
		return "", h.invalidOperation()
	}

	return op, nil
}

func (h *RateLimitHandler) invalidOperation() *APIError {
	ops := h.engine.Table().Operations()

	valid := make([]string, len(ops))
	for i, op := range ops {
		valid[i] = string(op)
	}

	return NewAPIError(http.StatusBadRequest, CodeInvalidOperation, "Invalid operation type").
		WithDetails(OperationDetails{ValidOperations: valid})
}

func (h *RateLimitHandler) engineError(err error, userID string, op ratelimit.Operation) error {
	if errors.Is(err, ratelimit.ErrUnknownOperation) {
		return h.invalidOperation()
	}

	h.logger.Error("rate limit check failed",
		zap.String("userId", userID),
		zap.String("operation", string(op)),
		zap.Error(err),
	)

	return errInternal()
}

func (h *RateLimitHandler) recordDecision(
	ctx context.Context, userID string, op ratelimit.Operation, decision ratelimit.Decision,
) {
	event := analytics.NewDecisionEvent(
		userID, string(op), decision.Allowed, decision.Remaining, decision.WindowStart, h.now(),
	)

	meta := RequestMetaFromContext(ctx)
	event.ClientIP = meta.ClientIP
	event.UserAgent = meta.UserAgent

	if err := h.publish(ctx, event); err != nil {
		h.logger.Error("failed to publish decision event",
			zap.String("eventId", event.ID),
			zap.Error(err),
		)
	}
}

func newDecisionResponse(d ratelimit.Decision) *DecisionResponse {
	resp := &DecisionResponse{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		Reset:     d.ResetTime.Unix(),
	}
	resp.Body.Allowed = d.Allowed
	resp.Body.RemainingRequests = d.Remaining
	resp.Body.ResetTime = d.ResetTime

	return resp
}

func rateLimitExceeded(d ratelimit.Decision) error {
	apiErr := NewAPIError(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded").
		WithDetails(RateLimitDetails{
			RemainingRequests: 0,
			ResetTime:         d.ResetTime.UTC().Format(time.RFC3339Nano),
			RetryAfter:        d.RetryAfter,
		})

	return huma.ErrorWithHeaders(apiErr, http.Header{
		"Retry-After":           {retryAfterHeader(d.RetryAfter)},
		"X-Ratelimit-Limit":     {strconv.Itoa(d.Limit)},
		"X-Ratelimit-Remaining": {"0"},
		"X-Ratelimit-Reset":     {strconv.FormatInt(d.ResetTime.Unix(), 10)},
	})
}
