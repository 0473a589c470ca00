package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RateLimitPath serves both the status query and the check.
const RateLimitPath = "/rate-limit"

// APIConfig returns the huma configuration shared by the server and tests.
// Response bodies are served exactly as declared, without a $schema link.
func APIConfig(title, version string) huma.Config {
	config := huma.DefaultConfig(title, version)
	config.CreateHooks = nil

	return config
}

// RegisterRoutes registers the rate limit endpoints.
func RegisterRoutes(api huma.API, h *RateLimitHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-rate-limit-status",
		Method:      http.MethodGet,
		Path:        RateLimitPath,
		Summary:     "Get rate limit status",
		Description: "Reports the remaining allowance of an operation kind in the current window without consuming it.",
		Tags:        []string{"Rate limit"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "check-rate-limit",
		Method:      http.MethodPost,
		Path:        RateLimitPath,
		Summary:     "Check and consume rate limit",
		Description: "Admits one request of an operation kind and consumes one slot of the window, " +
			"or denies it with 429 once the window is exhausted. " +
			"windowStart may be an RFC 3339 timestamp or epoch milliseconds.",
		Tags:   []string{"Rate limit"},
		Errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusInternalServerError},
		// The handler decodes the body after the config and identity checks.
		SkipValidateBody: true,
	}, h.Check)
}
