// Package auth resolves the caller identity of rate limit requests.
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrMissingToken is returned when the Authorization header carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when the identity provider rejects a token.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

const bearerPrefix = "bearer "

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}

	return token, true
}

// Credentials are the settings needed to reach the identity provider.
type Credentials struct {
	Endpoint   string
	PublicKey  string
	ServiceKey string
}

// MissingConfigError lists the credential settings that are not configured.
type MissingConfigError struct {
	Missing []string
}

func (e *MissingConfigError) Error() string {
	return "missing configuration: " + strings.Join(e.Missing, ", ")
}

// Validate reports every unset credential at once.
func (c Credentials) Validate() error {
	var missing []string

	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}

	if c.PublicKey == "" {
		missing = append(missing, "public key")
	}

	if c.ServiceKey == "" {
		missing = append(missing, "service key")
	}

	if len(missing) > 0 {
		return &MissingConfigError{Missing: missing}
	}

	return nil
}
