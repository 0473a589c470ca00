package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userPath = "/auth/v1/user"

// RemoteVerifier asks the identity provider who owns a token.
type RemoteVerifier struct {
	endpoint   string
	serviceKey string
	client     *http.Client
}

// RemoteOption configures a RemoteVerifier.
type RemoteOption func(*RemoteVerifier)

// WithHTTPClient overrides the HTTP client used to reach the provider.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(v *RemoteVerifier) {
		v.client = client
	}
}

// NewRemoteVerifier creates a verifier for the provider at creds.Endpoint.
func NewRemoteVerifier(creds Credentials, opts ...RemoteOption) *RemoteVerifier {
	v := &RemoteVerifier{
		endpoint:   strings.TrimRight(creds.Endpoint, "/"),
		serviceKey: creds.ServiceKey,
		client:     &http.Client{Timeout: 5 * time.Second},
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

type userResponse struct {
	ID string `json:"id"`
}

// Verify returns the user id bound to token.
// Rejections by the provider yield ErrInvalidToken; anything else is a transport error.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+userPath, nil)
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}

	req.Header.Set("Apikey", v.serviceKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)

		return "", ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)

		return "", fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}

	if user.ID == "" {
		return "", ErrInvalidToken
	}

	return user.ID, nil
}

var _ Verifier = (*RemoteVerifier)(nil)
