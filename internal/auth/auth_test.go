package auth_test

import (
	"testing"

	"github.com/serroba/consultation-ratelimit/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{name: "standard", header: "Bearer abc.def", want: "abc.def", ok: true},
		{name: "lowercase scheme", header: "bearer token", want: "token", ok: true},
		{name: "surrounding spaces", header: "Bearer   token  ", want: "token", ok: true},
		{name: "empty", header: ""},
		{name: "scheme only", header: "Bearer "},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz"},
		{name: "raw token", header: "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := auth.BearerToken(tt.header)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentials_Validate(t *testing.T) {
	t.Parallel()

	t.Run("complete", func(t *testing.T) {
		t.Parallel()

		creds := auth.Credentials{Endpoint: "https://id.example", PublicKey: "pub", ServiceKey: "svc"}

		require.NoError(t, creds.Validate())
	})

	t.Run("reports every missing setting", func(t *testing.T) {
		t.Parallel()

		err := auth.Credentials{PublicKey: "pub"}.Validate()

		var missing *auth.MissingConfigError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"endpoint", "service key"}, missing.Missing)
		assert.Equal(t, "missing configuration: endpoint, service key", err.Error())
	})
}
