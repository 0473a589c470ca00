package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/consultation-ratelimit/internal/analytics"
	"github.com/serroba/consultation-ratelimit/internal/auth"
	"github.com/serroba/consultation-ratelimit/internal/handlers"
	"github.com/serroba/consultation-ratelimit/internal/middleware"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
	"github.com/serroba/consultation-ratelimit/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testNow sits 23.456s into a five minute window and 923.456s into an hour.
var testNow = time.UnixMilli(1_700_000_123_456)

var validCreds = auth.Credentials{Endpoint: "https://id.example", PublicKey: "public", ServiceKey: "service"}

type fakeVerifier struct {
	users map[string]string
	err   error
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	userID, ok := f.users[token]
	if !ok {
		return "", auth.ErrInvalidToken
	}

	return userID, nil
}

type failingStore struct{}

func (failingStore) Lookup(context.Context, ratelimit.Key) (ratelimit.Record, bool, error) {
	return ratelimit.Record{}, false, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (failingStore) Increment(context.Context, ratelimit.Key, int) (ratelimit.Record, bool, error) {
	return ratelimit.Record{}, false, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*analytics.DecisionEvent
	err    error
}

func (r *eventRecorder) publish(_ context.Context, event *analytics.DecisionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return r.err
}

type testServer struct {
	router   *chi.Mux
	counters *store.CounterMemoryStore
	events   *eventRecorder
	verifier *fakeVerifier
}

type serverConfig struct {
	store ratelimit.Store
	gate  handlers.ConfigGate
	opts  []handlers.HandlerOption
}

func newTestServer(t *testing.T, cfg serverConfig) *testServer {
	t.Helper()

	counters := store.NewCounterMemoryStore()
	if cfg.store == nil {
		cfg.store = counters
	}

	if cfg.gate == nil {
		cfg.gate = validCreds
	}

	ts := &testServer{
		counters: counters,
		events:   &eventRecorder{},
		verifier: &fakeVerifier{users: map[string]string{
			"token-a": "user-a",
			"token-b": "user-b",
		}},
	}

	engine := ratelimit.NewEngine(cfg.store, ratelimit.DefaultTable(),
		ratelimit.WithClock(func() time.Time { return testNow }))

	handler := handlers.NewRateLimitHandler(engine, cfg.gate, ts.verifier, ts.events.publish, zap.NewNop(),
		append([]handlers.HandlerOption{handlers.WithHandlerClock(func() time.Time { return testNow })}, cfg.opts...)...)

	ts.router = chi.NewMux()
	ts.router.Use(middleware.CORS)
	ts.router.MethodNotAllowed(middleware.MethodNotAllowed)

	api := humachi.New(ts.router, handlers.APIConfig("Test", "1.0.0"))
	api.UseMiddleware(middleware.RequestMeta(api))
	handlers.RegisterRoutes(api, handler)

	return ts
}

func (ts *testServer) post(t *testing.T, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/rate-limit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	return w
}

func (ts *testServer) get(t *testing.T, token, query string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/rate-limit"+query, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	return w
}

type decisionBody struct {
	Allowed           bool      `json:"allowed"`
	RemainingRequests int       `json:"remainingRequests"`
	ResetTime         time.Time `json:"resetTime"`
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) decisionBody {
	t.Helper()

	var body decisionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())

	return body
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())

	return body
}

func TestCheck_BulkDeleteBurst(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	for i := range 10 {
		w := ts.post(t, "token-a", `{"operationType":"bulk_delete"}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeDecision(t, w)
		assert.True(t, body.Allowed)
		assert.Equal(t, 9-i, body.RemainingRequests)
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	}

	w := ts.post(t, "token-a", `{"operationType":"bulk_delete"}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "277", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	envelope := decodeError(t, w)
	assert.Equal(t, handlers.CodeRateLimitExceeded, envelope.Error.Code)

	var details handlers.RateLimitDetails
	require.NoError(t, json.Unmarshal(envelope.Error.Details, &details))
	assert.Equal(t, 0, details.RemainingRequests)
	assert.Equal(t, int64(277), details.RetryAfter)
	assert.Positive(t, details.RetryAfter)
	assert.LessOrEqual(t, details.RetryAfter, int64(300))
	assert.Equal(t, "2023-11-14T22:20:00Z", details.ResetTime)
}

func TestCheck_InvalidOperation(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	for _, body := range []string{`{"operationType":"unknown_kind"}`, `{}`, `null`} {
		w := ts.post(t, "token-a", body)

		require.Equal(t, http.StatusBadRequest, w.Code)

		envelope := decodeError(t, w)
		assert.Equal(t, handlers.CodeInvalidOperation, envelope.Error.Code)

		var details handlers.OperationDetails
		require.NoError(t, json.Unmarshal(envelope.Error.Details, &details))
		assert.Equal(t, []string{"import", "export", "report", "bulk_delete"}, details.ValidOperations)
	}

	assert.Equal(t, 0, ts.counters.Len())
}

func TestCheck_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	for _, body := range []string{
		`{not json`,
		`{"operationType":"import","windowStart":"yesterday"}`,
		`{"operationType":"import","windowStart":1.5}`,
	} {
		w := ts.post(t, "token-a", body)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, handlers.CodeInvalidJSON, decodeError(t, w).Error.Code)
	}

	assert.Equal(t, 0, ts.counters.Len())
}

func TestCheck_BodyIsDecodedByHandler(t *testing.T) {
	t.Run("json body is accepted as is", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		w := ts.post(t, "token-a", `{"operationType":"report","windowStart":null}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decodeDecision(t, w).Allowed)
		assert.Equal(t, 1, ts.counters.Len())
	})

	t.Run("malformed body without credentials is unauthorized", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		w := ts.post(t, "", `{not json`)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, handlers.CodeUnauthorized, decodeError(t, w).Error.Code)
	})
}

func TestIdentity(t *testing.T) {
	t.Run("missing header is unauthorized and touches nothing", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		w := ts.post(t, "", `{"operationType":"import"}`)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, handlers.CodeUnauthorized, decodeError(t, w).Error.Code)
		assert.Equal(t, 0, ts.counters.Len())
		assert.Empty(t, ts.events.events)
	})

	t.Run("non bearer header is unauthorized", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		req := httptest.NewRequest(http.MethodGet, "/rate-limit?operation_type=import", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejected token is unauthorized", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		w := ts.post(t, "stolen", `{"operationType":"import"}`)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Invalid or expired token", decodeError(t, w).Error.Message)
	})

	t.Run("provider failure is an internal error", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})
		ts.verifier.err = errors.New("identity request: dial tcp: i/o timeout")

		w := ts.post(t, "token-a", `{"operationType":"import"}`)

		require.Equal(t, http.StatusInternalServerError, w.Code)

		envelope := decodeError(t, w)
		assert.Equal(t, handlers.CodeInternalError, envelope.Error.Code)
		assert.NotContains(t, w.Body.String(), "timeout")
	})

	t.Run("missing configuration fails before identity", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{gate: auth.Credentials{Endpoint: "https://id.example"}})

		for _, w := range []*httptest.ResponseRecorder{
			ts.post(t, "token-a", `{"operationType":"import"}`),
			ts.post(t, "", `{not json`),
			ts.get(t, "token-a", "?operation_type=import"),
		} {
			require.Equal(t, http.StatusInternalServerError, w.Code)

			envelope := decodeError(t, w)
			assert.Equal(t, handlers.CodeConfigError, envelope.Error.Code)
			assert.NotContains(t, w.Body.String(), "service key")
		}

		assert.Equal(t, 0, ts.counters.Len())
	})

	t.Run("dev user is used only without a header", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{opts: []handlers.HandlerOption{handlers.WithDevUser("dev-user")}})

		w := ts.post(t, "", `{"operationType":"import"}`)
		require.Equal(t, http.StatusOK, w.Code)

		require.Len(t, ts.events.events, 1)
		assert.Equal(t, "dev-user", ts.events.events[0].UserID)

		w = ts.post(t, "stolen", `{"operationType":"import"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCheck_StoreFailure(t *testing.T) {
	ts := newTestServer(t, serverConfig{store: failingStore{}})

	for _, w := range []*httptest.ResponseRecorder{
		ts.post(t, "token-a", `{"operationType":"export"}`),
		ts.get(t, "token-a", "?operation_type=export"),
	} {
		require.Equal(t, http.StatusInternalServerError, w.Code)

		envelope := decodeError(t, w)
		assert.Equal(t, handlers.CodeInternalError, envelope.Error.Code)
		assert.Equal(t, "Internal server error", envelope.Error.Message)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	}

	assert.Empty(t, ts.events.events)
}

func TestCheck_UsersAreIsolated(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	for range 10 {
		require.Equal(t, http.StatusOK, ts.post(t, "token-a", `{"operationType":"import"}`).Code)
	}

	assert.Equal(t, http.StatusTooManyRequests, ts.post(t, "token-a", `{"operationType":"import"}`).Code)

	w := ts.post(t, "token-b", `{"operationType":"import"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 9, decodeDecision(t, w).RemainingRequests)
}

func TestCheck_WindowOverride(t *testing.T) {
	past := `{"operationType":"bulk_delete","windowStart":"2023-11-14T22:10:00Z"}`

	t.Run("explicit window is counted separately", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		for range 10 {
			require.Equal(t, http.StatusOK, ts.post(t, "token-a", past).Code)
		}

		assert.Equal(t, http.StatusTooManyRequests, ts.post(t, "token-a", past).Code)

		w := ts.post(t, "token-a", `{"operationType":"bulk_delete"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 9, decodeDecision(t, w).RemainingRequests)
	})

	t.Run("epoch milliseconds select the same window", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{})

		require.Equal(t, http.StatusOK, ts.post(t, "token-a", past).Code)

		w := ts.post(t, "token-a", `{"operationType":"bulk_delete","windowStart":1699999800000}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 8, decodeDecision(t, w).RemainingRequests)
		assert.Equal(t, time.UnixMilli(1_700_000_100_000).UTC(), decodeDecision(t, w).ResetTime.UTC())
	})

	t.Run("ignored when disabled", func(t *testing.T) {
		ts := newTestServer(t, serverConfig{opts: []handlers.HandlerOption{handlers.WithWindowOverride(false)}})

		w := ts.post(t, "token-a", past)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, time.UnixMilli(1_700_000_400_000).UTC(), decodeDecision(t, w).ResetTime.UTC())
	})
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	for range 3 {
		require.Equal(t, http.StatusOK, ts.post(t, "token-a", `{"operationType":"report"}`).Code)
	}

	for range 5 {
		w := ts.get(t, "token-a", "?operation_type=report")

		require.Equal(t, http.StatusOK, w.Code)

		body := decodeDecision(t, w)
		assert.True(t, body.Allowed)
		assert.Equal(t, 37, body.RemainingRequests)
		assert.Equal(t, time.UnixMilli(1_700_002_800_000).UTC(), body.ResetTime.UTC())
		assert.Equal(t, "40", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "37", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1700002800", w.Header().Get("X-RateLimit-Reset"))
	}

	assert.Len(t, ts.events.events, 3, "status queries are not decisions")

	t.Run("exhausted allowance is reported with 200", func(t *testing.T) {
		for range 10 {
			ts.post(t, "token-b", `{"operationType":"bulk_delete"}`)
		}

		w := ts.get(t, "token-b", "?operation_type=bulk_delete")

		require.Equal(t, http.StatusOK, w.Code)

		body := decodeDecision(t, w)
		assert.False(t, body.Allowed)
		assert.Equal(t, 0, body.RemainingRequests)
	})

	t.Run("missing operation is invalid", func(t *testing.T) {
		w := ts.get(t, "token-a", "")

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, handlers.CodeInvalidOperation, decodeError(t, w).Error.Code)
	})
}

func TestCheck_PublishesDecisions(t *testing.T) {
	ts := newTestServer(t, serverConfig{})
	ts.events.err = errors.New("broker down")

	req := httptest.NewRequest(http.MethodPost, "/rate-limit", strings.NewReader(`{"operationType":"export"}`))
	req.Header.Set("Authorization", "Bearer token-a")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "clinic-portal/2.1")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "publish failures never fail the request")
	require.Len(t, ts.events.events, 1)

	event := ts.events.events[0]
	assert.Equal(t, "user-a", event.UserID)
	assert.Equal(t, "export", event.Operation)
	assert.True(t, event.Allowed)
	assert.Equal(t, 19, event.Remaining)
	assert.Equal(t, "203.0.113.7", event.ClientIP)
	assert.Equal(t, "clinic-portal/2.1", event.UserAgent)
	assert.Equal(t, testNow, event.DecidedAt)
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t, serverConfig{})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/rate-limit", nil)
		w := httptest.NewRecorder()

		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unsupported method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/rate-limit", nil)
		req.Header.Set("Authorization", "Bearer token-a")

		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, handlers.CodeMethodNotAllowed, decodeError(t, w).Error.Code)
		assert.Equal(t, 0, ts.counters.Len())
	})
}
