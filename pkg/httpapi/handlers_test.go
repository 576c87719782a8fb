package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeforge/storeforge/internal/history"
	"github.com/storeforge/storeforge/pkg/provision"
)

// scriptedAgent plays back a fixed sequence of signals, one per call.
type scriptedAgent struct {
	script []provision.Signal
}

func (a *scriptedAgent) next() provision.Signal {
	if len(a.script) == 0 {
		return provision.Errored(provision.ReasonAgentFailure, "script exhausted")
	}
	sig := a.script[0]
	a.script = a.script[1:]
	return sig
}

func (a *scriptedAgent) Start(ctx context.Context, targetID string) provision.Signal {
	return a.next()
}

func (a *scriptedAgent) ResumeWithChallengeAck(ctx context.Context) provision.Signal {
	return a.next()
}

func (a *scriptedAgent) ResumeWithCode(ctx context.Context, code string) provision.Signal {
	return a.next()
}

func (a *scriptedAgent) Cancel(ctx context.Context) error { return nil }

// fakeHistory returns canned attempts.
type fakeHistory struct {
	attempts []history.Attempt
	err      error
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Attempt, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.attempts) {
		return f.attempts[:limit], nil
	}
	return f.attempts, nil
}

func newTestServer(t *testing.T, factory provision.AgentFactory, hist HistoryReader) (*Server, *provision.Orchestrator) {
	t.Helper()

	store := provision.NewStore()
	orch := provision.New(store, factory, provision.Config{
		AgentTimeout: 5 * time.Second,
	}, nil, nil, zerolog.Nop())

	srv, err := NewServer(ServerOptions{}, orch, hist, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return srv, orch
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func scripted(signals ...provision.Signal) provision.AgentFactory {
	return func() provision.Agent {
		return &scriptedAgent{script: signals}
	}
}

func TestProvision_ImmediateSuccess(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.Done(&provision.Result{Domain: "shop-42.example.dev"}),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, provision.StateSucceeded, resp.State)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "shop-42.example.dev", resp.Result.Domain)
	assert.NotEmpty(t, resp.SessionID)
}

func TestProvision_ChallengeAnswers203(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsChallenge("challenge-1", "https://login.example.com/c"),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	assert.Equal(t, http.StatusNonAuthoritativeInfo, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, provision.StateAwaitingChallenge, resp.State)
	assert.Equal(t, "challenge-1", resp.ChallengeRef)
	assert.Equal(t, "https://login.example.com/c", resp.ChallengeURL)
}

func TestProvision_CodeRequiredAnswers202(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, provision.StateAwaitingCode, resp.State)
	assert.NotEmpty(t, resp.SessionID)
}

func TestProvision_SynchronousFailureAnswers502(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.Errored(provision.ReasonAgentFailure, "login form missing"),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, provision.StateFailed, resp.State)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, provision.ReasonAgentFailure, resp.Failure.Reason)
}

func TestProvision_ConflictAnswers409(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsCode(),
		provision.NeedsCode(),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProvision_BodyValidation(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", `{"client": "not-an-object"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/provision/shop-42", `{"unexpected": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The store is named by the target id in the path; a name in the body
	// is not part of the surface.
	rec = doRequest(t, srv, http.MethodPost, "/provision/shop-42", `{"storeName": "Shop 42"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProvision_ValidBodyAccepted(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.Done(&provision.Result{Domain: "shop-42.example.dev"}),
	), nil)

	body := `{"client": {"name": "cli", "version": "1.0"}}`
	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChallengeAck_Flow(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsChallenge("challenge-1", "https://login.example.com/c"),
		provision.Done(&provision.Result{Domain: "shop-42.example.dev"}),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusNonAuthoritativeInfo, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/challenge/"+created.SessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, provision.StateSucceeded, resp.State)
}

func TestChallengeAck_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, scripted(), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/challenge/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChallengeAck_WrongState(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/challenge/"+created.SessionID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCode_RetryThenSuccess(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsCode(),
		provision.InvalidCode(),
		provision.Done(&provision.Result{Domain: "shop-42.example.dev"}),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{"code":"000000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rejected := decodeBody[codeRejectedResponse](t, rec)
	assert.Equal(t, "invalid_code", rejected.Error)
	assert.True(t, rejected.Retryable)
	assert.Equal(t, 1, rejected.Attempts)
	assert.Equal(t, 2, rejected.AttemptsRemaining)

	rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{"code":"123456"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCode_MaxRetriesExceeded(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsCode(),
		provision.InvalidCode(),
		provision.InvalidCode(),
		provision.InvalidCode(),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	for i := 0; i < 2; i++ {
		rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{"code":"000000"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		rejected := decodeBody[codeRejectedResponse](t, rec)
		require.Equal(t, "invalid_code", rejected.Error)
	}

	rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{"code":"000000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rejected := decodeBody[codeRejectedResponse](t, rec)
	assert.Equal(t, "max_retries_exceeded", rejected.Error)
	assert.False(t, rejected.Retryable)
	assert.Equal(t, 0, rejected.AttemptsRemaining)

	// Session is now failed.
	rec = doRequest(t, srv, http.MethodGet, "/provision/session/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeBody[provision.Session](t, rec)
	assert.Equal(t, provision.StateFailed, session.State)
}

func TestCode_ChallengeAfterCodeAnswers203(t *testing.T) {
	srv, _ := newTestServer(t, scripted(
		provision.NeedsCode(),
		provision.NeedsChallenge("challenge-2", "https://login.example.com/c2"),
	), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{"code":"123456"}`)
	assert.Equal(t, http.StatusNonAuthoritativeInfo, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "challenge-2", resp.ChallengeRef)
}

func TestCode_SchemaRejectsMissingCode(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/code/"+created.SessionID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCode_BlankCodeUnknownSessionAnswers404(t *testing.T) {
	srv, _ := newTestServer(t, scripted(), nil)

	// A whitespace code passes the schema's minLength but the unknown
	// session must still answer 404, not 400.
	rec := doRequest(t, srv, http.MethodPost, "/provision/code/nope", `{"code": "  "}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel_AlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	// Unknown session.
	rec := doRequest(t, srv, http.MethodPost, "/provision/cancel/nope", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/provision/cancel/"+created.SessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cancelling again is still 200.
	rec = doRequest(t, srv, http.MethodPost, "/provision/cancel/"+created.SessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSession_Snapshot(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodGet, "/provision/session/"+created.SessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	session := decodeBody[provision.Session](t, rec)
	assert.Equal(t, created.SessionID, session.ID)
	assert.Equal(t, "shop-42", session.TargetID)
	assert.Equal(t, provision.StateAwaitingCode, session.State)
}

func TestGetSession_Unknown(t *testing.T) {
	srv, _ := newTestServer(t, scripted(), nil)

	rec := doRequest(t, srv, http.MethodGet, "/provision/session/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory_ReturnsAttempts(t *testing.T) {
	hist := &fakeHistory{attempts: []history.Attempt{
		{SessionID: "sess-1", TargetID: "shop-1", State: "succeeded"},
		{SessionID: "sess-2", TargetID: "shop-2", State: "failed"},
	}}
	srv, _ := newTestServer(t, scripted(), hist)

	rec := doRequest(t, srv, http.MethodGet, "/provision/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string][]history.Attempt](t, rec)
	assert.Len(t, resp["attempts"], 2)
}

func TestHistory_LimitValidation(t *testing.T) {
	srv, _ := newTestServer(t, scripted(), &fakeHistory{})

	rec := doRequest(t, srv, http.MethodGet, "/provision/history?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/provision/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/provision/history?limit=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistory_NoArchiveConfigured(t *testing.T) {
	srv, _ := newTestServer(t, scripted(), nil)

	rec := doRequest(t, srv, http.MethodGet, "/provision/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string][]history.Attempt](t, rec)
	assert.Empty(t, resp["attempts"])
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Sessions)
}

func TestLive_RejectsWithoutChallenge(t *testing.T) {
	srv, _ := newTestServer(t, scripted(provision.NeedsCode()), nil)

	rec := doRequest(t, srv, http.MethodPost, "/provision/shop-42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, srv, http.MethodGet, "/provision/live/"+created.SessionID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/provision/live/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	store := provision.NewStore()
	orch := provision.New(store, scripted(), provision.Config{}, nil, nil, zerolog.Nop())

	srv, err := NewServer(ServerOptions{RateLimitPerMinute: 2}, orch, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.rateLimiter.Stop() })

	router := srv.Router()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/provision/session/nope", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/provision/session/nope", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health endpoint is not rate limited.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
