package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/drill/internal/api"
	"github.com/felixgeelhaar/drill/internal/auth"
	"github.com/felixgeelhaar/drill/internal/claim"
	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/exercise/topics"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
	"github.com/felixgeelhaar/drill/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	instances *sqlite.InstanceStore
	tokens    *auth.Service
}

// setupTestServer wires a server over a temporary SQLite database
func setupTestServer(t *testing.T, mutate func(*config.LocalConfig)) *testServer {
	t.Helper()

	cfg := config.DefaultLocalConfig()
	cfg.Daemon.Port = 0
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	registry, err := exercise.BuildRegistry(topics.Definitions())
	require.NoError(t, err)
	gen := exercise.NewGenerator(registry, cfg.Generation.FilterPurpose)

	tokens, err := auth.NewService(auth.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), Issuer: "drilld"})
	require.NoError(t, err)

	instances := sqlite.NewInstanceStore(db)
	sessions := sqlite.NewSessionStore(db)
	stats := sqlite.NewStatsStore(db)

	controller := grading.NewController(grading.Deps{
		Instances:  instances,
		Attempts:   instances,
		Sessions:   sessions,
		Completion: sessions,
		Actors:     tokens,
		Claims:     claim.NewLocal(0),
		Events:     statsRecorder{stats},
	})

	srv, err := NewServer(ServerConfig{
		Config:    cfg,
		Generator: gen,
		Issuer:    issuance.NewService(gen, instances, sessions),
		Grading:   controller,
		Instances: instances,
		Sessions:  sessions,
		Stats:     stats,
		Tokens:    tokens,
	})
	require.NoError(t, err)

	return &testServer{Server: srv, instances: instances, tokens: tokens}
}

// statsRecorder folds events synchronously in place of the queue
type statsRecorder struct {
	stats *sqlite.StatsStore
}

func (r statsRecorder) Publish(ctx context.Context, e grading.Event) error {
	return r.stats.Record(ctx, e)
}

func (ts *testServer) token(t *testing.T, userRef string) string {
	t.Helper()
	issued, err := ts.tokens.Issue(domain.Actor{UserRef: userRef}, "")
	require.NoError(t, err)
	return issued.Token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
	require.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))
}

func TestStatusEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	require.Equal(t, "running", resp["status"])
	require.Equal(t, Version, resp["version"])
	require.EqualValues(t, len(topics.Definitions()), resp["topics"])
}

func TestListTopics(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/topics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Topics []topicView `json:"topics"`
	}](t, rec)
	require.Len(t, resp.Topics, len(topics.Definitions()))
	for _, tv := range resp.Topics {
		require.NotEmpty(t, tv.Keys, tv.Slug)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	ts := setupTestServer(t, nil)
	token := ts.token(t, "u1")
	body := map[string]any{"topic": "m1.arith", "salt": "fixed"}

	first := ts.do(t, http.MethodPost, "/v1/exercises/generate", token, body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := ts.do(t, http.MethodPost, "/v1/exercises/generate", token, body)
	require.Equal(t, http.StatusOK, second.Code)

	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.NotContains(t, first.Body.String(), "explanation")
}

func TestGenerate_Errors(t *testing.T) {
	ts := setupTestServer(t, nil)
	token := ts.token(t, "u1")

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"missing token", "", map[string]any{"topic": "arith"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown topic", token, map[string]any{"topic": "m1.nope"}, http.StatusNotFound, string(exercise.CodeUnknownTopic)},
		{"no questions", token, map[string]any{"topic": "arith", "kind": "text"}, http.StatusUnprocessableEntity, string(exercise.CodeNoQuestions)},
		{"invalid kind", token, map[string]any{"topic": "arith", "kind": "essay"}, http.StatusBadRequest, string(exercise.CodeInvalidContext)},
		{"unknown field", token, map[string]any{"topic": "arith", "bogus": true}, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/exercises/generate", tt.token, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			require.Equal(t, tt.wantCode, decode[errorBody](t, rec).Error.Code)
		})
	}
}

// correctAnswer builds the right numeric answer from the stored instance
func (ts *testServer) correctAnswer(t *testing.T, instanceID string) domain.Answer {
	t.Helper()
	inst, err := ts.instances.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)

	var exp domain.Expected
	require.NoError(t, json.Unmarshal(inst.Expected, &exp))
	require.NotNil(t, exp.Value)
	return domain.Answer{Kind: domain.KindNumeric, Value: exp.Value}
}

func wrongAnswer(t *testing.T, right domain.Answer) domain.Answer {
	t.Helper()
	v := *right.Value + 1000
	return domain.Answer{Kind: domain.KindNumeric, Value: &v}
}

func TestPracticeLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	token := ts.token(t, "u1")

	rec := ts.do(t, http.MethodPost, "/v1/instances", token, map[string]any{"topic": "arith", "allow_reveal": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pub := decode[issuance.PublicExercise](t, rec)
	require.Equal(t, domain.KindNumeric, pub.Kind)
	require.True(t, pub.CanReveal)

	right := ts.correctAnswer(t, pub.InstanceID)
	validate := "/v1/instances/" + pub.InstanceID + "/validate"

	rec = ts.do(t, http.MethodPost, validate, token, map[string]any{"answer": wrongAnswer(t, right)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dec := decode[grading.Decision](t, rec)
	require.NotNil(t, dec.OK)
	require.False(t, *dec.OK)
	require.False(t, dec.Finalized)
	require.Empty(t, dec.Explanation)

	rec = ts.do(t, http.MethodPost, validate, token, map[string]any{"reveal": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dec = decode[grading.Decision](t, rec)
	require.True(t, dec.RevealUsed)
	require.NotEmpty(t, dec.RevealAnswer)
	require.NotEmpty(t, dec.Explanation)
	require.False(t, dec.Finalized)

	rec = ts.do(t, http.MethodPost, validate, token, map[string]any{"answer": right})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dec = decode[grading.Decision](t, rec)
	require.True(t, *dec.OK)
	require.True(t, dec.Finalized)
	require.Equal(t, 2, dec.Attempts.Used)

	rec = ts.do(t, http.MethodPost, validate, token, map[string]any{"answer": right})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, grading.CodeAlreadyFinalized, decode[errorBody](t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/v1/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Topics []domain.TopicStat `json:"topics"`
	}](t, rec)
	require.Len(t, stats.Topics, 1)
	require.Equal(t, 2, stats.Topics[0].Attempts)
	require.Equal(t, 1, stats.Topics[0].Reveals)
	require.Equal(t, 1, stats.Topics[0].FinalizedCorrect)
}

func TestValidate_OtherActor(t *testing.T) {
	ts := setupTestServer(t, nil)
	owner := ts.token(t, "u1")
	other := ts.token(t, "u2")

	rec := ts.do(t, http.MethodPost, "/v1/instances", owner, map[string]any{"topic": "arith"})
	require.Equal(t, http.StatusCreated, rec.Code)
	pub := decode[issuance.PublicExercise](t, rec)

	rec = ts.do(t, http.MethodPost, "/v1/instances/"+pub.InstanceID+"/validate", other,
		map[string]any{"answer": ts.correctAnswer(t, pub.InstanceID)})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/instances/"+pub.InstanceID, other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/instances/"+pub.InstanceID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "expected")
}

func TestAssignmentSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	instructor := ts.token(t, "instructor")
	learner := ts.token(t, "learner")

	rec := ts.do(t, http.MethodPost, "/v1/assignments", instructor, map[string]any{
		"title": "Week 1", "allow_reveal": false, "max_attempts": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assignment := decode[domain.Assignment](t, rec)

	rec = ts.do(t, http.MethodPost, "/v1/sessions", learner, map[string]any{"assignment_id": assignment.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[domain.Session](t, rec)

	rec = ts.do(t, http.MethodPost, "/v1/instances", learner, map[string]any{"topic": "arith", "session_id": sess.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pub := decode[issuance.PublicExercise](t, rec)
	require.False(t, pub.CanReveal)
	require.NotNil(t, pub.MaxAttempts)
	require.Equal(t, 2, *pub.MaxAttempts)

	validate := "/v1/instances/" + pub.InstanceID + "/validate"

	rec = ts.do(t, http.MethodPost, validate, learner, map[string]any{"reveal": true})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, grading.CodeRevealNotAllowed, decode[errorBody](t, rec).Error.Code)

	wrong := wrongAnswer(t, ts.correctAnswer(t, pub.InstanceID))
	rec = ts.do(t, http.MethodPost, validate, learner, map[string]any{"answer": wrong})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[grading.Decision](t, rec).Finalized)

	rec = ts.do(t, http.MethodPost, validate, learner, map[string]any{"answer": wrong})
	require.Equal(t, http.StatusOK, rec.Code)
	dec := decode[grading.Decision](t, rec)
	require.True(t, dec.Finalized)
	require.True(t, dec.SessionComplete)

	rec = ts.do(t, http.MethodPost, validate, learner, map[string]any{"answer": wrong})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, learner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decode[domain.Session](t, rec).CompletedAt)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, instructor, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/instances", learner, map[string]any{"topic": "arith", "session_id": sess.ID})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSession_UnknownAssignment(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/sessions", ts.token(t, "u1"), map[string]any{"assignment_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAssignment_Validation(t *testing.T) {
	ts := setupTestServer(t, nil)
	token := ts.token(t, "instructor")

	rec := ts.do(t, http.MethodPost, "/v1/assignments", token, map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/assignments", token, map[string]any{"title": "x", "max_attempts": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueToken(t *testing.T) {
	t.Run("mints a guest", func(t *testing.T) {
		ts := setupTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/tokens", "", map[string]any{})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		issued := decode[auth.Issued](t, rec)
		require.Contains(t, issued.ActorRef, "guest:")

		actor, err := ts.tokens.ResolveActor(context.Background(), issued.Token)
		require.NoError(t, err)
		require.Equal(t, issued.ActorRef, actor.Ref())
	})

	t.Run("rejects both refs", func(t *testing.T) {
		ts := setupTestServer(t, nil)

		rec := ts.do(t, http.MethodPost, "/v1/tokens", "", map[string]any{"user_ref": "a", "guest_ref": "b"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		ts := setupTestServer(t, func(c *config.LocalConfig) { c.Tokens.DevIssue = false })

		rec := ts.do(t, http.MethodPost, "/v1/tokens", "", map[string]any{})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(c *config.LocalConfig) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = 1
		c.RateLimit.Burst = 2
	})
	t.Cleanup(func() { _ = ts.limiter.Close() })

	limited := 0
	for i := 0; i < 10; i++ {
		rec := ts.do(t, http.MethodGet, "/v1/topics", "", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited++
			require.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	require.Positive(t, limited)

	rec := ts.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health is never limited")
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(ServerConfig{Config: config.DefaultLocalConfig()})
	require.Error(t, err)
}

func TestCreateSession_RejectsDebugFlag(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/sessions", ts.token(t, "u1"), map[string]any{"show_debug": true})
	require.Equal(t, http.StatusBadRequest, rec.Code, "debug output is an assignment setting")
}

func TestErrorEnvelope_EchoesRequestID(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/instances/missing/validate", ts.token(t, "u1"), map[string]any{"reveal": true})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	body := decode[api.ErrorResponse](t, rec)
	require.NotEmpty(t, body.Error.RequestID)
	require.Equal(t, rec.Header().Get(CorrelationIDHeader), body.Error.RequestID)
}
