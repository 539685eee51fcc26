package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"letterdesk/internal/app"
	"letterdesk/internal/apperr"
	"letterdesk/internal/config"
	"letterdesk/internal/rowstore"
)

type server struct {
	t       *testing.T
	engine  *gin.Engine
	backend *rowstore.MemoryBackend
	app     *app.App
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.Store.Gate.Mode = "none"
	cfg.Auth.Pepper = "pepper"
	cfg.Auth.BcryptCost = 4
	cfg.Auth.AdminEmails = []string{"boss@x.com"}
	cfg.JWT.Secret = "secret"
	cfg.Backoff.BaseDelay = time.Millisecond
	cfg.Backoff.MaxDelay = time.Millisecond

	backend := rowstore.NewMemoryBackend()
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.Options{
		Backend: backend,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	log := zap.NewNop()
	router := NewRouter(
		NewAuthHandler(a.Auth, a.Accounts, log),
		NewJobHandler(a.Letters, a.Jobs, log),
		NewLetterHandler(a.Letters, a.Accounts, log),
		NewProfileHandler(a.Profiles, log),
		cfg.JWT.Secret,
		log,
	)
	return &server{t: t, engine: router.Engine, backend: backend, app: a}
}

func (s *server) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *server) login(email, plan string) string {
	s.t.Helper()
	w, _ := s.do(http.MethodPost, "/signup", "", gin.H{"email": email, "password": "correct-horse", "plan": plan})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	w, body := s.do(http.MethodPost, "/login", "", gin.H{"email": email, "password": "correct-horse"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return body["token"].(string)
}

func TestSignupLoginMe(t *testing.T) {
	s := newServer(t)
	token := s.login("a@x.com", "individual")

	w, body := s.do(http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@x.com", body["email"])
	quota := body["quota"].(map[string]any)
	assert.EqualValues(t, 1, quota["daily_remaining"])

	w, _ = s.do(http.MethodPost, "/signup", "", gin.H{"email": "a@x.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPost, "/login", "", gin.H{"email": "a@x.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = s.do(http.MethodPost, "/signup", "", gin.H{"email": "b@x.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "secret", body["field"])
}

func TestJobsLifecycle(t *testing.T) {
	s := newServer(t)
	token := s.login("a@x.com", "individual")
	other := s.login("b@x.com", "individual")

	w, job := s.do(http.MethodPost, "/jobs", token, gin.H{
		"bureau":       "Equifax",
		"dispute_type": "late_payment",
		"round":        "Round 1",
		"payload":      gin.H{"user": gin.H{"full_name": "Jane"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := job["letter_id"].(string)
	assert.Contains(t, id, "jane-equifax-")

	w, body := s.do(http.MethodGet, "/jobs", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["jobs"], 1)

	w, _ = s.do(http.MethodGet, "/jobs/"+id, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/jobs/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(http.MethodPost, "/jobs/"+id+"/requeue", other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/review/jobs/"+id, token, gin.H{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := s.login("boss@x.com", "pro")
	w, body = s.do(http.MethodPost, "/review/jobs/"+id, admin, gin.H{"status": "needs_fix", "notes": "missing account number"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "needs_fix", body["status"])

	w, body = s.do(http.MethodPost, "/jobs/"+id+"/requeue", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "", body["qa_notes"])

	w, _ = s.do(http.MethodGet, "/jobs?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerationQuota(t *testing.T) {
	s := newServer(t)
	token := s.login("a@x.com", "individual")
	_, job := s.do(http.MethodPost, "/jobs", token, gin.H{"bureau": "Experian"})
	id := job["letter_id"].(string)

	w, body := s.do(http.MethodPost, "/generations", token, gin.H{"letter_id": id, "letter_text": "Dear Experian,", "account_ref": "x-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 0, body["quota"].(map[string]any)["daily_remaining"])

	w, _ = s.do(http.MethodPost, "/generations", token, gin.H{"letter_id": id, "letter_text": "again"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, body = s.do(http.MethodGet, "/usage", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["ledger"].(map[string]any)["daily"])
}

func TestRateLimitedStoreAsksForRetry(t *testing.T) {
	s := newServer(t)
	token := s.login("a@x.com", "individual")

	s.app.Store.Invalidate("Users")
	quota := apperr.RateLimited(errors.New("googleapi: Error 429"))
	s.backend.FailNext("ReadAll", quota, quota, quota, quota, quota)

	w, body := s.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "still syncing, retry", body["error"])
	assert.Equal(t, true, body["retry"])

	w, _ = s.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newServer(t)
	s.login("a@x.com", "individual")

	w, _ := s.do(http.MethodPost, "/password/reset/request", "", gin.H{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w, _ = s.do(http.MethodPost, "/password/reset/request", "", gin.H{"email": "a@x.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = s.do(http.MethodPost, "/password/reset/confirm", "", gin.H{"email": "a@x.com", "code": "000000", "password": "brand-new-secret"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAndProfiles(t *testing.T) {
	s := newServer(t)
	user := s.login("a@x.com", "individual")
	admin := s.login("boss@x.com", "pro")

	w, _ := s.do(http.MethodPost, "/admin/accounts/password", user, gin.H{"email": "a@x.com", "password": "set-by-admin"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodPost, "/admin/accounts/password", admin, gin.H{"email": "a@x.com", "password": "set-by-admin"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, "/login", "", gin.H{"email": "a@x.com", "password": "set-by-admin"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/profile", user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
