package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/virtual-atelier/internal/convert"
	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/service"
)

type fakeAuth struct {
	allowed map[string]bool
	tokens  map[string]string
}

func (f *fakeAuth) Verify(_ context.Context, email string) (model.Tokens, model.User, error) {
	email = model.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return model.Tokens{}, model.User{}, fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	if !f.allowed[email] {
		return model.Tokens{}, model.User{}, errs.ErrForbidden
	}
	tok := "tok-" + email
	f.tokens[tok] = email
	return model.Tokens{AccessToken: tok, ExpiresAt: time.Now().Add(time.Hour)}, model.User{Email: email, RequestCount: 2}, nil
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (string, error) {
	email, ok := f.tokens[token]
	if !ok {
		return "", errs.ErrUnauthorized
	}
	return email, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	delete(f.tokens, token)
	return nil
}

type fakeUserService struct {
	admin string
	users []model.User
}

func (f *fakeUserService) IsAdmin(email string) bool { return model.SameIdentity(email, f.admin) }
func (f *fakeUserService) List(context.Context) ([]model.User, error) {
	return f.users, nil
}
func (f *fakeUserService) Add(_ context.Context, email string) error {
	f.users = append(f.users, model.User{Email: email})
	return nil
}
func (f *fakeUserService) Delete(_ context.Context, email string) error {
	if model.SameIdentity(email, f.admin) {
		return errs.ErrForbidden
	}
	return errs.ErrNotFound
}
func (f *fakeUserService) IncrementUsage(context.Context, string) (int, error) { return 5, nil }

type fakeStudio struct {
	service.StudioService // unimplemented methods panic

	results  []model.GenerationResult
	outcome  generation.BatchOutcome
	err      error
	forgot   []string
	regenErr error
}

func (f *fakeStudio) Generate(_ context.Context, _ string, _ model.Params, onResult generation.ResultFunc) (generation.BatchOutcome, error) {
	if f.err != nil && len(f.results) == 0 {
		return generation.BatchOutcome{}, f.err
	}
	for i, r := range f.results {
		onResult(i, r)
	}
	return f.outcome, f.err
}

func (f *fakeStudio) GenerateRaw(context.Context, service.RawGenerateRequest) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("img"), nil
}

func (f *fakeStudio) Regenerate(_ context.Context, _ string, index int) (model.GenerationResult, error) {
	if f.regenErr != nil {
		return model.GenerationResult{}, f.regenErr
	}
	return model.GenerationResult{ID: fmt.Sprintf("new-%d", index), URL: "data:x"}, nil
}

func (f *fakeStudio) Workspace(string) generation.View { return generation.View{Epoch: 3} }

func (f *fakeStudio) Forget(email string) { f.forgot = append(f.forgot, email) }

func (f *fakeStudio) History(context.Context, string) ([]model.GenerationSession, error) {
	return nil, nil
}

type fakeLimiter struct {
	allow bool
	retry time.Duration
	err   error
}

func (l fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.allow, l.retry, l.err
}

type fixture struct {
	router *gin.Engine
	auth   *fakeAuth
	users  *fakeUserService
	studio *fakeStudio
}

func newFixture(t *testing.T, mutate func(*Config)) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := fixture{
		auth:   &fakeAuth{allowed: map[string]bool{"a@b.co": true, "boss@b.co": true}, tokens: map[string]string{}},
		users:  &fakeUserService{admin: "boss@b.co", users: []model.User{{Email: "boss@b.co", RequestCount: 1}}},
		studio: &fakeStudio{},
	}
	f.auth.tokens["user-token"] = "a@b.co"
	f.auth.tokens["admin-token"] = "boss@b.co"
	cfg := Config{Auth: f.auth, Users: f.users, Studio: f.studio, Log: zaptest.NewLogger(t), BodyLimit: 1 << 20}
	if mutate != nil {
		mutate(&cfg)
	}
	f.router = NewRouter(cfg)
	return f
}

func (f fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := newFixture(t, func(c *Config) {
		c.Ready = func(context.Context) error { return errors.New("sheet unreachable") }
	})
	rec = down.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/auth/verify", "", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidInput, errorCode(t, rec))

	rec = f.do(http.MethodPost, "/api/auth/verify", "", convert.EmailRequest{Email: "x@y.zz"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/verify", "", convert.EmailRequest{Email: "A@b.co"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp convert.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "a@b.co", resp.Email)
	require.Equal(t, 2, resp.RequestCount)

	rec = f.do(http.MethodGet, "/api/auth/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"email":"a@b.co","isAdmin":false}`, rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/history", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodGet, "/api/history", "forged", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeUnauthorized, errorCode(t, rec))

	rec = f.do(http.MethodGet, "/api/history", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestLogoutDropsWorkspace(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/auth/logout", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"a@b.co"}, f.studio.forgot)

	rec = f.do(http.MethodGet, "/api/auth/me", "user-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/admin/users", "user-token", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/check", "user-token", nil)
	require.JSONEq(t, `{"isAdmin":false}`, rec.Body.String())
	rec = f.do(http.MethodGet, "/api/admin/check", "admin-token", nil)
	require.JSONEq(t, `{"isAdmin":true}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/admin/users", "admin-token", convert.EmailRequest{Email: "new@b.co"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/users", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users convert.UsersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users.Users, 2)

	rec = f.do(http.MethodDelete, "/api/admin/users/boss@b.co", "admin-token", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodDelete, "/api/admin/users/ghost@b.co", "admin-token", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	blocked := newFixture(t, func(c *Config) {
		c.Limits.Verify = fakeLimiter{allow: false, retry: 1500 * time.Millisecond}
	})
	rec := blocked.do(http.MethodPost, "/api/auth/verify", "", convert.EmailRequest{Email: "a@b.co"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, CodeRateLimited, errorCode(t, rec))

	failing := newFixture(t, func(c *Config) {
		c.Limits.Verify = fakeLimiter{err: errors.New("redis down")}
	})
	rec = failing.do(http.MethodPost, "/api/auth/verify", "", convert.EmailRequest{Email: "a@b.co"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_QuotaExhausted(t *testing.T) {
	f := newFixture(t, nil)
	body := convert.GenerateRequest{ProductImageBase64: pngBase64(t), ThemeLabel: "Cafe"}

	rec := f.do(http.MethodPost, "/api/generate", "user-token", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"imageBase64":"aW1n"}`, rec.Body.String())

	f.studio.err = fmt.Errorf("%w: 429", errs.ErrRateLimited)
	rec = f.do(http.MethodPost, "/api/generate", "user-token", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, convert.CodeQuotaExhausted, errorCode(t, rec))

	rec = f.do(http.MethodPost, "/api/generate", "user-token", convert.GenerateRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.BodyLimit = 64 })
	big := fmt.Sprintf(`{"email":"%s@b.co"}`, strings.Repeat("x", 200))
	rec := f.do(http.MethodPost, "/api/auth/verify", "", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, CodePayloadTooLarge, errorCode(t, rec))
}

func TestRunBatch_StreamsResultsThenDone(t *testing.T) {
	f := newFixture(t, nil)
	f.studio.results = []model.GenerationResult{{ID: "r2", URL: "data:a"}, {ID: "r0", URL: "data:b"}}
	f.studio.outcome = generation.BatchOutcome{Results: f.studio.results, SuccessCount: 2, Failed: 2}

	rec := f.do(http.MethodPost, "/api/studio/batches", "user-token", convert.BatchRequest{ProductImageBase64: pngBase64(t)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	require.Equal(t, 2, strings.Count(body, "event:result"))
	require.Equal(t, 1, strings.Count(body, "event:done"))
	require.Less(t, strings.Index(body, `"id":"r2"`), strings.Index(body, `"id":"r0"`))
	require.Less(t, strings.LastIndex(body, "event:result"), strings.Index(body, "event:done"))
	require.Contains(t, body, `"successCount":2`)
	require.NotContains(t, body, `"error"`)
}

func TestRunBatch_AllFailedSummary(t *testing.T) {
	f := newFixture(t, nil)
	f.studio.outcome = generation.BatchOutcome{Failed: 4, Failure: errs.ErrRateLimited}

	rec := f.do(http.MethodPost, "/api/studio/batches", "user-token", convert.BatchRequest{ProductImageBase64: pngBase64(t)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), convert.CodeQuotaExhausted)
}

func TestRunBatch_Superseded(t *testing.T) {
	f := newFixture(t, nil)
	f.studio.results = []model.GenerationResult{{ID: "r1", URL: "data:a"}}
	f.studio.outcome = generation.BatchOutcome{SuccessCount: 1, Failed: 3}
	f.studio.err = errs.ErrStaleEpoch

	rec := f.do(http.MethodPost, "/api/studio/batches", "user-token", convert.BatchRequest{ProductImageBase64: pngBase64(t)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"superseded":true`)
}

func TestRunBatch_InvalidBeforeStream(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/studio/batches", "user-token", convert.BatchRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.studio.err = fmt.Errorf("%w: unknown theme", errs.ErrInvalidInput)
	rec = f.do(http.MethodPost, "/api/studio/batches", "user-token", convert.BatchRequest{ProductImageBase64: pngBase64(t)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidInput, errorCode(t, rec))
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/studio/slots/two/regenerate", "user-token", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/studio/slots/2/regenerate", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"new-2"`)

	f.studio.regenErr = errs.ErrStaleEpoch
	rec = f.do(http.MethodPost, "/api/studio/slots/2/regenerate", "user-token", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecover(t *testing.T) {
	f := newFixture(t, nil)
	// fakeStudio leaves Load unimplemented, so the call panics
	rec := f.do(http.MethodPost, "/api/studio/load/s1", "user-token", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, CodeInternal, errorCode(t, rec))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CORSOrigins = []string{"http://localhost:5173"} })
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/verify", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("x: %w", errs.ErrInvalidInput), http.StatusBadRequest, CodeInvalidInput},
		{errs.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{errs.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{errs.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{errs.ErrRateLimited, http.StatusTooManyRequests, convert.CodeQuotaExhausted},
		{errs.ErrStaleEpoch, http.StatusConflict, convert.CodeSuperseded},
		{errs.ErrUploadIncomplete, http.StatusInternalServerError, CodeUploadIncomplete},
		{fmt.Errorf("%w: %w", errs.ErrBackend, errs.ErrNoImage), http.StatusInternalServerError, convert.CodeGenerationFailed},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := statusOf(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}
