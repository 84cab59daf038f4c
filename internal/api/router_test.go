package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"

	"accessportal/internal/access"
	"accessportal/internal/audit"
	"accessportal/internal/auth"
	"accessportal/internal/config"
	"accessportal/internal/db"
	"accessportal/internal/invite"
	"accessportal/internal/maintenance"
	"accessportal/internal/metrics"
	"accessportal/internal/notify"
	"accessportal/internal/service"
	"accessportal/internal/sso"
	"accessportal/internal/store"
	"accessportal/internal/util"
)

const (
	testSecret    = "router-test-secret"
	adminEmail    = "admin@corp.local"
	adminPassword = "admin-pass-123"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	st      *store.Store
	cfg     config.Config
	webDir  string
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:                 config.EnvDevelopment,
		BaseURL:                "https://portal.corp.local",
		JWTSecret:              testSecret,
		SessionCookieName:      "cnm_token",
		SessionTTLHours:        8,
		TrustProxy:             true,
		LoginRateLimit:         5,
		LoginRateWindowSec:     60,
		LoginRateMaxKeys:       50,
		AuditRetentionDays:     30,
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: adminPassword,
	}
}

func newTestServer(t *testing.T, ssoCfg sso.Config) *testServer {
	t.Helper()
	cfg := testConfig()
	x, err := db.OpenSQLite(filepath.Join(t.TempDir(), "portal.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	if err := db.Migrate(x); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(x)

	logger, _ := test.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL())
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	box, err := util.NewSecretBox(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}
	rec := audit.NewRecorder(logger, m, audit.NewDBSink(st))

	svc := service.New(service.Deps{
		Config:  cfg,
		Store:   st,
		Tokens:  tokens,
		Access:  access.NewResolver(st),
		Invites: invite.NewManager(st, notify.NewLogSender(logger), cfg.BaseURL, logger),
		Audit:   rec,
		Pruner:  maintenance.NewPruner(st, cfg.AuditRetentionDays, logger, m),
		Secrets: box,
		Log:     logger,
		Metrics: m,
	})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	webDir := t.TempDir()
	ssoCfg.RedirectURL = cfg.SSORedirectURL()
	h := NewRouter(cfg, svc, Options{
		SSO:     sso.NewGoogle(ssoCfg, st, tokens, rec, logger, m),
		Metrics: m,
		Log:     logger,
		WebDir:  webDir,
	})
	return &testServer{t: t, handler: h, st: st, cfg: cfg, webDir: webDir}
}

type call struct {
	method  string
	path    string
	body    any
	session string
	headers map[string]string
}

func (s *testServer) do(c call) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: s.cfg.SessionCookieName, Value: c.session})
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) login(email, password string) string {
	s.t.Helper()
	rr := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": email, "password": password}})
	if rr.Code != http.StatusOK {
		s.t.Fatalf("login %s: expected 200, got %d %s", email, rr.Code, rr.Body.String())
	}
	c := sessionCookie(rr, s.cfg.SessionCookieName)
	if c == nil || c.Value == "" {
		s.t.Fatalf("login %s: no session cookie", email)
	}
	return c.Value
}

func sessionCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestLoginSetsSessionCookie(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	rr := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": adminEmail, "password": adminPassword}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if body := decode[map[string]string](t, rr); body["message"] != "Login successful" {
		t.Fatalf("unexpected body %v", body)
	}
	c := sessionCookie(rr, "cnm_token")
	if c == nil {
		t.Fatalf("missing cookie")
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" || c.MaxAge != 8*3600 || c.Secure {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}
}

func TestLoginDoesNotRevealAccounts(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	wrong := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": adminEmail, "password": "nope-nope"}})
	unknown := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": "ghost@corp.local", "password": "nope-nope"}})
	if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", wrong.Code, unknown.Code)
	}
	a := decode[util.APIError](t, wrong)
	b := decode[util.APIError](t, unknown)
	if a.Error != "Invalid credentials or inactive account." || a.Error != b.Error || a.Code != b.Code {
		t.Fatalf("responses differ: %+v vs %+v", a, b)
	}

	missing := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": adminEmail}})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", missing.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	body := map[string]string{"email": adminEmail, "password": "wrong-wrong"}
	for i := 0; i < 5; i++ {
		if rr := s.do(call{method: "POST", path: "/api/auth/login", body: body}); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": adminEmail, "password": adminPassword}})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := decode[util.APIError](t, rr).Error; got != "Too many login attempts. Please try again later." {
		t.Fatalf("unexpected message %q", got)
	}
	other := s.do(call{method: "POST", path: "/api/auth/login", body: map[string]string{"email": adminEmail, "password": adminPassword}, headers: map[string]string{"X-Forwarded-For": "10.0.0.2"}})
	if other.Code != http.StatusOK {
		t.Fatalf("other client must not be limited, got %d", other.Code)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	s := newTestServer(t, sso.Config{})

	if rr := s.do(call{method: "GET", path: "/api/links"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr := s.do(call{method: "GET", path: "/api/auth/me"})
	if rr.Code != http.StatusOK || decode[map[string]bool](t, rr)["isAdmin"] {
		t.Fatalf("expected isAdmin false, got %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(call{method: "GET", path: "/"})
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to login, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	rr = s.do(call{method: "GET", path: "/api/links", session: "forged.token.value"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rr.Code)
	}
	if c := sessionCookie(rr, "cnm_token"); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	token := s.login(adminEmail, adminPassword)
	rr := s.do(call{method: "POST", path: "/api/auth/logout", session: token})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if c := sessionCookie(rr, "cnm_token"); c == nil || c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
	logs, err := s.st.ListAuditLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 2 || logs[0].EventType != "LOGOUT" {
		t.Fatalf("expected LOGOUT to be newest audit row, got %+v", logs)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	rr := s.do(call{method: "GET", path: "/health/live"})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"version"`) {
		t.Fatalf("unexpected live response %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(call{method: "GET", path: "/health/ready"})
	if rr.Code != http.StatusOK || decode[map[string]any](t, rr)["status"] != "ready" {
		t.Fatalf("unexpected ready response %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(call{method: "GET", path: "/metrics"})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `accessportal_http_requests_total{method="GET",route="/health/ready",status="200"} 1`) {
		t.Fatalf("metrics missing request counter: %s", rr.Body.String())
	}
}

func TestPruneLogsRequiresSecret(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	rr := s.do(call{method: "POST", path: "/api/admin/system/prune-logs"})
	if rr.Code != http.StatusUnauthorized || decode[util.APIError](t, rr).Error != "Unauthorized cron execution" {
		t.Fatalf("expected 401, got %d %s", rr.Code, rr.Body.String())
	}
	adminSession := s.login(adminEmail, adminPassword)
	rr = s.do(call{method: "POST", path: "/api/admin/system/prune-logs", session: adminSession})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("a session is not a maintenance credential, got %d", rr.Code)
	}
	rr = s.do(call{method: "POST", path: "/api/admin/system/prune-logs", headers: map[string]string{"Authorization": "Bearer " + testSecret}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["deletedCount"] != float64(0) {
		t.Fatalf("unexpected deletedCount %v", body["deletedCount"])
	}
	olderThan, err := time.Parse(time.RFC3339Nano, body["olderThan"].(string))
	if err != nil {
		t.Fatalf("olderThan: %v", err)
	}
	if age := time.Since(olderThan); age < 29*24*time.Hour || age > 31*24*time.Hour {
		t.Fatalf("unexpected cutoff %v", olderThan)
	}
}

func TestGoogleStartWithoutConfiguration(t *testing.T) {
	s := newTestServer(t, sso.Config{})
	rr := s.do(call{method: "GET", path: "/api/auth/google"})
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/login?error=SSO_NOT_CONFIGURED" {
		t.Fatalf("unexpected redirect %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestGoogleStartAndStateCheck(t *testing.T) {
	s := newTestServer(t, sso.Config{ClientID: "client", ClientSecret: "secret", Domain: "corp.local"})
	rr := s.do(call{method: "GET", path: "/api/auth/google"})
	if rr.Code != http.StatusFound || !strings.HasPrefix(rr.Header().Get("Location"), "https://accounts.google.com/") {
		t.Fatalf("expected redirect to google, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	state := sessionCookie(rr, "cnm_oauth_state")
	if state == nil || state.Value == "" || !state.HttpOnly {
		t.Fatalf("expected state cookie, got %+v", state)
	}
	if !strings.Contains(rr.Header().Get("Location"), "state="+state.Value) {
		t.Fatalf("state not forwarded: %s", rr.Header().Get("Location"))
	}

	req := httptest.NewRequest("GET", "/api/auth/google/callback?code=abc&state=other", nil)
	req.AddCookie(&http.Cookie{Name: "cnm_oauth_state", Value: state.Value})
	res := httptest.NewRecorder()
	s.handler.ServeHTTP(res, req)
	if res.Header().Get("Location") != "/login?error=OAUTH_STATE_MISMATCH" {
		t.Fatalf("expected state mismatch, got %q", res.Header().Get("Location"))
	}

	res = httptest.NewRecorder()
	s.handler.ServeHTTP(res, httptest.NewRequest("GET", "/api/auth/google/callback", nil))
	if res.Header().Get("Location") != "/login?error=OAUTH_NO_CODE" {
		t.Fatalf("expected no-code error, got %q", res.Header().Get("Location"))
	}
}
