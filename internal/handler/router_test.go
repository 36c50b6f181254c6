package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gradebook/internal/auth"
	"github.com/hitoshi/gradebook/internal/database"
	"github.com/hitoshi/gradebook/internal/grade"
	"github.com/hitoshi/gradebook/internal/metrics"
	"github.com/hitoshi/gradebook/internal/middleware"
	"github.com/hitoshi/gradebook/internal/model"
	"github.com/hitoshi/gradebook/internal/repository"
	"github.com/hitoshi/gradebook/internal/security"
)

// fakeProvider は認可コードをそのままloginとして扱うOAuthProvider。
type fakeProvider struct{}

func (fakeProvider) GetLoginURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (fakeProvider) ExchangeCode(ctx context.Context, code string) (model.Profile, error) {
	if code == "broken" {
		return model.Profile{}, errors.New("token exchange failed")
	}
	return model.Profile{ID: int64(len(code)), Login: code, Name: strings.ToUpper(code)}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// testServer はSQLiteストア上に全依存関係を組み立てたサーバーを起動する。
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := database.Open("sqlite3://:memory:")
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := database.RunMigrations(store); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	userRepo := repository.NewSQLUserRepo(store, model.NewRoster([]string{"alice", "carol"}, []string{"bob"}))
	sessionRepo := repository.NewSQLSessionRepo(store)

	authService := auth.NewService(fakeProvider{}, userRepo, sessionRepo, security.NewProfileSanitizer(), collector, auth.ServiceConfig{})
	gradeService := grade.NewService(userRepo, collector)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	srv := httptest.NewServer(NewRouter(&RouterDeps{
		RateLimiter:   rl,
		HealthChecker: store,
		Metrics:       collector,
		Gatherer:      reg,
		AuthService:   authService,
		AuthConfig: AuthHandlerConfig{
			BaseURL:  "http://frontend.example",
			ClientID: "client-123",
		},
		GradeService: gradeService,
	}))
	t.Cleanup(srv.Close)
	return srv
}

// browser はCookieを保持し、リダイレクトを追わないクライアント。
type browser struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &browser{
		t:   t,
		srv: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) cookie(name string) string {
	u, _ := url.Parse(b.srv.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *browser) do(method, path, body string) (*http.Response, string) {
	b.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.srv.URL+path, r)
	if err != nil {
		b.t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := b.cookie("csrf_token"); token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func (b *browser) login(login string) {
	b.t.Helper()
	resp, _ := b.do(http.MethodGet, "/auth/github/login", "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		b.t.Fatalf("login status = %d", resp.StatusCode)
	}
	state := b.cookie("oauth_state")
	resp, body := b.do(http.MethodGet, fmt.Sprintf("/auth/github/callback?code=%s&state=%s", login, state), "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		b.t.Fatalf("callback status = %d, body = %s", resp.StatusCode, body)
	}
	if b.cookie(middleware.SessionCookieName) == "" {
		b.t.Fatal("session cookie was not set")
	}
}

func (b *browser) home() (int, grade.HomeView) {
	b.t.Helper()
	resp, body := b.do(http.MethodGet, "/home", "")
	var view grade.HomeView
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal([]byte(body), &view); err != nil {
			b.t.Fatalf("decode home: %v", err)
		}
	}
	return resp.StatusCode, view
}

func TestRouter_StudentGradeFlow(t *testing.T) {
	srv := testServer(t)
	alice := newBrowser(t, srv)

	if status, _ := alice.home(); status != http.StatusUnauthorized {
		t.Fatalf("home before login status = %d, want 401", status)
	}

	alice.login("alice")

	status, view := alice.home()
	if status != http.StatusOK {
		t.Fatalf("home status = %d", status)
	}
	if view.User.Username != "alice" || view.User.Role != model.RoleStudent || view.User.Grade != 0 {
		t.Fatalf("user = %+v", view.User)
	}
	if view.Users != nil {
		t.Errorf("students must not see the user list: %+v", view.Users)
	}

	resp, body := alice.do(http.MethodPost, "/home", `{"grade":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /home status = %d, body = %s", resp.StatusCode, body)
	}

	resp, _ = alice.do(http.MethodPost, "/home", `{"grade":7}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /home grade 7 status = %d, want 400", resp.StatusCode)
	}

	_, view = alice.home()
	if view.User.Grade != 3 {
		t.Errorf("grade = %d, want 3", view.User.Grade)
	}

	resp, _ = alice.do(http.MethodGet, "/sign-out", "")
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("sign-out status = %d, want 303", resp.StatusCode)
	}
	if status, _ := alice.home(); status != http.StatusUnauthorized {
		t.Errorf("home after sign-out status = %d, want 401", status)
	}
}

func TestRouter_TeacherUpdatesStudent(t *testing.T) {
	srv := testServer(t)

	alice := newBrowser(t, srv)
	alice.login("alice")
	_, aliceView := alice.home()

	bob := newBrowser(t, srv)
	bob.login("bob")

	status, view := bob.home()
	if status != http.StatusOK {
		t.Fatalf("home status = %d", status)
	}
	if view.User.Role != model.RoleTeacher {
		t.Errorf("bob role = %q, want teacher", view.User.Role)
	}
	if len(view.Users) != 2 {
		t.Fatalf("users = %d, want 2", len(view.Users))
	}

	resp, body := bob.do(http.MethodPost, fmt.Sprintf("/api/users/%d/grade", aliceView.User.ID), `{"grade":4}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("teacher update status = %d, body = %s", resp.StatusCode, body)
	}

	_, aliceView = alice.home()
	if aliceView.User.Grade != 4 {
		t.Errorf("alice grade = %d, want 4", aliceView.User.Grade)
	}

	// 教師は自分の成績を持たない
	resp, _ = bob.do(http.MethodPost, "/home", `{"grade":1}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("teacher POST /home status = %d, want 403", resp.StatusCode)
	}

	// 学生は他人の成績を更新できない
	resp, _ = alice.do(http.MethodPost, fmt.Sprintf("/api/users/%d/grade", aliceView.User.ID), `{"grade":0}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("student teacher-endpoint status = %d, want 403", resp.StatusCode)
	}
}

func TestRouter_RepeatedLoginKeepsSingleUser(t *testing.T) {
	srv := testServer(t)

	first := newBrowser(t, srv)
	first.login("carol")
	second := newBrowser(t, srv)
	second.login("carol")

	if first.cookie(middleware.SessionCookieName) == second.cookie(middleware.SessionCookieName) {
		t.Error("each login must mint a distinct session token")
	}

	_, v1 := first.home()
	_, v2 := second.home()
	if v1.User.ID != v2.User.ID {
		t.Errorf("user ids differ: %d vs %d", v1.User.ID, v2.User.ID)
	}
}

func TestRouter_CallbackErrors(t *testing.T) {
	srv := testServer(t)
	b := newBrowser(t, srv)

	resp, body := b.do(http.MethodGet, "/auth/github/callback", "")
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body, "Missing code parameter") {
		t.Errorf("missing code: status = %d, body = %q", resp.StatusCode, body)
	}

	b.do(http.MethodGet, "/auth/github/login", "")
	state := b.cookie("oauth_state")
	resp, body = b.do(http.MethodGet, "/auth/github/callback?code=broken&state="+state, "")
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(body, "Failed to get profile") {
		t.Errorf("broken provider: status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestRouter_CSRFRequiredForPost(t *testing.T) {
	srv := testServer(t)
	alice := newBrowser(t, srv)
	alice.login("alice")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/home", strings.NewReader(`{"grade":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := alice.client.Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRouter_OversizedFormRejected(t *testing.T) {
	srv := testServer(t)
	alice := newBrowser(t, srv)
	alice.login("alice")
	alice.home()

	form := url.Values{}
	form.Set("csrf_token", alice.cookie("csrf_token"))
	form.Set("grade", "3")
	form.Set("padding", strings.Repeat("x", middleware.MaxRequestBodySize))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/home", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := alice.client.Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
	if _, view := alice.home(); view.User.Grade != 0 {
		t.Errorf("grade = %d, want 0 after rejected update", view.User.Grade)
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	srv := testServer(t)
	b := newBrowser(t, srv)

	resp, body := b.do(http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"client_id":"client-123"`) {
		t.Errorf("GET / status = %d, body = %s", resp.StatusCode, body)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	resp, body = b.do(http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Errorf("GET /health status = %d, body = %s", resp.StatusCode, body)
	}

	b.login("alice")

	resp, body = b.do(http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	for _, name := range []string{"gradebook_logins_total", "gradebook_users_created_total", "gradebook_http_status_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestHealthHandler_Unavailable(t *testing.T) {
	h := NewHealthHandler(pingFunc(func(ctx context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
