package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/gradebook/internal/middleware"
	"github.com/hitoshi/gradebook/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (string, error)
	logoutFn         func(ctx context.Context, token string) error
	currentUserFn    func(ctx context.Context, token string) (model.User, bool, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (string, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return "", nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, token string) (model.User, bool, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, token)
	}
	return model.User{}, false, nil
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		BaseURL:       "http://localhost:8081",
		ClientID:      "client-123",
		SessionMaxAge: 3600,
	}
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Index(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body indexResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ClientID != "client-123" {
		t.Errorf("client_id = %q, want client-123", body.ClientID)
	}
	if body.LoginURL != "http://localhost:8081/auth/github/login" {
		t.Errorf("login_url = %q", body.LoginURL)
	}
}

func TestAuthHandler_Login_RedirectsWithState(t *testing.T) {
	var gotState string
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			gotState = state
			return "https://github.com/login/oauth/authorize?state=" + state
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if !strings.HasPrefix(resp.Header.Get("Location"), "https://github.com/login/oauth/authorize") {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	c := responseCookie(resp, oauthStateCookie)
	if c == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if c.Value != gotState || len(gotState) != 32 {
		t.Errorf("state cookie = %q, state passed = %q", c.Value, gotState)
	}
	if !c.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}
}

func TestAuthHandler_Callback(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		stateCookie string
		callbackErr error
		wantStatus  int
		wantBody    string
		wantSession bool
	}{
		{
			name:       "missing code",
			query:      "?state=s1",
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing code parameter",
		},
		{
			name:        "state mismatch",
			query:       "?code=c&state=s1",
			stateCookie: "other",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:       "missing state cookie",
			query:      "?code=c&state=s1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "profile unavailable",
			query:       "?code=c&state=s1",
			stateCookie: "s1",
			callbackErr: model.NewProfileUnavailableError(),
			wantStatus:  http.StatusInternalServerError,
			wantBody:    "Failed to get profile",
		},
		{
			name:        "session failure",
			query:       "?code=c&state=s1",
			stateCookie: "s1",
			callbackErr: errors.New("db down"),
			wantStatus:  http.StatusInternalServerError,
			wantBody:    "Failed to create session",
		},
		{
			name:        "success",
			query:       "?code=c&state=s1",
			stateCookie: "s1",
			wantStatus:  http.StatusTemporaryRedirect,
			wantSession: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCode string
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (string, error) {
					gotCode = code
					if tt.callbackErr != nil {
						return "", tt.callbackErr
					}
					return "session-token", nil
				},
			}
			h := NewAuthHandler(svc, testAuthConfig())

			req := httptest.NewRequest(http.MethodGet, "/auth/github/callback"+tt.query, nil)
			if tt.stateCookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.stateCookie})
			}
			w := httptest.NewRecorder()

			h.Callback(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}

			c := responseCookie(resp, middleware.SessionCookieName)
			if !tt.wantSession {
				if c != nil && c.Value != "" {
					t.Errorf("unexpected session cookie %q", c.Value)
				}
				return
			}
			if gotCode != "c" {
				t.Errorf("code passed to service = %q, want c", gotCode)
			}
			if c == nil || c.Value != "session-token" {
				t.Fatalf("session cookie = %+v, want session-token", c)
			}
			if !c.HttpOnly {
				t.Error("session cookie should be HttpOnly")
			}
			if c.MaxAge != 3600 {
				t.Errorf("MaxAge = %d, want 3600", c.MaxAge)
			}
			if loc := resp.Header.Get("Location"); loc != "http://localhost:8081" {
				t.Errorf("Location = %q", loc)
			}
		})
	}
}

func TestAuthHandler_SignOut(t *testing.T) {
	t.Run("missing cookie", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{
			logoutFn: func(ctx context.Context, token string) error {
				t.Fatal("Logout should not be called")
				return nil
			},
		}, testAuthConfig())

		w := httptest.NewRecorder()
		h.SignOut(w, httptest.NewRequest(http.MethodGet, "/sign-out", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("deletes session and clears cookie", func(t *testing.T) {
		var deleted string
		h := NewAuthHandler(&mockAuthService{
			logoutFn: func(ctx context.Context, token string) error {
				deleted = token
				return nil
			},
		}, testAuthConfig())

		req := httptest.NewRequest(http.MethodGet, "/sign-out", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok"})
		w := httptest.NewRecorder()
		h.SignOut(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusSeeOther {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
		}
		if deleted != "tok" {
			t.Errorf("deleted token = %q, want tok", deleted)
		}
		c := responseCookie(resp, middleware.SessionCookieName)
		if c == nil || c.MaxAge >= 0 {
			t.Errorf("session cookie should be cleared, got %+v", c)
		}
	})

	t.Run("store error", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{
			logoutFn: func(ctx context.Context, token string) error {
				return errors.New("db down")
			},
		}, testAuthConfig())

		req := httptest.NewRequest(http.MethodGet, "/sign-out", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok"})
		w := httptest.NewRecorder()
		h.SignOut(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

func TestAuthHandler_Logout_ClearsCookieEvenOnFailure(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		logoutFn: func(ctx context.Context, token string) error {
			return errors.New("db down")
		},
	}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if c := responseCookie(resp, middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	alice := model.User{ID: 1, Username: "alice", Name: "Alice", Role: model.RoleStudent, Grade: 2}

	tests := []struct {
		name       string
		cookie     string
		user       model.User
		found      bool
		err        error
		wantStatus int
	}{
		{name: "no cookie", wantStatus: http.StatusUnauthorized},
		{name: "unknown session", cookie: "tok", wantStatus: http.StatusUnauthorized},
		{name: "store error", cookie: "tok", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
		{name: "found", cookie: "tok", user: alice, found: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				currentUserFn: func(ctx context.Context, token string) (model.User, bool, error) {
					return tt.user, tt.found, tt.err
				},
			}, testAuthConfig())

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Me(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got model.User
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Username != "alice" || got.Grade != 2 || got.Role != model.RoleStudent {
				t.Errorf("user = %+v", got)
			}
		})
	}
}
