package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// oversizedGradeForm はCSRFトークンと上限を超えるパディングを持つフォーム本文を返す。
func oversizedGradeForm(token string) string {
	form := url.Values{}
	form.Set(csrfFormField, token)
	form.Set("grade", "3")
	form.Set("padding", strings.Repeat("x", MaxRequestBodySize))
	return form.Encode()
}

func TestBodyLimitMiddleware_RejectsLargeFormBeforeCSRF(t *testing.T) {
	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})
	handler := NewBodyLimitMiddleware(MaxRequestBodySize)(
		NewCSRFMiddleware(CSRFConfig{})(inner),
	)

	req := httptest.NewRequest(http.MethodPost, "/home", strings.NewReader(oversizedGradeForm("tok")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if reached {
		t.Error("handler must not run for an oversized body")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "REQUEST_TOO_LARGE" {
		t.Errorf("code = %q, want REQUEST_TOO_LARGE", body.Code)
	}
}

func TestBodyLimitMiddleware_LimitsBodyWithoutContentLength(t *testing.T) {
	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})
	handler := NewBodyLimitMiddleware(MaxRequestBodySize)(
		NewCSRFMiddleware(CSRFConfig{})(inner),
	)

	req := httptest.NewRequest(http.MethodPost, "/home", strings.NewReader(oversizedGradeForm("tok")))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	// 上限で読み取りが打ち切られ、フォームのトークンが得られない
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if reached {
		t.Error("handler must not run for an oversized body")
	}
}

func TestBodyLimitMiddleware_PassesSmallBody(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("ReadAll() error = %v", err)
		}
		got = string(b)
		w.WriteHeader(http.StatusOK)
	})
	handler := NewBodyLimitMiddleware(MaxRequestBodySize)(inner)

	req := httptest.NewRequest(http.MethodPost, "/home", strings.NewReader(`{"grade":2}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != `{"grade":2}` {
		t.Errorf("body = %q", got)
	}
}
