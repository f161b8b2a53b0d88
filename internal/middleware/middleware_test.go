package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUserID(r.Context()) + "|" + GetUserName(r.Context())))
}

func TestIdentity(t *testing.T) {
	var ensured atomic.Int32
	h := Identity(func(ctx context.Context, id, name string) error {
		ensured.Add(1)
		return nil
	})(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no identity status = %d", rec.Code)
	}

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderUserName, "Uma")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Body.String() != "u1|Uma" {
			t.Fatalf("body = %q", rec.Body.String())
		}
	}
	if ensured.Load() != 1 {
		t.Fatalf("ensure called %d times", ensured.Load())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserName, "Uma R.")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if ensured.Load() != 2 {
		t.Fatal("rename did not refresh the profile")
	}
}

func TestIdentityEnsureFailureRetries(t *testing.T) {
	var calls atomic.Int32
	h := Identity(func(ctx context.Context, id, name string) error {
		calls.Add(1)
		return errors.New("redis down")
	})(http.HandlerFunc(okHandler))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("ensure calls = %d", calls.Load())
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(okHandler))
	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req = req.WithContext(WithIdentity(req.Context(), "u1", ""))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst rejected: %v", codes)
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("not limited: %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "203.0.113.8:5555"
	other = other.WithContext(WithIdentity(other.Context(), "u2", ""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other user limited: %d", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, 0)(http.HandlerFunc(okHandler))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(http.HandlerFunc(okHandler))
	cases := []struct {
		name   string
		remote string
		token  string
		want   int
	}{
		{"public without token", "198.51.100.1:1", "", http.StatusForbidden},
		{"public wrong token", "198.51.100.1:1", "nope", http.StatusForbidden},
		{"public with token", "198.51.100.1:1", "s3cret", http.StatusOK},
		{"private network", "10.0.0.5:1", "", http.StatusOK},
		{"loopback", "127.0.0.1:1", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			req.RemoteAddr = tc.remote
			if tc.token != "" {
				req.Header.Set(HeaderInternalToken, tc.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("recovered response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMaskToken(t *testing.T) {
	cases := map[string]string{"": "", "abc": "****", "abcdefgh": "abcd***"}
	for in, want := range cases {
		if got := MaskToken(in); got != want {
			t.Errorf("MaskToken(%q) = %q, want %q", in, got, want)
		}
	}
}
