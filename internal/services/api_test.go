package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/irrigo/internal/shared"
	tu "github.com/desertthunder/irrigo/internal/testing"
)

type stubAuthorizer struct {
	mu    sync.Mutex
	cred  Credential
	ok    bool
	calls []Credential
}

func (s *stubAuthorizer) Credential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.ok
}

func (s *stubAuthorizer) Unauthorized(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *stubAuthorizer) set(token string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.ok = Credential{Token: token, Epoch: epoch}, token != ""
}

func (s *stubAuthorizer) unauthorizedCalls() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Credential(nil), s.calls...)
}

func TestClient(t *testing.T) {
	t.Run("NewClient", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			c := NewClient(ClientOpts{BaseURL: "http://example.com/", HTTPClient: customClient})

			if c.baseURL != "http://example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
			}
			if c.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL", func(t *testing.T) {
			c := NewClient(ClientOpts{})

			if c.BaseURL() != DefaultBaseURL {
				t.Errorf("expected default baseURL %s, got %s", DefaultBaseURL, c.BaseURL())
			}
			if c.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Attach Credential", func(t *testing.T) {
		t.Run("reads the current credential on every request", func(t *testing.T) {
			var seen []string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = append(seen, r.Header.Get("Authorization"))
				if r.Header.Get("X-Request-ID") == "" {
					t.Error("expected X-Request-ID header")
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			auth := &stubAuthorizer{}
			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: auth})

			auth.set("t1", 1)
			if err := c.Do(context.Background(), http.MethodGet, "/api/devices", nil, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			auth.set("t2", 2)
			if err := c.Do(context.Background(), http.MethodGet, "/api/devices", nil, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(seen) != 2 || seen[0] != "Bearer t1" || seen[1] != "Bearer t2" {
				t.Errorf("expected fresh credentials per request, got %v", seen)
			}
		})

		t.Run("missing credential is not an error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if h := r.Header.Get("Authorization"); h != "" {
					t.Errorf("expected no Authorization header, got %q", h)
				}
				w.Write([]byte(`{"message":"ok"}`))
			}))
			defer server.Close()

			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: &stubAuthorizer{}})
			if err := c.Do(context.Background(), http.MethodPost, "/api/auth/register", map[string]string{"a": "b"}, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})

		t.Run("explicit bearer overrides the session credential", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if h := r.Header.Get("Authorization"); h != "Bearer fresh" {
					t.Errorf("expected explicit bearer, got %q", h)
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			auth := &stubAuthorizer{}
			auth.set("old", 1)
			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: auth})
			if err := c.Do(context.Background(), http.MethodGet, "/api/auth/me", nil, nil, WithBearer("fresh")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	})

	t.Run("Unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Could not validate credentials"}`))
		}))
		defer server.Close()

		t.Run("session-bound 401 notifies once and re-raises", func(t *testing.T) {
			auth := &stubAuthorizer{}
			auth.set("t1", 7)
			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: auth})

			err := c.Do(context.Background(), http.MethodGet, "/api/devices", nil, nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.Unauthorized() {
				t.Fatalf("expected unauthorized APIError, got %v", err)
			}
			if !errors.Is(err, shared.ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized in chain, got %v", err)
			}
			if apiErr.Message != "Could not validate credentials" {
				t.Errorf("expected server message, got %q", apiErr.Message)
			}

			calls := auth.unauthorizedCalls()
			if len(calls) != 1 || calls[0].Epoch != 7 {
				t.Errorf("expected one Unauthorized call for epoch 7, got %v", calls)
			}
		})

		t.Run("unauthenticated 401 does not notify", func(t *testing.T) {
			auth := &stubAuthorizer{}
			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: auth})

			err := c.Do(context.Background(), http.MethodPost, "/api/auth/login", map[string]string{}, nil)
			if !errors.Is(err, shared.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if n := len(auth.unauthorizedCalls()); n != 0 {
				t.Errorf("expected no Unauthorized calls, got %d", n)
			}
		})

		t.Run("explicit bearer 401 does not notify", func(t *testing.T) {
			auth := &stubAuthorizer{}
			auth.set("t1", 1)
			c := NewClient(ClientOpts{BaseURL: server.URL, Authorizer: auth})

			c.Do(context.Background(), http.MethodGet, "/api/auth/me", nil, nil, WithBearer("fresh"))
			if n := len(auth.unauthorizedCalls()); n != 0 {
				t.Errorf("expected no Unauthorized calls, got %d", n)
			}
		})
	})

	t.Run("Error Normalization", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			body   string
			want   string
		}{
			{name: "detail string", status: 400, body: `{"detail":"Email already registered"}`, want: "Email already registered"},
			{name: "validation list", status: 422, body: `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, want: "value is not a valid email address"},
			{name: "message field", status: 404, body: `{"message":"Device not found"}`, want: "Device not found"},
			{name: "non json", status: 502, body: `<html>bad gateway</html>`, want: GenericErrorMessage},
			{name: "empty", status: 500, body: ``, want: GenericErrorMessage},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(tt.body))
				}))
				defer server.Close()

				c := NewClient(ClientOpts{BaseURL: server.URL})
				err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil)

				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected APIError, got %v", err)
				}
				if apiErr.Status != tt.status || apiErr.Message != tt.want {
					t.Errorf("got status %d message %q, want %d %q", apiErr.Status, apiErr.Message, tt.status, tt.want)
				}
				if !errors.Is(err, shared.ErrAPIRequest) {
					t.Errorf("expected ErrAPIRequest in chain")
				}
			})
		}

		t.Run("transport failure", func(t *testing.T) {
			transport := tu.NewMockRoundTripper(nil, errors.New("connection refused"))
			auth := &stubAuthorizer{}
			auth.set("t1", 1)
			c := NewClient(ClientOpts{
				BaseURL:    "http://example.com",
				HTTPClient: &http.Client{Transport: transport},
				Authorizer: auth,
			})

			err := c.Do(context.Background(), http.MethodGet, "/api/devices", nil, nil)

			reqs := transport.Requests()
			if len(reqs) != 1 {
				t.Fatalf("expected one request, got %d", len(reqs))
			}
			if got := reqs[0].Header.Get("Authorization"); got != "Bearer t1" {
				t.Errorf("expected bearer header, got %q", got)
			}
			if reqs[0].Header.Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
			if len(auth.calls) != 0 {
				t.Errorf("network failure must not end the session, got %d calls", len(auth.calls))
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.Network {
				t.Fatalf("expected network APIError, got %v", err)
			}
			if apiErr.Message != NetworkErrorMessage {
				t.Errorf("expected generic network message, got %q", apiErr.Message)
			}
			if !errors.Is(err, shared.ErrNetwork) {
				t.Errorf("expected ErrNetwork in chain")
			}
		})

		t.Run("body read failure", func(t *testing.T) {
			client := &http.Client{
				Transport: tu.NewMockRoundTripper(&http.Response{
					StatusCode: http.StatusOK,
					Body:       &tu.FCloser{},
					Header:     http.Header{},
				}, nil),
			}
			c := NewClient(ClientOpts{BaseURL: "http://example.com", HTTPClient: client})

			if err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil); !errors.Is(err, shared.ErrNetwork) {
				t.Errorf("expected ErrNetwork, got %v", err)
			}
		})

		t.Run("undecodable success body", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			}))
			defer server.Close()

			c := NewClient(ClientOpts{BaseURL: server.URL})
			var out map[string]any
			if err := c.Do(context.Background(), http.MethodGet, "/x", nil, &out); !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})

		t.Run("cancelled context is returned as is", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			c := NewClient(ClientOpts{BaseURL: server.URL})
			if err := c.Do(ctx, http.MethodGet, "/x", nil, nil); !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		})

		t.Run("invalid request", func(t *testing.T) {
			c := NewClient(ClientOpts{BaseURL: "http://example.com"})
			err := c.Do(context.Background(), http.MethodGet, "/test\x00invalid", nil, nil)
			if err == nil || !strings.Contains(err.Error(), "failed to create request") {
				t.Errorf("expected 'failed to create request' error, got %v", err)
			}
		})
	})
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(&APIError{Status: 400, Message: "Device not found"}, "fallback"); got != "Device not found" {
		t.Errorf("expected server message, got %q", got)
	}
	if got := MessageOf(&APIError{Status: 500, Message: GenericErrorMessage}, "Failed to control pump"); got != "Failed to control pump" {
		t.Errorf("expected fallback for generic message, got %q", got)
	}
	if got := MessageOf(errors.New("boom"), "fallback"); got != "fallback" {
		t.Errorf("expected fallback for plain error, got %q", got)
	}
}
