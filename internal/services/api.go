package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/irrigo/internal/shared"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is used when no backend URL is configured.
	DefaultBaseURL = "http://localhost:8000"

	// NetworkErrorMessage is the generic message for transport failures.
	NetworkErrorMessage = "Network error. Please check your connection."

	// GenericErrorMessage is used when a failed response carries no message.
	GenericErrorMessage = "An error occurred"
)

// Credential is the bearer token attached to a request along with the session epoch it belongs to.
type Credential struct {
	Token string
	Epoch uint64
}

// Authorizer supplies the current credential and receives authorization failures.
//
// Credential is called for every request so a token change is picked up without rebuilding the client.
// Unauthorized is called once per 401 response to a request that carried the returned credential.
type Authorizer interface {
	Credential() (Credential, bool)
	Unauthorized(Credential)
}

// APIError is the normalized error returned for every failed backend call.
type APIError struct {
	Status  int    // HTTP status, 0 for transport failures
	Message string // server-provided detail or a generic message
	Method  string
	Path    string
	Network bool
	err     error
}

func (e *APIError) Error() string {
	if e.Network {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// Unauthorized reports whether the backend rejected the credential.
func (e *APIError) Unauthorized() bool { return e.Status == http.StatusUnauthorized }

// MessageOf returns the user-facing message carried by err, or fallback.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Message != GenericErrorMessage {
		return apiErr.Message
	}
	return fallback
}

// Client sends JSON requests to the irrigation backend through the credential pipeline.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger

	mu   sync.RWMutex
	auth Authorizer
}

// ClientOpts configures a [Client].
type ClientOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	Authorizer Authorizer
	Logger     *log.Logger
}

// NewClient creates a new backend client.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		auth:       opts.Authorizer,
	}
}

// SetAuthorizer installs the credential source. The session controller is built after the client, so it is attached late.
func (c *Client) SetAuthorizer(a Authorizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
}

func (c *Client) authorizer() Authorizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.baseURL }

type requestOpts struct {
	bearer string
	query  url.Values
}

// RequestOption customizes a single request.
type RequestOption func(*requestOpts)

// WithBearer sends token instead of the session credential.
//
// Such requests are not bound to the session, so a 401 does not end it.
func WithBearer(token string) RequestOption {
	return func(o *requestOpts) { o.bearer = token }
}

// WithQuery appends query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOpts) { o.query = q }
}

// Do sends a request with an optional JSON body and decodes a 2xx JSON response into out.
//
// Every failure other than context cancellation is returned as an [*APIError].
func (c *Client) Do(ctx context.Context, method, path string, body, out any, options ...RequestOption) error {
	var o requestOpts
	for _, opt := range options {
		opt(&o)
	}

	fullURL := c.baseURL + path
	if len(o.query) > 0 {
		fullURL += "?" + o.query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to encode request body: %v", shared.ErrInvalidInput, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrInvalidInput, err)
	}

	requestID := shared.GenerateID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cred, bound := c.attachCredential(req, o.bearer)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return c.networkError(method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.networkError(method, path, err)
	}

	c.logger.Debug("request",
		"method", method, "path", path, "status", resp.StatusCode,
		"request_id", requestID, "elapsed", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode == http.StatusUnauthorized {
		if bound {
			if auth := c.authorizer(); auth != nil {
				auth.Unauthorized(cred)
			}
		}
		return &APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(payload),
			Method:  method,
			Path:    path,
			err:     shared.ErrUnauthorized,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(payload),
			Method:  method,
			Path:    path,
			err:     shared.ErrAPIRequest,
		}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &APIError{
			Status:  resp.StatusCode,
			Message: GenericErrorMessage,
			Method:  method,
			Path:    path,
			err:     fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err),
		}
	}
	return nil
}

// attachCredential sets the Authorization header and reports whether the request is bound to the session.
func (c *Client) attachCredential(req *http.Request, bearer string) (Credential, bool) {
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}).SetAuthHeader(req)
		return Credential{}, false
	}

	auth := c.authorizer()
	if auth == nil {
		return Credential{}, false
	}
	cred, ok := auth.Credential()
	if !ok || cred.Token == "" {
		return Credential{}, false
	}
	(&oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}).SetAuthHeader(req)
	return cred, true
}

func (c *Client) networkError(method, path string, err error) *APIError {
	return &APIError{
		Message: NetworkErrorMessage,
		Method:  method,
		Path:    path,
		Network: true,
		err:     fmt.Errorf("%w: %v", shared.ErrNetwork, err),
	}
}

// errorMessage extracts a message from FastAPI-style error bodies:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, or {"message": "..."}.
func errorMessage(payload []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return GenericErrorMessage
	}

	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
			return items[0].Msg
		}
	}
	if body.Message != "" {
		return body.Message
	}
	return GenericErrorMessage
}
