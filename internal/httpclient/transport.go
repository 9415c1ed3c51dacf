package httpclient

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxLoggedBody caps how much of a body the debug log carries.
const maxLoggedBody = 2048

// BasicAuthTransport implements http.RoundTripper and adds Basic Auth
// credentials to outgoing requests. Bodies are logged at debug level,
// truncated.
type BasicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewBasicAuthTransport creates a new BasicAuthTransport with the given
// credentials and optional underlying transport. If transport is nil,
// http.DefaultTransport will be used.
func NewBasicAuthTransport(username, password string, transport http.RoundTripper, logger *slog.Logger) *BasicAuthTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BasicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: transport,
		Logger:    logger,
	}
}

// peek reads body fully, returns a replacement reader and the logged prefix.
func peek(body io.ReadCloser) (io.ReadCloser, string) {
	if body == nil || body == http.NoBody {
		return body, ""
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return io.NopCloser(bytes.NewReader(data)), ""
	}
	logged := data
	if len(logged) > maxLoggedBody {
		logged = logged[:maxLoggedBody]
	}
	return io.NopCloser(bytes.NewReader(data)), string(logged)
}

// RoundTrip implements the http.RoundTripper interface.
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Username == "" {
		return nil, errors.New("basic auth username cannot be empty")
	}
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if t.Logger.Enabled(req.Context(), slog.LevelDebug) {
		var body string
		req.Body, body = peek(req.Body)
		t.Logger.Debug("outgoing request",
			"method", req.Method,
			"url", req.URL.String(),
			"depth", req.Header.Get("Depth"),
			"body", body)
	}
	req.SetBasicAuth(t.Username, t.Password)

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.Logger.Enabled(req.Context(), slog.LevelDebug) {
		var body string
		resp.Body, body = peek(resp.Body)
		t.Logger.Debug("incoming response",
			"status", resp.Status,
			"etag", resp.Header.Get("ETag"),
			"body", body)
	}
	return resp, nil
}
