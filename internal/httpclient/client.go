// Package httpclient is a small CalDAV client used by the probe command and
// by tests that drive a server over the wire.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
)

const maxResponseSize = 16 << 20

// StatusError reports an unexpected HTTP status. Condition holds the
// precondition element of a DAV:error body, if any.
type StatusError struct {
	Method    string
	URL       string
	Code      int
	Condition string
}

func (e *StatusError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("%s %s: status %d (%s)", e.Method, e.URL, e.Code, e.Condition)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client issues CalDAV requests relative to a base URL.
type Client struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// New creates a client. Authentication is left to the http.Client's
// transport, see BasicAuthTransport.
func New(client *http.Client, baseURL url.URL, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{client: client, baseURL: baseURL, logger: logger}, nil
}

// resolveURL resolves a URL string against the base URL
func (c *Client) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

func (c *Client) newRequest(ctx context.Context, method, href string, body io.Reader) (*http.Request, error) {
	resolved, err := c.resolveURL(href)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	return req, nil
}

// do sends req and turns any status outside want into a StatusError.
func (c *Client) do(req *http.Request, want ...int) (*http.Response, error) {
	c.logger.Debug("sending request", "method", req.Method, "url", req.URL.String())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	c.logger.Debug("received response", "method", req.Method, "status", resp.Status)
	for _, code := range want {
		if resp.StatusCode == code {
			return resp, nil
		}
	}
	defer resp.Body.Close()
	se := &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode}
	if doc, err := xml.ReadDocument(resp.Body, maxResponseSize); err == nil && xml.LocalName(doc.Root()) == xml.TagError {
		if cond := doc.Root().ChildElements(); len(cond) > 0 {
			se.Condition = xml.LocalName(cond[0])
		}
	}
	return nil, se
}

// multistatus sends a DAV request whose answer is a 207 body.
func (c *Client) multistatus(ctx context.Context, method, href string, depth int, doc *etree.Document) (*xml.MultistatusResponse, error) {
	body, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", method, err)
	}
	req, err := c.newRequest(ctx, method, href, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", strconv.Itoa(depth))

	resp, err := c.do(req, http.StatusMultiStatus)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respDoc, err := xml.ReadDocument(resp.Body, maxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	ms := &xml.MultistatusResponse{}
	if err := ms.Parse(respDoc); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	c.logger.Debug("multistatus received", "method", method, "responses", len(ms.Responses))
	return ms, nil
}

// newDocument starts a request body rooted at a prefixed element.
func newDocument(space, tag string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement(tag)
	root.Space = space
	xml.AddNamespaces(doc)
	return doc, root
}
