package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cyp0633/caldora/internal/xml/props"
)

// Conditions are the optional preconditions of a write. IfNoneMatch "*"
// makes a PUT create-only.
type Conditions struct {
	IfMatch     string
	IfNoneMatch string
}

func (c Conditions) apply(req *http.Request) {
	if c.IfMatch != "" {
		req.Header.Set("If-Match", c.IfMatch)
	}
	if c.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", c.IfNoneMatch)
	}
}

// Get fetches a calendar object and its entity tag.
func (c *Client) Get(ctx context.Context, href string) (data []byte, etag string, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", href, err)
	}
	return data, resp.Header.Get("ETag"), nil
}

// Put stores a calendar object and returns its new entity tag.
func (c *Client) Put(ctx context.Context, href string, data []byte, cond Conditions) (string, error) {
	c.logger.Debug("starting PUT request",
		"url", href,
		"if_match", cond.IfMatch,
		"data_length", len(data))

	req, err := c.newRequest(ctx, http.MethodPut, href, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	cond.apply(req)

	resp, err := c.do(req, http.StatusCreated, http.StatusNoContent, http.StatusOK)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get("ETag"), nil
}

// Delete removes a calendar object, or a collection when href names one.
// etag, if set, is sent as If-Match.
func (c *Client) Delete(ctx context.Context, href, etag string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, href, nil)
	if err != nil {
		return err
	}
	Conditions{IfMatch: etag}.apply(req)
	resp, err := c.do(req, http.StatusNoContent, http.StatusOK)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// MkCalendar creates a calendar collection with a display name and the
// component kinds it accepts.
func (c *Client) MkCalendar(ctx context.Context, href, displayName string, components ...string) error {
	doc, root := newDocument("cal", "mkcalendar")
	set := root.CreateElement("set")
	set.Space = "d"
	prop := set.CreateElement("prop")
	prop.Space = "d"
	if displayName != "" {
		prop.AddChild(props.DisplayName{Value: displayName}.Encode())
	}
	if len(components) > 0 {
		prop.AddChild(props.SupportedCalendarComponentSet{Components: components}.Encode())
	}
	body, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to encode MKCALENDAR body: %w", err)
	}

	req, err := c.newRequest(ctx, "MKCALENDAR", href, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	resp, err := c.do(req, http.StatusCreated)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
