package httpclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/props"
)

// CollectionInfo summarizes a calendar collection found under a home set.
type CollectionInfo struct {
	Href        string
	DisplayName string
	Color       string
	CTag        string
	SyncToken   string
	Components  []string
	CanWrite    bool
}

var collectionProps = []string{
	"resourcetype", "displayname", "calendar-color", "getctag", "sync-token",
	"supported-calendar-component-set", "current-user-privilege-set",
}

// Propfind requests the named properties. An empty list asks for allprop.
func (c *Client) Propfind(ctx context.Context, href string, depth int, names ...string) (*xml.MultistatusResponse, error) {
	doc, root := newDocument("d", xml.TagPropfind)
	if len(names) == 0 {
		root.CreateElement(xml.TagAllprop).Space = "d"
	} else {
		prop := root.CreateElement(xml.TagProp)
		prop.Space = "d"
		for _, name := range names {
			prop.AddChild(props.Empty(name))
		}
	}
	return c.multistatus(ctx, "PROPFIND", href, depth, doc)
}

// hrefProp reads the single href inside a property such as
// current-user-principal.
func hrefProp(resp xml.Response, name string) string {
	p := resp.Prop(name)
	if p == nil {
		return ""
	}
	if h := xml.Child(p, xml.TagHref); h != nil {
		return strings.TrimSpace(h.Text())
	}
	return ""
}

func textProp(resp xml.Response, name string) string {
	if p := resp.Prop(name); p != nil {
		return strings.TrimSpace(p.Text())
	}
	return ""
}

// Principal discovers the authenticated user's principal URL.
func (c *Client) Principal(ctx context.Context, root string) (string, error) {
	ms, err := c.Propfind(ctx, root, 0, "current-user-principal")
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		if href := hrefProp(resp, "current-user-principal"); href != "" {
			return href, nil
		}
	}
	return "", fmt.Errorf("no current-user-principal at %s", root)
}

// HomeSet discovers the calendar home set of a principal.
func (c *Client) HomeSet(ctx context.Context, principal string) (string, error) {
	ms, err := c.Propfind(ctx, principal, 0, "calendar-home-set")
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		if href := hrefProp(resp, "calendar-home-set"); href != "" {
			return href, nil
		}
	}
	return "", fmt.Errorf("no calendar-home-set at %s", principal)
}

// Collections lists the calendar collections directly under a home set.
func (c *Client) Collections(ctx context.Context, homeSet string) ([]CollectionInfo, error) {
	ms, err := c.Propfind(ctx, homeSet, 1, collectionProps...)
	if err != nil {
		return nil, err
	}
	var out []CollectionInfo
	for _, resp := range ms.Responses {
		rt := resp.Prop(xml.TagResourcetype)
		if rt == nil || xml.Child(rt, xml.TagCalendar) == nil {
			continue
		}
		info := CollectionInfo{
			Href:        resp.Href,
			DisplayName: textProp(resp, "displayname"),
			Color:       textProp(resp, "calendar-color"),
			CTag:        textProp(resp, "getctag"),
			SyncToken:   textProp(resp, "sync-token"),
		}
		if set := resp.Prop("supported-calendar-component-set"); set != nil {
			for _, comp := range xml.Children(set, "comp") {
				info.Components = append(info.Components, comp.SelectAttrValue("name", ""))
			}
		}
		if set := resp.Prop("current-user-privilege-set"); set != nil {
			for _, priv := range xml.Children(set, "privilege") {
				if xml.Child(priv, "write") != nil || xml.Child(priv, "all") != nil {
					info.CanWrite = true
				}
			}
		}
		out = append(out, info)
	}
	c.logger.Debug("collections discovered", "home_set", homeSet, "count", len(out))
	return out, nil
}
