package httpclient

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/props"
)

// Member is one entry of a REPORT answer. Deleted is set for members a
// sync-collection reports as gone, or multiget hrefs the server could not
// resolve.
type Member struct {
	Href         string
	ETag         string
	CalendarData string
	Status       int
}

// Deleted reports whether the member is gone.
func (m Member) Deleted() bool {
	return m.Status == http.StatusNotFound
}

// Truncation reports whether the entry is the server's marker for a
// sync-collection answer cut at the limit. More changes follow the
// returned token.
func (m Member) Truncation() bool {
	return m.Status == http.StatusInsufficientStorage
}

func members(ms *xml.MultistatusResponse) []Member {
	out := make([]Member, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		m := Member{Href: resp.Href, Status: resp.Status}
		if len(resp.PropStats) > 0 {
			m.Status = http.StatusOK
			m.ETag = textProp(resp, "getetag")
			if data := resp.Prop("calendar-data"); data != nil {
				m.CalendarData = data.Text()
			}
		}
		out = append(out, m)
	}
	return out
}

func addProp(parent *etree.Element, withData bool) {
	prop := parent.CreateElement(xml.TagProp)
	prop.Space = "d"
	prop.AddChild(props.Empty("getetag"))
	if withData {
		prop.AddChild(props.Empty("calendar-data"))
	}
}

// SyncCollection fetches the changes since token; an empty token asks for
// the full membership. limit > 0 is sent as DAV:limit.
func (c *Client) SyncCollection(ctx context.Context, collection, token string, withData bool, limit int) ([]Member, string, error) {
	doc, root := newDocument("d", "sync-collection")
	tok := root.CreateElement(xml.TagSyncToken)
	tok.Space = "d"
	tok.SetText(token)
	level := root.CreateElement("sync-level")
	level.Space = "d"
	level.SetText("1")
	if limit > 0 {
		l := root.CreateElement("limit")
		l.Space = "d"
		n := l.CreateElement("nresults")
		n.Space = "d"
		n.SetText(strconv.Itoa(limit))
	}
	addProp(root, withData)

	ms, err := c.multistatus(ctx, "REPORT", collection, 0, doc)
	if err != nil {
		return nil, "", err
	}
	return members(ms), ms.SyncToken, nil
}

// Multiget fetches the named members. hrefs may also be bare UIDs.
func (c *Client) Multiget(ctx context.Context, collection string, hrefs []string) ([]Member, error) {
	doc, root := newDocument("cal", "calendar-multiget")
	addProp(root, true)
	for _, href := range hrefs {
		h := root.CreateElement(xml.TagHref)
		h.Space = "d"
		h.SetText(href)
	}
	ms, err := c.multistatus(ctx, "REPORT", collection, 1, doc)
	if err != nil {
		return nil, err
	}
	return members(ms), nil
}

// QueryRange finds members of the given component kind overlapping
// [start, end), both in iCalendar UTC form such as 20240301T000000Z. Either
// bound may be empty.
func (c *Client) QueryRange(ctx context.Context, collection, component, start, end string, withData bool) ([]Member, error) {
	doc, root := newDocument("cal", "calendar-query")
	addProp(root, withData)
	filter := root.CreateElement("filter")
	filter.Space = "cal"
	cal := filter.CreateElement("comp-filter")
	cal.Space = "cal"
	cal.CreateAttr("name", "VCALENDAR")
	comp := cal.CreateElement("comp-filter")
	comp.Space = "cal"
	comp.CreateAttr("name", strings.ToUpper(component))
	if start != "" || end != "" {
		tr := comp.CreateElement("time-range")
		tr.Space = "cal"
		if start != "" {
			tr.CreateAttr("start", start)
		}
		if end != "" {
			tr.CreateAttr("end", end)
		}
	}
	ms, err := c.multistatus(ctx, "REPORT", collection, 1, doc)
	if err != nil {
		return nil, err
	}
	return members(ms), nil
}
