package xml

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// MultistatusResponse represents a multistatus response
type MultistatusResponse struct {
	Responses []Response
	// SyncToken is written after the responses when set (sync-collection).
	SyncToken string
}

// Response represents a single response within a multistatus. A response
// carries either PropStats or a bare Status.
type Response struct {
	Href      string
	PropStats []PropStat
	Status    int
	Error     *Error
}

// PropStat groups properties sharing one status.
type PropStat struct {
	Props  []*etree.Element
	Status int
}

// StatusLine renders an HTTP status the way multistatus bodies carry it.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// ParseStatusLine extracts the code from "HTTP/1.1 404 Not Found".
func ParseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("invalid status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("invalid status line %q: %w", line, err)
	}
	return code, nil
}

// Parse parses a multistatus response from an XML document
func (m *MultistatusResponse) Parse(doc *etree.Document) error {
	if doc == nil || doc.Root() == nil {
		return fmt.Errorf("empty document")
	}
	root := doc.Root()
	if LocalName(root) != TagMultistatus {
		return fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	m.Responses = nil
	m.SyncToken = ""
	if tok := Child(root, TagSyncToken); tok != nil {
		m.SyncToken = strings.TrimSpace(tok.Text())
	}

	for _, respElem := range Children(root, TagResponse) {
		resp := Response{}
		if hrefElem := Child(respElem, TagHref); hrefElem != nil {
			resp.Href = strings.TrimSpace(hrefElem.Text())
		}
		if statusElem := Child(respElem, TagStatus); statusElem != nil {
			code, err := ParseStatusLine(statusElem.Text())
			if err != nil {
				return err
			}
			resp.Status = code
		}
		if errorElem := Child(respElem, TagError); errorElem != nil {
			if child := errorElem.ChildElements(); len(child) > 0 {
				resp.Error = &Error{
					Tag:       LocalName(child[0]),
					Namespace: NamespaceOf(child[0]),
					Message:   child[0].Text(),
				}
			}
		}
		for _, propstatElem := range Children(respElem, TagPropstat) {
			propstat := PropStat{}
			if propElem := Child(propstatElem, TagProp); propElem != nil {
				for _, prop := range propElem.ChildElements() {
					propstat.Props = append(propstat.Props, prop.Copy())
				}
			}
			if statusElem := Child(propstatElem, TagStatus); statusElem != nil {
				code, err := ParseStatusLine(statusElem.Text())
				if err != nil {
					return err
				}
				propstat.Status = code
			}
			resp.PropStats = append(resp.PropStats, propstat)
		}
		m.Responses = append(m.Responses, resp)
	}
	return nil
}

// Prop returns the first property with the given local name reported with
// status 200, or nil.
func (r Response) Prop(localName string) *etree.Element {
	for _, ps := range r.PropStats {
		if ps.Status != http.StatusOK {
			continue
		}
		for _, p := range ps.Props {
			if LocalName(p) == localName {
				return p
			}
		}
	}
	return nil
}

// ToXML converts a MultistatusResponse to an XML document
func (m *MultistatusResponse) ToXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement(TagMultistatus)
	root.Space = "d"
	AddNamespaces(doc)

	for _, resp := range m.Responses {
		response := root.CreateElement(TagResponse)
		response.Space = "d"
		href := response.CreateElement(TagHref)
		href.Space = "d"
		href.SetText(resp.Href)

		for _, propstat := range resp.PropStats {
			ps := response.CreateElement(TagPropstat)
			ps.Space = "d"
			prop := ps.CreateElement(TagProp)
			prop.Space = "d"
			for _, p := range propstat.Props {
				prop.AddChild(p)
			}
			status := ps.CreateElement(TagStatus)
			status.Space = "d"
			status.SetText(StatusLine(propstat.Status))
		}
		if len(resp.PropStats) == 0 && resp.Status != 0 {
			status := response.CreateElement(TagStatus)
			status.Space = "d"
			status.SetText(StatusLine(resp.Status))
		}
		if resp.Error != nil {
			response.AddChild(resp.Error.ToElement())
		}
	}
	if m.SyncToken != "" {
		tok := root.CreateElement(TagSyncToken)
		tok.Space = "d"
		tok.SetText(m.SyncToken)
	}
	return doc
}
