package propfind

import (
	"net/http"
	"sort"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/props"
)

// Request is a parsed PROPFIND body, or the prop part of a REPORT body.
type Request struct {
	Type RequestType
	// Names lists the requested properties in document order. Empty for
	// allprop and propname.
	Names []string
	// Include lists extra properties named in <d:include> of an allprop.
	Include []string
}

// Wants reports whether the request names the property explicitly.
func (r Request) Wants(name string) bool {
	for _, n := range r.Names {
		if n == name {
			return true
		}
	}
	return false
}

// ParseRequest parses a PROPFIND body. A nil document, as sent for an empty
// body, means allprop.
func ParseRequest(doc *etree.Document) (Request, error) {
	if doc == nil {
		return Request{Type: RequestTypeAllProp}, nil
	}
	root := doc.Root()
	if root == nil || xml.LocalName(root) != xml.TagPropfind {
		return Request{}, ErrBadRequest
	}
	switch {
	case xml.Child(root, xml.TagPropname) != nil:
		return Request{Type: RequestTypePropName}, nil
	case xml.Child(root, xml.TagAllprop) != nil:
		req := Request{Type: RequestTypeAllProp}
		if include := xml.Child(root, xml.TagInclude); include != nil {
			req.Include = names(include)
		}
		return req, nil
	}
	prop := xml.Child(root, xml.TagProp)
	if prop == nil {
		return Request{}, ErrBadRequest
	}
	return Request{Type: RequestTypeProp, Names: names(prop)}, nil
}

// ParseProp reads the <d:prop> child of a REPORT body. A report without
// one asks for nothing but hrefs.
func ParseProp(parent *etree.Element) Request {
	if xml.Child(parent, xml.TagAllprop) != nil {
		return Request{Type: RequestTypeAllProp}
	}
	prop := xml.Child(parent, xml.TagProp)
	if prop == nil {
		return Request{Type: RequestTypeProp}
	}
	return Request{Type: RequestTypeProp, Names: names(prop)}
}

func names(parent *etree.Element) []string {
	var out []string
	seen := map[string]bool{}
	for _, elem := range parent.ChildElements() {
		name := xml.LocalName(elem)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ToPropStats groups resolved properties by status. With nameOnly the
// values are dropped, as a propname answer requires.
func ToPropStats(m ResponseMap, nameOnly bool) []xml.PropStat {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	byStatus := map[int][]*etree.Element{}
	for _, key := range keys {
		res := m[key]
		prop, err := res.Get()
		status := StatusOf(err)
		var elem *etree.Element
		if status != http.StatusOK || nameOnly || prop == nil {
			elem = props.Empty(key)
		} else {
			elem = prop.Encode()
		}
		byStatus[status] = append(byStatus[status], elem)
	}

	statuses := make([]int, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)
	out := make([]xml.PropStat, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, xml.PropStat{Props: byStatus[s], Status: s})
	}
	return out
}
