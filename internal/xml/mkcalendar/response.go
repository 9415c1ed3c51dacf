package mkcalendar

import (
	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	"github.com/cyp0633/caldora/internal/xml/props"
)

// ParseRequest parses a MKCALENDAR (or extended MKCOL) body and returns the
// settable properties it carries, keyed by local name. Unknown properties
// are skipped. A nil document, as sent for an empty body, sets nothing.
func ParseRequest(doc *etree.Document) (map[string]props.Property, error) {
	result := make(map[string]props.Property)
	if doc == nil {
		return result, nil
	}

	root := doc.Root()
	if root == nil {
		return result, propfind.ErrBadRequest
	}
	switch xml.LocalName(root) {
	case "mkcalendar", "mkcol":
	default:
		return result, propfind.ErrBadRequest
	}

	for _, set := range xml.Children(root, "set") {
		prop := xml.Child(set, xml.TagProp)
		if prop == nil {
			continue
		}
		for _, e := range prop.ChildElements() {
			name := xml.LocalName(e)
			dec, ok := props.NewDecoder(name)
			if !ok {
				continue
			}
			if err := dec.Decode(e); err != nil {
				return result, err
			}
			result[name] = dec
		}
	}

	return result, nil
}
