package calendarquery

import (
	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	"github.com/cyp0633/caldora/server/storage"
)

// ParseRequest parses a calendar-query REPORT body into the requested
// properties and the filter. A missing filter matches every member.
func ParseRequest(doc *etree.Document) (propfind.Request, *storage.Filter, error) {
	root := doc.Root()
	if root == nil || xml.LocalName(root) != "calendar-query" {
		return propfind.Request{}, nil, propfind.ErrBadRequest
	}
	req := propfind.ParseProp(root)

	filter, err := ParseFilterElement(xml.Child(root, "filter"))
	if err != nil {
		return propfind.Request{}, nil, err
	}
	return req, filter, nil
}
