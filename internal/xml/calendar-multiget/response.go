package calendarmultiget

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
)

// ParseRequest parses a calendar-multiget REPORT body. It returns the
// requested properties and the hrefs in document order.
func ParseRequest(doc *etree.Document) (propfind.Request, []string, error) {
	root := doc.Root()
	if root == nil || xml.LocalName(root) != "calendar-multiget" {
		return propfind.Request{}, nil, propfind.ErrBadRequest
	}
	req := propfind.ParseProp(root)

	hrefs := []string{}
	for _, elem := range xml.Children(root, xml.TagHref) {
		hrefs = append(hrefs, strings.TrimSpace(elem.Text()))
	}
	return req, hrefs, nil
}
