package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (getctag)
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal carries calendar-color
	AppleICal = "http://apple.com/ns/ical/"
)

// Prefixes maps the prefixes used on outgoing documents to their namespaces.
var Prefixes = map[string]string{
	"d":    DAV,
	"cal":  CalDAV,
	"cs":   CalendarServer,
	"ical": AppleICal,
}

// AddNamespaces declares the standard prefixes on the document root.
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	for _, prefix := range []string{"d", "cal", "cs", "ical"} {
		root.CreateAttr("xmlns:"+prefix, Prefixes[prefix])
	}
}

// NamespaceOf returns the namespace an element lives in, falling back to the
// prefix table for fragments that were detached from their declarations.
func NamespaceOf(elem *etree.Element) string {
	if ns := elem.NamespaceURI(); ns != "" {
		return ns
	}
	return Prefixes[elem.Space]
}
