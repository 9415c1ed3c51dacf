package props

import "github.com/beevik/etree"

// Property is a WebDAV property value that can be rendered into a prop
// element.
type Property interface {
	Encode() *etree.Element
}

// Decoder is implemented by properties that clients may set, e.g. in the
// body of MKCALENDAR.
type Decoder interface {
	Property
	Decode(element *etree.Element) error
}

// Namespace map for declaration (if needed by etree)
var NamespaceMap = map[string]string{
	"d":    "DAV:",
	"cal":  "urn:ietf:params:xml:ns:caldav",
	"cs":   "http://calendarserver.org/ns/",
	"ical": "http://apple.com/ns/ical/",
}

// Prefix map for each property and child element
var PropPrefixMap = map[string]string{
	// WebDAV properties (d: prefix)
	"displayname":                "d",
	"resourcetype":               "d",
	"getetag":                    "d",
	"getlastmodified":            "d",
	"getcontenttype":             "d",
	"owner":                      "d",
	"current-user-principal":     "d",
	"principal-url":              "d",
	"supported-report-set":       "d",
	"acl":                        "d",
	"current-user-privilege-set": "d",
	"sync-token":                 "d",
	// Additional child elements for WebDAV
	"collection":       "d",
	"principal":        "d",
	"href":             "d",
	"grant":            "d",
	"privilege":        "d",
	"supported-report": "d",
	"report":           "d",
	"ace":              "d",
	"read":             "d",
	"write":            "d",
	"all":              "d",
	"sync-collection":  "d",

	// CalDAV properties (cal: prefix)
	"calendar-description":             "cal",
	"calendar-timezone":                "cal",
	"calendar-data":                    "cal",
	"supported-calendar-component-set": "cal",
	"supported-calendar-data":          "cal",
	"max-resource-size":                "cal",
	"calendar-home-set":                "cal",
	"calendar-user-address-set":        "cal",
	"calendar-user-type":               "cal",
	"schedule-tag":                     "cal",
	"calendar":                         "cal",
	"comp":                             "cal",
	"calendar-data-type":               "cal",
	"calendar-query":                   "cal",
	"calendar-multiget":                "cal",

	// Apple extensions
	"getctag":        "cs",
	"calendar-color": "ical",
}

// decoders lists the properties a client may set.
var decoders = map[string]func() Decoder{
	"displayname":                      func() Decoder { return new(DisplayName) },
	"calendar-description":             func() Decoder { return new(CalendarDescription) },
	"calendar-timezone":                func() Decoder { return new(CalendarTimezone) },
	"supported-calendar-component-set": func() Decoder { return new(SupportedCalendarComponentSet) },
	"calendar-color":                   func() Decoder { return new(CalendarColor) },
}

// NewDecoder returns an empty settable property for the given local name.
func NewDecoder(name string) (Decoder, bool) {
	f, ok := decoders[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Known reports whether name is a property this package can render.
func Known(name string) bool {
	_, ok := PropPrefixMap[name]
	return ok
}

// Empty returns a value-less element for name, as used in propname answers
// and PROPFIND request bodies.
func Empty(name string) *etree.Element {
	return createElement(name)
}

// createElement creates an element with the namespace prefix taken from the propPrefixMap.
// If the name is not found in the map, it defaults to "d".
func createElement(name string) *etree.Element {
	prefix, exists := PropPrefixMap[name]
	if !exists {
		prefix = "d" // Default to DAV namespace
	}
	elem := etree.NewElement(name)
	elem.Space = prefix
	return elem
}

func hrefElement(parent *etree.Element, href string) {
	hrefElem := createElement("href")
	hrefElem.SetText(href)
	parent.AddChild(hrefElem)
}
