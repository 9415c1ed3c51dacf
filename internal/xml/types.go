package xml

import (
	"strings"

	"github.com/beevik/etree"
)

const (
	TagPropfind     = "propfind"
	TagProp         = "prop"
	TagPropname     = "propname"
	TagAllprop      = "allprop"
	TagInclude      = "include"
	TagMultistatus  = "multistatus"
	TagResponse     = "response"
	TagHref         = "href"
	TagPropstat     = "propstat"
	TagStatus       = "status"
	TagError        = "error"
	TagSyncToken    = "sync-token"
	TagResourcetype = "resourcetype"
	TagCollection   = "collection"
	TagCalendar     = "calendar"
)

// Error is a precondition or postcondition element reported inside
// <d:error>, e.g. DAV:valid-sync-token.
type Error struct {
	Namespace string
	Tag       string
	Message   string
}

// ToElement converts an Error to an etree.Element
func (e *Error) ToElement() *etree.Element {
	elem := etree.NewElement(TagError)
	elem.Space = "d"
	cond := elem.CreateElement(e.Tag)
	cond.Space = prefixFor(e.Namespace)
	if e.Message != "" {
		cond.SetText(e.Message)
	}
	return elem
}

// ToDocument wraps the error element into a standalone body.
func (e *Error) ToDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	doc.AddChild(e.ToElement())
	AddNamespaces(doc)
	return doc
}

func prefixFor(namespace string) string {
	for prefix, ns := range Prefixes {
		if ns == namespace {
			return prefix
		}
	}
	return "d"
}

// LocalName returns the element name without prefix, lower-cased.
func LocalName(elem *etree.Element) string {
	tag := elem.Tag
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		tag = tag[i+1:]
	}
	return strings.ToLower(tag)
}

// Children returns the direct children with the given local name, ignoring
// namespace prefixes.
func Children(parent *etree.Element, localName string) []*etree.Element {
	var out []*etree.Element
	for _, child := range parent.ChildElements() {
		if LocalName(child) == strings.ToLower(localName) {
			out = append(out, child)
		}
	}
	return out
}

// Child returns the first direct child with the given local name.
func Child(parent *etree.Element, localName string) *etree.Element {
	if found := Children(parent, localName); len(found) > 0 {
		return found[0]
	}
	return nil
}
