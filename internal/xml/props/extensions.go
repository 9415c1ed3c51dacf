package props

import (
	"strings"

	"github.com/beevik/etree"
)

// Apple CalendarServer Extensions

type GetCTag struct {
	Value string
}

func (p GetCTag) Encode() *etree.Element {
	elem := createElement("getctag")
	elem.SetText(p.Value)
	return elem
}

type CalendarColor struct {
	Value string
}

func (p CalendarColor) Encode() *etree.Element {
	elem := createElement("calendar-color")
	elem.SetText(p.Value)
	return elem
}

func (p *CalendarColor) Decode(elem *etree.Element) error {
	p.Value = strings.TrimSpace(elem.Text())
	return nil
}
