package props

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

type CalendarDescription struct {
	Value string
}

func (p CalendarDescription) Encode() *etree.Element {
	elem := createElement("calendar-description")
	elem.SetText(p.Value)
	return elem
}

func (p *CalendarDescription) Decode(elem *etree.Element) error {
	p.Value = elem.Text()
	return nil
}

// CalendarTimezone carries a VCALENDAR with a single VTIMEZONE, or a bare
// TZID as some clients send.
type CalendarTimezone struct {
	Value string
}

func (p CalendarTimezone) Encode() *etree.Element {
	elem := createElement("calendar-timezone")
	elem.SetText(p.Value)
	return elem
}

func (p *CalendarTimezone) Decode(elem *etree.Element) error {
	p.Value = strings.TrimSpace(elem.Text())
	return nil
}

type CalendarData struct {
	// ICal is the rendered iCalendar body; etree escapes it on output.
	ICal string
}

func (p CalendarData) Encode() *etree.Element {
	elem := createElement("calendar-data")
	elem.SetText(p.ICal)
	return elem
}

type SupportedCalendarComponentSet struct {
	Components []string
}

func (p SupportedCalendarComponentSet) Encode() *etree.Element {
	elem := createElement("supported-calendar-component-set")

	for _, component := range p.Components {
		compElem := createElement("comp")
		compElem.CreateAttr("name", component)
		elem.AddChild(compElem)
	}

	return elem
}

func (p *SupportedCalendarComponentSet) Decode(elem *etree.Element) error {
	p.Components = nil
	for _, child := range elem.ChildElements() {
		if child.Tag != "comp" {
			continue
		}
		if name := child.SelectAttrValue("name", ""); name != "" {
			p.Components = append(p.Components, strings.ToUpper(name))
		}
	}
	return nil
}

type SupportedCalendarData struct {
	ContentType string
	Version     string
}

func (p SupportedCalendarData) Encode() *etree.Element {
	elem := createElement("supported-calendar-data")
	dataType := createElement("calendar-data-type")
	dataType.CreateAttr("content-type", p.ContentType)
	if p.Version != "" {
		dataType.CreateAttr("version", p.Version)
	}
	elem.AddChild(dataType)
	return elem
}

type MaxResourceSize struct {
	Value int64
}

func (p MaxResourceSize) Encode() *etree.Element {
	elem := createElement("max-resource-size")
	elem.SetText(strconv.FormatInt(p.Value, 10))
	return elem
}

type CalendarHomeSet struct {
	Href string
}

func (p CalendarHomeSet) Encode() *etree.Element {
	elem := createElement("calendar-home-set")
	hrefElement(elem, p.Href)
	return elem
}

type CalendarUserAddressSet struct {
	Addresses []string
}

func (p CalendarUserAddressSet) Encode() *etree.Element {
	elem := createElement("calendar-user-address-set")
	for _, address := range p.Addresses {
		hrefElement(elem, address)
	}
	return elem
}

type CalendarUserType struct {
	Value string
}

func (p CalendarUserType) Encode() *etree.Element {
	elem := createElement("calendar-user-type")
	elem.SetText(p.Value)
	return elem
}

// ScheduleTag changes only when the scheduling view of an object changes.
type ScheduleTag struct {
	Value string
}

func (p ScheduleTag) Encode() *etree.Element {
	elem := createElement("schedule-tag")
	elem.SetText(p.Value)
	return elem
}
