// Package calendar holds the calendar object model and its iCalendar codec.
package calendar

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// ComponentKind is the iCalendar component a calendar object is stored as.
type ComponentKind string

const (
	KindEvent ComponentKind = "VEVENT"
	KindTodo  ComponentKind = "VTODO"
)

// Visibility is the free/busy class of an event.
//
// On the wire it maps to TRANSP: VisibilityFree is TRANSPARENT, the three
// busy-like classes are all OPAQUE. Decoding OPAQUE always yields
// VisibilityBusy, so tentative and out-of-office do not survive a round trip
// through iCalendar.
type Visibility int

const (
	VisibilityBusy Visibility = iota
	VisibilityFree
	VisibilityTentative
	VisibilityOutOfOffice
)

func (v Visibility) String() string {
	switch v {
	case VisibilityFree:
		return "free"
	case VisibilityTentative:
		return "tentative"
	case VisibilityOutOfOffice:
		return "out-of-office"
	default:
		return "busy"
	}
}

// PartStat is a participant's confirmation status.
type PartStat string

const (
	PartStatNeedsAction PartStat = "NEEDS-ACTION"
	PartStatAccepted    PartStat = "ACCEPTED"
	PartStatDeclined    PartStat = "DECLINED"
	PartStatTentative   PartStat = "TENTATIVE"
)

// Frequency of a recurrence rule.
type Frequency string

const (
	FreqSecondly Frequency = "SECONDLY"
	FreqMinutely Frequency = "MINUTELY"
	FreqHourly   Frequency = "HOURLY"
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqYearly   Frequency = "YEARLY"
)

// Rule is a parsed RRULE.
type Rule struct {
	Freq       Frequency
	Interval   int // 0 means the RFC default of 1
	Count      int
	Until      time.Time
	UntilDate  bool // UNTIL was a DATE value
	ByDay      []string
	ByMonth    []int
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	BySetPos   []int
	WeekStart  string
}

// Param is one property parameter with all of its values.
type Param struct {
	Name   string
	Values []string
}

// ExtProp is a property the model does not interpret. Its parameters and raw
// value are kept verbatim.
type ExtProp struct {
	Name   string
	Params []Param
	Value  string
}

// Param returns the first value of the named parameter.
func (p ExtProp) Param(name string) string {
	for _, param := range p.Params {
		if strings.EqualFold(param.Name, name) && len(param.Values) > 0 {
			return param.Values[0]
		}
	}
	return ""
}

// Participant is an organizer or attendee. Email is the mailto: address
// without the scheme.
type Participant struct {
	Email    string
	Name     string
	Role     string
	PartStat PartStat
	RSVP     bool
	CUType   string
	Extra    []Param // parameters not interpreted above
}

// Alarm is a VALARM definition.
type Alarm struct {
	Action       string
	Trigger      string // raw TRIGGER value
	TriggerRel   string // RELATED parameter
	TriggerAbs   bool   // VALUE=DATE-TIME
	Description  string
	Acknowledged string // raw ACKNOWLEDGED value
	UID          string
	Extensions   []ExtProp
}

// Attachment references a blob held elsewhere. The URI is never dereferenced.
type Attachment struct {
	URI       string
	FmtType   string
	Filename  string
	Size      int64
	ManagedID string
}

// Occurrence carries the attribute deltas of one overridden recurrence instance.
type Occurrence struct {
	RecurrenceID time.Time
	Summary      string
	Location     string
	Description  string
	Start        time.Time
	End          time.Time
	Status       string
	Sequence     int
	Attendees    []Participant
	Alarms       []Alarm
	Extensions   []ExtProp
}

// RawComponent is a component kept verbatim, such as a VTIMEZONE definition
// carried with an object.
type RawComponent struct {
	Name     string
	Props    []ExtProp
	Children []RawComponent
}

// Prop returns the raw value of the first property with the given name.
func (c RawComponent) Prop(name string) string {
	for _, p := range c.Props {
		if strings.EqualFold(p.Name, name) {
			return p.Value
		}
	}
	return ""
}

func (c RawComponent) clone() RawComponent {
	out := RawComponent{Name: c.Name, Props: cloneExt(c.Props)}
	if c.Children != nil {
		out.Children = make([]RawComponent, len(c.Children))
		for i, child := range c.Children {
			out.Children[i] = child.clone()
		}
	}
	return out
}

// Object is one calendar object resource: a master component with its
// overridden occurrences. Objects are values; mutate copies.
type Object struct {
	UID         string
	Kind        ComponentKind
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	Due         time.Time
	AllDay      bool
	TZID        string
	Status      string
	Sequence    int
	Stamp       time.Time
	Created     time.Time
	LastMod     time.Time
	URL         string
	Priority    int
	Visibility  Visibility
	Organizer   *Participant
	Attendees   []Participant
	Categories  []string
	Rule        *Rule
	ExDates     []time.Time
	RDates      []time.Time
	Overrides   []Occurrence
	Alarms      []Alarm
	Attachments []Attachment
	Extensions  []ExtProp
	Timezones   []RawComponent
}

// Clone returns a deep copy of o.
func (o Object) Clone() Object {
	c := o
	if o.Organizer != nil {
		org := o.Organizer.clone()
		c.Organizer = &org
	}
	c.Attendees = cloneParticipants(o.Attendees)
	c.Categories = slices.Clone(o.Categories)
	if o.Rule != nil {
		r := o.Rule.clone()
		c.Rule = &r
	}
	c.ExDates = slices.Clone(o.ExDates)
	c.RDates = slices.Clone(o.RDates)
	if o.Overrides != nil {
		c.Overrides = make([]Occurrence, len(o.Overrides))
		for i, ov := range o.Overrides {
			ov.Attendees = cloneParticipants(ov.Attendees)
			ov.Alarms = cloneAlarms(ov.Alarms)
			ov.Extensions = cloneExt(ov.Extensions)
			c.Overrides[i] = ov
		}
	}
	c.Alarms = cloneAlarms(o.Alarms)
	c.Attachments = slices.Clone(o.Attachments)
	c.Extensions = cloneExt(o.Extensions)
	if o.Timezones != nil {
		c.Timezones = make([]RawComponent, len(o.Timezones))
		for i, tz := range o.Timezones {
			c.Timezones[i] = tz.clone()
		}
	}
	return c
}

// Extension returns the first extension property with the given name.
func (o Object) Extension(name string) (ExtProp, bool) {
	for _, p := range o.Extensions {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ExtProp{}, false
}

// IsRecurring reports whether the object is a series master.
func (o Object) IsRecurring() bool {
	return o.Rule != nil || len(o.RDates) > 0
}

// String renders the rule as an RRULE value.
func (r Rule) String() string {
	parts := []string{"FREQ=" + string(r.Freq)}
	if n := r.EffectiveInterval(); n > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(n))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		if r.UntilDate {
			parts = append(parts, "UNTIL="+r.Until.Format(dateLayout))
		} else {
			parts = append(parts, "UNTIL="+r.Until.UTC().Format(dateTimeUTCLayout))
		}
	}
	if len(r.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(r.ByDay, ","))
	}
	appendInts := func(key string, v []int) {
		if len(v) == 0 {
			return
		}
		s := make([]string, len(v))
		for i, n := range v {
			s[i] = strconv.Itoa(n)
		}
		parts = append(parts, key+"="+strings.Join(s, ","))
	}
	appendInts("BYMONTH", r.ByMonth)
	appendInts("BYMONTHDAY", r.ByMonthDay)
	appendInts("BYYEARDAY", r.ByYearDay)
	appendInts("BYWEEKNO", r.ByWeekNo)
	appendInts("BYSETPOS", r.BySetPos)
	if r.WeekStart != "" {
		parts = append(parts, "WKST="+r.WeekStart)
	}
	return strings.Join(parts, ";")
}

// EffectiveInterval returns the interval with the RFC default applied.
func (r Rule) EffectiveInterval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

func (r Rule) clone() Rule {
	c := r
	c.ByDay = slices.Clone(r.ByDay)
	c.ByMonth = slices.Clone(r.ByMonth)
	c.ByMonthDay = slices.Clone(r.ByMonthDay)
	c.ByYearDay = slices.Clone(r.ByYearDay)
	c.ByWeekNo = slices.Clone(r.ByWeekNo)
	c.BySetPos = slices.Clone(r.BySetPos)
	return c
}

func (p Participant) clone() Participant {
	c := p
	c.Extra = cloneParams(p.Extra)
	return c
}

func cloneParticipants(in []Participant) []Participant {
	if in == nil {
		return nil
	}
	out := make([]Participant, len(in))
	for i, p := range in {
		out[i] = p.clone()
	}
	return out
}

func cloneAlarms(in []Alarm) []Alarm {
	if in == nil {
		return nil
	}
	out := make([]Alarm, len(in))
	for i, a := range in {
		a.Extensions = cloneExt(a.Extensions)
		out[i] = a
	}
	return out
}

func cloneParams(in []Param) []Param {
	if in == nil {
		return nil
	}
	out := make([]Param, len(in))
	for i, p := range in {
		out[i] = Param{Name: p.Name, Values: slices.Clone(p.Values)}
	}
	return out
}

func cloneExt(in []ExtProp) []ExtProp {
	if in == nil {
		return nil
	}
	out := make([]ExtProp, len(in))
	for i, p := range in {
		out[i] = ExtProp{Name: p.Name, Params: cloneParams(p.Params), Value: p.Value}
	}
	return out
}
