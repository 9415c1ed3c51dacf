package calendar

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
)

// ProductID is written as PRODID on every encoded calendar.
const ProductID = "-//caldora//caldora//EN"

// Directory resolves display names for calendar user addresses.
type Directory interface {
	DisplayName(email string) (string, bool)
}

// EncodeOptions controls how an Object is rendered.
type EncodeOptions struct {
	Profile Profile
	// Directory fills in CN parameters the stored object lacks. Optional.
	Directory Directory
}

// Encode renders an Object as an iCalendar body.
func Encode(obj Object, opts EncodeOptions) (string, error) {
	e := encoder{opts: opts}
	if obj.TZID != "" && !opts.Profile.UTCOnly {
		if loc, err := resolveLocation(obj.TZID, obj.Timezones); err == nil {
			e.tzid, e.loc = obj.TZID, loc
		}
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	if !opts.Profile.UTCOnly {
		for _, tz := range obj.Timezones {
			cal.Children = append(cal.Children, icalComponent(tz))
		}
		if e.tzid != "" && opts.Profile.EmitVTimezone {
			if _, ok := findTimezone(obj.Timezones, e.tzid); !ok {
				if tz, ok := synthesizeTimezone(e.tzid, obj.Start); ok {
					cal.Children = append(cal.Children, icalComponent(tz))
				}
			}
		}
	}

	stamp := obj.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	cal.Children = append(cal.Children, e.master(obj, stamp))
	for _, occ := range obj.Overrides {
		cal.Children = append(cal.Children, e.occurrence(obj, occ, stamp))
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar object %s: %w", obj.UID, err)
	}
	return buf.String(), nil
}

type encoder struct {
	opts EncodeOptions
	tzid string
	loc  *time.Location
}

func (e *encoder) master(obj Object, stamp time.Time) *ical.Component {
	comp := ical.NewComponent(string(obj.Kind))
	comp.Props.SetText(ical.PropUID, obj.UID)
	comp.Props.Set(utcProp(ical.PropDateTimeStamp, stamp))
	setText(comp, ical.PropSummary, obj.Summary)
	setText(comp, ical.PropLocation, obj.Location)
	setText(comp, ical.PropDescription, obj.Description)
	setText(comp, ical.PropStatus, obj.Status)
	setText(comp, ical.PropURL, obj.URL)
	if obj.Sequence > 0 {
		setRaw(comp, ical.PropSequence, strconv.Itoa(obj.Sequence))
	}
	if obj.Priority > 0 {
		setRaw(comp, ical.PropPriority, strconv.Itoa(obj.Priority))
	}
	if obj.Kind == KindEvent {
		transp := "OPAQUE"
		if obj.Visibility == VisibilityFree {
			transp = "TRANSPARENT"
		}
		setRaw(comp, ical.PropTransparency, transp)
	}

	e.setTime(comp, ical.PropDateTimeStart, obj.Start, obj.AllDay)
	if obj.Kind == KindEvent || !obj.End.Equal(obj.Start) {
		e.setTime(comp, ical.PropDateTimeEnd, obj.End, obj.AllDay)
	}
	e.setTime(comp, ical.PropDue, obj.Due, obj.AllDay)
	if !obj.Created.IsZero() {
		comp.Props.Set(utcProp(ical.PropCreated, obj.Created))
	}
	if !obj.LastMod.IsZero() {
		comp.Props.Set(utcProp(ical.PropLastModified, obj.LastMod))
	}

	if obj.Organizer != nil {
		comp.Props.Set(e.participant(ical.PropOrganizer, *obj.Organizer))
	}
	for _, att := range obj.Attendees {
		comp.Props.Add(e.participant(ical.PropAttendee, att))
	}
	for _, c := range obj.Categories {
		prop := ical.NewProp(ical.PropCategories)
		prop.SetText(c)
		comp.Props.Add(prop)
	}

	if obj.Rule != nil {
		setRaw(comp, ical.PropRecurrenceRule, obj.Rule.String())
	}
	for _, t := range obj.ExDates {
		comp.Props.Add(e.timeProp(ical.PropExceptionDates, t, obj.AllDay))
	}
	for _, t := range obj.RDates {
		comp.Props.Add(e.timeProp(ical.PropRecurrenceDates, t, obj.AllDay))
	}

	for _, a := range obj.Attachments {
		comp.Props.Add(attachProp(a))
	}
	addExtensions(comp, obj.Extensions)
	comp.Children = append(comp.Children, alarmComponents(obj.Alarms)...)
	return comp
}

func (e *encoder) occurrence(obj Object, occ Occurrence, stamp time.Time) *ical.Component {
	comp := ical.NewComponent(string(obj.Kind))
	comp.Props.SetText(ical.PropUID, obj.UID)
	comp.Props.Set(utcProp(ical.PropDateTimeStamp, stamp))
	e.setTime(comp, ical.PropRecurrenceID, occ.RecurrenceID, obj.AllDay)

	start, end := occ.Start, occ.End
	if start.IsZero() {
		start = occ.RecurrenceID
	}
	if end.IsZero() {
		end = start.Add(obj.End.Sub(obj.Start))
	}
	e.setTime(comp, ical.PropDateTimeStart, start, obj.AllDay)
	e.setTime(comp, ical.PropDateTimeEnd, end, obj.AllDay)

	setText(comp, ical.PropSummary, occ.Summary)
	setText(comp, ical.PropLocation, occ.Location)
	setText(comp, ical.PropDescription, occ.Description)
	setText(comp, ical.PropStatus, occ.Status)
	if occ.Sequence > 0 {
		setRaw(comp, ical.PropSequence, strconv.Itoa(occ.Sequence))
	}
	for _, att := range occ.Attendees {
		comp.Props.Add(e.participant(ical.PropAttendee, att))
	}
	addExtensions(comp, occ.Extensions)
	comp.Children = append(comp.Children, alarmComponents(occ.Alarms)...)
	return comp
}

func (e *encoder) setTime(comp *ical.Component, name string, t time.Time, allDay bool) {
	if t.IsZero() {
		return
	}
	comp.Props.Set(e.timeProp(name, t, allDay))
}

// timeProp renders a date, a zoned date-time when the object carries a
// resolvable TZID, or a UTC date-time.
func (e *encoder) timeProp(name string, t time.Time, allDay bool) *ical.Prop {
	prop := ical.NewProp(name)
	switch {
	case allDay:
		prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
		prop.Value = t.Format(dateLayout)
	case e.loc != nil:
		prop.Params.Set(ical.ParamTimezoneID, e.tzid)
		prop.Value = t.In(e.loc).Format(dateTimeLayout)
	default:
		prop.Value = t.UTC().Format(dateTimeUTCLayout)
	}
	return prop
}

func (e *encoder) participant(name string, p Participant) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = "mailto:" + p.Email
	cn := p.Name
	if cn == "" && e.opts.Directory != nil {
		cn, _ = e.opts.Directory.DisplayName(p.Email)
	}
	if cn != "" {
		prop.Params.Set(ical.ParamCommonName, cn)
	}
	if p.Role != "" {
		prop.Params.Set(ical.ParamRole, p.Role)
	}
	if p.PartStat != "" {
		prop.Params.Set(ical.ParamParticipationStatus, string(p.PartStat))
	}
	if p.RSVP {
		prop.Params.Set(ical.ParamRSVP, "TRUE")
	}
	if p.CUType != "" {
		prop.Params.Set(ical.ParamCalendarUserType, p.CUType)
	}
	for _, param := range p.Extra {
		prop.Params[param.Name] = append([]string(nil), param.Values...)
	}
	return prop
}

func alarmComponents(alarms []Alarm) []*ical.Component {
	out := make([]*ical.Component, 0, len(alarms))
	for _, a := range alarms {
		comp := ical.NewComponent(ical.CompAlarm)
		setRaw(comp, ical.PropAction, a.Action)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = a.Trigger
		if a.TriggerRel != "" {
			trigger.Params.Set(ical.ParamRelated, a.TriggerRel)
		}
		if a.TriggerAbs {
			trigger.Params.Set(ical.ParamValue, string(ical.ValueDateTime))
		}
		comp.Props.Set(trigger)
		setText(comp, ical.PropDescription, a.Description)
		if a.Acknowledged != "" {
			setRaw(comp, "ACKNOWLEDGED", a.Acknowledged)
		}
		setText(comp, ical.PropUID, a.UID)
		addExtensions(comp, a.Extensions)
		out = append(out, comp)
	}
	return out
}

func attachProp(a Attachment) *ical.Prop {
	prop := ical.NewProp(ical.PropAttach)
	prop.Value = a.URI
	if a.FmtType != "" {
		prop.Params.Set(ical.ParamFormatType, a.FmtType)
	}
	if a.Filename != "" {
		prop.Params.Set("FILENAME", a.Filename)
	}
	if a.Size > 0 {
		prop.Params.Set("SIZE", strconv.FormatInt(a.Size, 10))
	}
	if a.ManagedID != "" {
		prop.Params.Set("MANAGED-ID", a.ManagedID)
	}
	return prop
}

func addExtensions(comp *ical.Component, ext []ExtProp) {
	for _, x := range ext {
		comp.Props.Add(icalProp(x))
	}
}

func icalProp(x ExtProp) *ical.Prop {
	prop := ical.NewProp(x.Name)
	prop.Value = x.Value
	for _, param := range x.Params {
		prop.Params[param.Name] = append([]string(nil), param.Values...)
	}
	return prop
}

func icalComponent(rc RawComponent) *ical.Component {
	comp := ical.NewComponent(rc.Name)
	for _, p := range rc.Props {
		comp.Props.Add(icalProp(p))
	}
	for _, child := range rc.Children {
		comp.Children = append(comp.Children, icalComponent(child))
	}
	return comp
}

func utcProp(name string, t time.Time) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = t.UTC().Format(dateTimeUTCLayout)
	return prop
}

func setText(comp *ical.Component, name, value string) {
	if value != "" {
		comp.Props.SetText(name, value)
	}
}

func setRaw(comp *ical.Component, name, value string) {
	if value == "" {
		return
	}
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}
