package calendar

import (
	"bufio"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/caldora/server/recurrence"
)

// DecodeOptions controls how a calendar body is interpreted.
type DecodeOptions struct {
	// DefaultLocation anchors floating date-times, normally the collection's
	// timezone. UTC when nil.
	DefaultLocation *time.Location
	Profile         Profile
}

// properties the model interprets; everything else is kept as an extension
var knownProps = map[string]bool{
	ical.PropUID: true, ical.PropDateTimeStamp: true, ical.PropSummary: true,
	ical.PropLocation: true, ical.PropDescription: true, ical.PropStatus: true,
	ical.PropSequence: true, ical.PropPriority: true, ical.PropURL: true,
	ical.PropTransparency: true, ical.PropDateTimeStart: true, ical.PropDateTimeEnd: true,
	ical.PropDuration: true, ical.PropDue: true, ical.PropCreated: true,
	ical.PropLastModified: true, ical.PropOrganizer: true, ical.PropAttendee: true,
	ical.PropCategories: true, ical.PropRecurrenceRule: true, ical.PropExceptionDates: true,
	ical.PropRecurrenceDates: true, ical.PropRecurrenceID: true,
}

// Decode parses an iCalendar body into an Object. All VEVENT or VTODO
// components must share one UID; the one without RECURRENCE-ID is the master
// and the others become overrides.
func Decode(body string, opts DecodeOptions) (Object, error) {
	if err := scanStructure(body); err != nil {
		return Object{}, err
	}
	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	if err != nil {
		return Object{}, &ParseError{Component: ical.CompCalendar, Message: "malformed calendar", Err: err}
	}
	if cal.Name != ical.CompCalendar {
		return Object{}, parseErr(cal.Name, "expected VCALENDAR")
	}

	d := decoder{defaultLoc: opts.DefaultLocation}
	if d.defaultLoc == nil {
		d.defaultLoc = time.UTC
	}

	var items []*ical.Component
	for _, child := range cal.Children {
		switch child.Name {
		case ical.CompTimezone:
			tz := rawComponent(child)
			if err := validateTimezone(tz); err != nil {
				return Object{}, err
			}
			d.timezones = append(d.timezones, tz)
		case ical.CompEvent, ical.CompToDo:
			items = append(items, child)
		}
	}
	if len(items) == 0 {
		return Object{}, ErrUnprocessable
	}

	var master *ical.Component
	var instances []*ical.Component
	for _, item := range items {
		if item.Name != items[0].Name {
			return Object{}, parseErr(item.Name, "mixed component types in one object")
		}
		if item.Props.Get(ical.PropRecurrenceID) != nil {
			instances = append(instances, item)
			continue
		}
		if master != nil {
			return Object{}, parseErr(item.Name, "more than one master component")
		}
		master = item
	}
	if master == nil {
		return Object{}, parseErr(items[0].Name, "missing master component")
	}

	obj, err := d.decodeMaster(master)
	if err != nil {
		return Object{}, err
	}
	for _, inst := range instances {
		if uid := propText(inst, ical.PropUID); uid != obj.UID {
			return Object{}, parseErr(inst.Name, "UID %q differs from master UID %q", uid, obj.UID)
		}
		occ, err := d.decodeOccurrence(inst, obj.AllDay)
		if err != nil {
			return Object{}, err
		}
		obj.Overrides = append(obj.Overrides, occ)
	}
	sort.Slice(obj.Overrides, func(i, j int) bool {
		return obj.Overrides[i].RecurrenceID.Before(obj.Overrides[j].RecurrenceID)
	})

	if opts.Profile.RequireVTimezone {
		for _, tzid := range d.usedTZIDs {
			if _, ok := findTimezone(d.timezones, tzid); !ok {
				return Object{}, parseErr(compTimezone, "no definition for TZID %q", tzid)
			}
		}
	}
	obj.Timezones = d.timezones

	obj, _ = Reconcile(obj)
	return obj, nil
}

type decoder struct {
	defaultLoc *time.Location
	timezones  []RawComponent
	usedTZIDs  []string
}

func (d *decoder) decodeMaster(comp *ical.Component) (Object, error) {
	obj := Object{Kind: ComponentKind(comp.Name)}

	obj.UID = propText(comp, ical.PropUID)
	if obj.UID == "" {
		return Object{}, parseErr(comp.Name, "missing UID")
	}
	stamp, _, err := d.dateTime(comp, ical.PropDateTimeStamp)
	if err != nil {
		return Object{}, err
	}
	if stamp.IsZero() {
		return Object{}, parseErr(comp.Name, "missing DTSTAMP")
	}
	obj.Stamp = stamp

	obj.Summary = propText(comp, ical.PropSummary)
	obj.Location = propText(comp, ical.PropLocation)
	obj.Description = propText(comp, ical.PropDescription)
	obj.Status = strings.ToUpper(propText(comp, ical.PropStatus))
	obj.URL = propText(comp, ical.PropURL)
	if obj.Sequence, err = propInt(comp, ical.PropSequence); err != nil {
		return Object{}, err
	}
	if obj.Priority, err = propInt(comp, ical.PropPriority); err != nil {
		return Object{}, err
	}
	if strings.EqualFold(propText(comp, ical.PropTransparency), "TRANSPARENT") {
		obj.Visibility = VisibilityFree
	}

	if obj.Start, obj.AllDay, err = d.dateTime(comp, ical.PropDateTimeStart); err != nil {
		return Object{}, err
	}
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		obj.TZID = p.Params.Get(ical.ParamTimezoneID)
	}
	if obj.Kind == KindEvent && obj.Start.IsZero() {
		return Object{}, parseErr(comp.Name, "missing DTSTART")
	}
	if obj.End, err = d.end(comp, obj.Start, obj.AllDay); err != nil {
		return Object{}, err
	}
	if obj.Due, _, err = d.dateTime(comp, ical.PropDue); err != nil {
		return Object{}, err
	}
	if obj.Created, _, err = d.dateTime(comp, ical.PropCreated); err != nil {
		return Object{}, err
	}
	if obj.LastMod, _, err = d.dateTime(comp, ical.PropLastModified); err != nil {
		return Object{}, err
	}

	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		org := participant(p)
		obj.Organizer = &org
	}
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		obj.Attendees = append(obj.Attendees, participant(&p))
	}
	for _, p := range comp.Props.Values(ical.PropCategories) {
		for _, c := range splitText(p.Value) {
			if c != "" {
				obj.Categories = append(obj.Categories, c)
			}
		}
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		rule, err := parseRule(p.Value, obj.Start.Location())
		if err != nil {
			return Object{}, &ParseError{Component: comp.Name, Message: "invalid RRULE", Err: err}
		}
		obj.Rule = &rule
	}
	if obj.ExDates, err = d.dateList(comp, ical.PropExceptionDates); err != nil {
		return Object{}, err
	}
	if obj.RDates, err = d.dateList(comp, ical.PropRecurrenceDates); err != nil {
		return Object{}, err
	}

	for _, p := range comp.Props.Values(ical.PropAttach) {
		if att, ok := attachment(&p); ok {
			obj.Attachments = append(obj.Attachments, att)
		}
	}
	if obj.Alarms, err = decodeAlarms(comp); err != nil {
		return Object{}, err
	}
	obj.Extensions = extensions(comp, func(name string) bool {
		if name == ical.PropAttach {
			return true
		}
		return knownProps[name]
	})
	// attachments with parameters the model does not carry stay verbatim
	for _, p := range comp.Props.Values(ical.PropAttach) {
		if _, ok := attachment(&p); !ok {
			obj.Extensions = append(obj.Extensions, extProp(&p))
		}
	}
	return obj, nil
}

func (d *decoder) decodeOccurrence(comp *ical.Component, allDay bool) (Occurrence, error) {
	var occ Occurrence
	var err error
	if occ.RecurrenceID, _, err = d.dateTime(comp, ical.PropRecurrenceID); err != nil {
		return Occurrence{}, err
	}
	if occ.Start, _, err = d.dateTime(comp, ical.PropDateTimeStart); err != nil {
		return Occurrence{}, err
	}
	if occ.End, err = d.end(comp, occ.Start, allDay); err != nil {
		return Occurrence{}, err
	}
	occ.Summary = propText(comp, ical.PropSummary)
	occ.Location = propText(comp, ical.PropLocation)
	occ.Description = propText(comp, ical.PropDescription)
	occ.Status = strings.ToUpper(propText(comp, ical.PropStatus))
	if occ.Sequence, err = propInt(comp, ical.PropSequence); err != nil {
		return Occurrence{}, err
	}
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		occ.Attendees = append(occ.Attendees, participant(&p))
	}
	if occ.Alarms, err = decodeAlarms(comp); err != nil {
		return Occurrence{}, err
	}
	occ.Extensions = extensions(comp, func(name string) bool {
		return knownProps[name] && name != ical.PropOrganizer && name != ical.PropCategories
	})
	return occ, nil
}

// dateTime reads a DATE or DATE-TIME property. A missing property yields the
// zero time.
func (d *decoder) dateTime(comp *ical.Component, name string) (time.Time, bool, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return time.Time{}, false, nil
	}
	return d.propTime(comp.Name, p, p.Value)
}

func (d *decoder) propTime(component string, p *ical.Prop, value string) (time.Time, bool, error) {
	allDay := strings.EqualFold(p.Params.Get(ical.ParamValue), string(ical.ValueDate)) || len(value) == len(dateLayout)
	tzid := p.Params.Get(ical.ParamTimezoneID)

	loc := d.defaultLoc
	if tzid != "" {
		var err error
		if loc, err = resolveLocation(tzid, d.timezones); err != nil {
			return time.Time{}, false, &ParseError{Component: component, Message: "invalid " + p.Name, Err: err}
		}
		if !slices.Contains(d.usedTZIDs, tzid) {
			d.usedTZIDs = append(d.usedTZIDs, tzid)
		}
	}

	var t time.Time
	var err error
	switch {
	case allDay:
		t, err = time.ParseInLocation(dateLayout, value, d.defaultLoc)
	case strings.HasSuffix(value, "Z"):
		t, err = time.ParseInLocation(dateTimeUTCLayout, value, time.UTC)
	default:
		t, err = time.ParseInLocation(dateTimeLayout, value, loc)
	}
	if err != nil {
		return time.Time{}, false, &ParseError{Component: component, Message: "invalid " + p.Name, Err: err}
	}
	return t, allDay, nil
}

// end resolves DTEND, falling back to DURATION and then to the RFC default
// length of one day for all-day items.
func (d *decoder) end(comp *ical.Component, start time.Time, allDay bool) (time.Time, error) {
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		end, _, err := d.propTime(comp.Name, p, p.Value)
		return end, err
	}
	if p := comp.Props.Get(ical.PropDuration); p != nil {
		dur, err := p.Duration()
		if err != nil {
			return time.Time{}, &ParseError{Component: comp.Name, Message: "invalid DURATION", Err: err}
		}
		return start.Add(dur), nil
	}
	if allDay && !start.IsZero() {
		return start.AddDate(0, 0, 1), nil
	}
	return start, nil
}

// dateList collects the values of a multi-valued date property such as EXDATE.
func (d *decoder) dateList(comp *ical.Component, name string) ([]time.Time, error) {
	var out []time.Time
	for _, p := range comp.Props.Values(name) {
		if strings.EqualFold(p.Params.Get(ical.ParamValue), "PERIOD") {
			continue
		}
		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			t, _, err := d.propTime(comp.Name, &p, v)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func decodeAlarms(comp *ical.Component) ([]Alarm, error) {
	var alarms []Alarm
	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		a := Alarm{
			Action:       strings.ToUpper(propText(child, ical.PropAction)),
			Description:  propText(child, ical.PropDescription),
			Acknowledged: propValue(child, "ACKNOWLEDGED"),
			UID:          propText(child, ical.PropUID),
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if a.Action == "" || trigger == nil {
			return nil, parseErr(ical.CompAlarm, "missing ACTION or TRIGGER")
		}
		a.Trigger = trigger.Value
		a.TriggerRel = trigger.Params.Get(ical.ParamRelated)
		a.TriggerAbs = strings.EqualFold(trigger.Params.Get(ical.ParamValue), string(ical.ValueDateTime))
		a.Extensions = extensions(child, func(name string) bool {
			switch name {
			case ical.PropAction, ical.PropDescription, ical.PropTrigger, ical.PropUID, "ACKNOWLEDGED":
				return true
			}
			return false
		})
		alarms = append(alarms, a)
	}
	return alarms, nil
}

func participant(p *ical.Prop) Participant {
	out := Participant{
		Email:    stripMailto(p.Value),
		Name:     p.Params.Get(ical.ParamCommonName),
		Role:     p.Params.Get(ical.ParamRole),
		PartStat: PartStat(strings.ToUpper(p.Params.Get(ical.ParamParticipationStatus))),
		RSVP:     strings.EqualFold(p.Params.Get(ical.ParamRSVP), "TRUE"),
		CUType:   p.Params.Get(ical.ParamCalendarUserType),
	}
	for _, name := range sortedParamNames(p.Params) {
		switch name {
		case ical.ParamCommonName, ical.ParamRole, ical.ParamParticipationStatus,
			ical.ParamRSVP, ical.ParamCalendarUserType:
			continue
		}
		out.Extra = append(out.Extra, Param{Name: name, Values: slices.Clone(p.Params[name])})
	}
	return out
}

func stripMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

// attachment maps an ATTACH property when the model can represent it.
func attachment(p *ical.Prop) (Attachment, bool) {
	att := Attachment{URI: p.Value}
	for name, values := range p.Params {
		if len(values) != 1 {
			return Attachment{}, false
		}
		switch name {
		case ical.ParamFormatType:
			att.FmtType = values[0]
		case "FILENAME":
			att.Filename = values[0]
		case "MANAGED-ID":
			att.ManagedID = values[0]
		case "SIZE":
			n, err := strconv.ParseInt(values[0], 10, 64)
			if err != nil {
				return Attachment{}, false
			}
			att.Size = n
		case ical.ParamValue:
			if !strings.EqualFold(values[0], "URI") {
				return Attachment{}, false
			}
		default:
			return Attachment{}, false
		}
	}
	return att, true
}

// extensions collects, sorted by name, the properties for which known is false.
func extensions(comp *ical.Component, known func(string) bool) []ExtProp {
	names := make([]string, 0, len(comp.Props))
	for name := range comp.Props {
		if !known(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var out []ExtProp
	for _, name := range names {
		for _, p := range comp.Props[name] {
			out = append(out, extProp(&p))
		}
	}
	return out
}

func extProp(p *ical.Prop) ExtProp {
	ext := ExtProp{Name: p.Name, Value: p.Value}
	for _, name := range sortedParamNames(p.Params) {
		ext.Params = append(ext.Params, Param{Name: name, Values: slices.Clone(p.Params[name])})
	}
	return ext
}

func rawComponent(comp *ical.Component) RawComponent {
	out := RawComponent{Name: comp.Name}
	out.Props = extensions(comp, func(string) bool { return false })
	for _, child := range comp.Children {
		out.Children = append(out.Children, rawComponent(child))
	}
	return out
}

func sortedParamNames(params ical.Params) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func propText(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	text, err := p.Text()
	if err != nil {
		return p.Value
	}
	return text
}

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func propInt(comp *ical.Component, name string) (int, error) {
	v := strings.TrimSpace(propValue(comp, name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ParseError{Component: comp.Name, Message: "invalid " + name, Err: err}
	}
	return n, nil
}

// splitText splits a TEXT list on unescaped commas and unescapes the items.
func splitText(v string) []string {
	var out []string
	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\\' && i+1 < len(v):
			i++
			switch v[i] {
			case 'n', 'N':
				sb.WriteByte('\n')
			default:
				sb.WriteByte(v[i])
			}
		case c == ',':
			out = append(out, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	return append(out, sb.String())
}

// parseRule parses an RRULE value. UNTIL values without a zone are read in loc.
func parseRule(v string, loc *time.Location) (Rule, error) {
	if err := recurrence.ValidateRule(v); err != nil {
		return Rule{}, err
	}
	var r Rule
	for _, part := range strings.Split(v, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("malformed rule part %q", part)
		}
		var err error
		switch strings.ToUpper(key) {
		case "FREQ":
			r.Freq = Frequency(strings.ToUpper(value))
		case "INTERVAL":
			r.Interval, err = strconv.Atoi(value)
		case "COUNT":
			r.Count, err = strconv.Atoi(value)
		case "UNTIL":
			switch {
			case len(value) == len(dateLayout):
				r.UntilDate = true
				r.Until, err = time.ParseInLocation(dateLayout, value, loc)
			case strings.HasSuffix(value, "Z"):
				r.Until, err = time.Parse(dateTimeUTCLayout, value)
			default:
				r.Until, err = time.ParseInLocation(dateTimeLayout, value, loc)
			}
		case "BYDAY":
			r.ByDay = strings.Split(strings.ToUpper(value), ",")
		case "BYMONTH":
			r.ByMonth, err = parseInts(value)
		case "BYMONTHDAY":
			r.ByMonthDay, err = parseInts(value)
		case "BYYEARDAY":
			r.ByYearDay, err = parseInts(value)
		case "BYWEEKNO":
			r.ByWeekNo, err = parseInts(value)
		case "BYSETPOS":
			r.BySetPos, err = parseInts(value)
		case "WKST":
			r.WeekStart = strings.ToUpper(value)
		}
		if err != nil {
			return Rule{}, fmt.Errorf("rule part %s: %w", key, err)
		}
	}
	if r.Freq == "" {
		return Rule{}, errors.New("rule has no FREQ")
	}
	r.Interval = r.EffectiveInterval()
	return r, nil
}

func parseInts(v string) ([]int, error) {
	fields := strings.Split(v, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// scanStructure checks line folding and BEGIN/END nesting before the body is
// handed to the iCalendar decoder, so errors can name the broken component.
func scanStructure(body string) error {
	if strings.TrimSpace(body) == "" {
		return parseErr("", "empty calendar body")
	}
	var stack []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	seen := false
	current := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !seen {
				return &ParseError{Component: current(), Line: lineNo, Message: "continuation line without a preceding property"}
			}
			continue
		}
		seen = true
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return &ParseError{Component: current(), Line: lineNo, Message: "content line without a value"}
		}
		name = strings.ToUpper(name)
		value = strings.ToUpper(strings.TrimSpace(value))
		switch name {
		case "BEGIN":
			if len(stack) == 0 && value != ical.CompCalendar {
				return &ParseError{Component: value, Line: lineNo, Message: "calendar must start with BEGIN:VCALENDAR"}
			}
			stack = append(stack, value)
		case "END":
			if current() != value {
				comp := current()
				if comp == "" {
					comp = value
				}
				return &ParseError{Component: comp, Line: lineNo, Message: fmt.Sprintf("unexpected END:%s", value)}
			}
			stack = stack[:len(stack)-1]
		default:
			if len(stack) == 0 {
				return &ParseError{Line: lineNo, Message: "property outside VCALENDAR"}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &ParseError{Component: current(), Line: lineNo, Message: "unreadable line", Err: err}
	}
	if len(stack) > 0 {
		return &ParseError{Component: current(), Line: lineNo, Message: "missing END:" + current()}
	}
	return nil
}
