package storage

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/recurrence"
)

// TextMatch describes a <text‑match> constraint.
type TextMatch struct {
	Collation string // "i;unicode-casemap", etc.
	MatchType string // "equals", "contains", …
	Negate    bool   // true if negate-condition="yes"
	Value     string // text to match
}

// ParamFilter describes a <param-filter> inside a prop-filter.
type ParamFilter struct {
	Name         string     // e.g. "LANGUAGE", "PARTSTAT"
	IsNotDefined bool       // <is-not-defined/>
	TextMatch    *TextMatch // optional
}

// PropFilter describes a <prop‑filter> inside a comp-filter.
type PropFilter struct {
	Name         string        // e.g. "SUMMARY", "UID"
	IsNotDefined bool          // <is-not-defined/>
	TextMatch    *TextMatch    // optional
	ParamFilters []ParamFilter // zero or more <param-filter>
	Test         string        // "anyof" (default) or "allof"
}

// TimeRange describes a <time‑range> in a comp-filter.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Filter is a comp-filter node. The root names VCALENDAR; its children
// name VEVENT, VTODO or VALARM.
type Filter struct {
	Component    string       // Name of component (e.g. "VCALENDAR", "VEVENT")
	IsNotDefined bool         // <is-not-defined/>
	TimeRange    *TimeRange   // optional <time-range>
	PropFilters  []PropFilter // zero or more <prop-filter>
	Children     []Filter     // nested <comp-filter>
	Test         string       // "anyof" (default) or "allof"
}

// Match reports whether obj satisfies the filter. A nil filter matches
// everything.
func (f *Filter) Match(obj calendar.Object) bool {
	if f == nil {
		return true
	}
	if !strings.EqualFold(f.Component, "VCALENDAR") {
		// a bare component filter is treated as the child of VCALENDAR
		return f.matchComponent(obj)
	}
	if f.IsNotDefined {
		return false
	}
	return combine(f.Test, len(f.Children), func(i int) bool {
		return f.Children[i].matchComponent(obj)
	})
}

func (f *Filter) matchComponent(obj calendar.Object) bool {
	var defined bool
	switch strings.ToUpper(f.Component) {
	case string(calendar.KindEvent), string(calendar.KindTodo):
		defined = strings.EqualFold(f.Component, string(obj.Kind))
	case "VALARM":
		defined = len(obj.Alarms) > 0
	default:
		defined = false
	}
	if f.IsNotDefined {
		return !defined
	}
	if !defined {
		return false
	}
	if strings.EqualFold(f.Component, "VALARM") {
		return combine(f.Test, len(f.PropFilters), func(i int) bool {
			return f.PropFilters[i].matchAlarms(obj.Alarms)
		})
	}
	if f.TimeRange != nil && !f.TimeRange.overlaps(obj) {
		return false
	}
	n := len(f.PropFilters) + len(f.Children)
	return combine(f.Test, n, func(i int) bool {
		if i < len(f.PropFilters) {
			return f.PropFilters[i].match(objectProps(obj, f.PropFilters[i].Name))
		}
		return f.Children[i-len(f.PropFilters)].matchComponent(obj)
	})
}

// combine evaluates n tests as anyof or allof. No tests means a match.
func combine(test string, n int, ok func(int) bool) bool {
	if n == 0 {
		return true
	}
	all := strings.EqualFold(test, "allof")
	for i := 0; i < n; i++ {
		if ok(i) != all {
			return !all
		}
	}
	return all
}

type propValue struct {
	value  string
	params []calendar.Param
}

func (p propValue) param(name string) (string, bool) {
	for _, param := range p.params {
		if strings.EqualFold(param.Name, name) && len(param.Values) > 0 {
			return strings.Join(param.Values, ","), true
		}
	}
	return "", false
}

func participantProp(p calendar.Participant) propValue {
	v := propValue{value: "mailto:" + p.Email}
	add := func(name, value string) {
		if value != "" {
			v.params = append(v.params, calendar.Param{Name: name, Values: []string{value}})
		}
	}
	add("CN", p.Name)
	add("ROLE", p.Role)
	add("PARTSTAT", string(p.PartStat))
	add("CUTYPE", p.CUType)
	if p.RSVP {
		add("RSVP", "TRUE")
	}
	v.params = append(v.params, p.Extra...)
	return v
}

// objectProps returns the values the named property has on obj.
func objectProps(obj calendar.Object, name string) []propValue {
	text := func(s string) []propValue {
		if s == "" {
			return nil
		}
		return []propValue{{value: s}}
	}
	switch strings.ToUpper(name) {
	case "UID":
		return text(obj.UID)
	case "SUMMARY":
		return text(obj.Summary)
	case "LOCATION":
		return text(obj.Location)
	case "DESCRIPTION":
		return text(obj.Description)
	case "STATUS":
		return text(obj.Status)
	case "URL":
		return text(obj.URL)
	case "CATEGORIES":
		var out []propValue
		for _, c := range obj.Categories {
			out = append(out, propValue{value: c})
		}
		return out
	case "PRIORITY":
		if obj.Priority == 0 {
			return nil
		}
		return text(strconv.Itoa(obj.Priority))
	case "TRANSP":
		if obj.Visibility == calendar.VisibilityFree {
			return text("TRANSPARENT")
		}
		return text("OPAQUE")
	case "RRULE":
		if obj.Rule == nil {
			return nil
		}
		return text(obj.Rule.String())
	case "DTSTART":
		if obj.Start.IsZero() {
			return nil
		}
		return text(obj.Start.UTC().Format("20060102T150405Z"))
	case "DUE":
		if obj.Due.IsZero() {
			return nil
		}
		return text(obj.Due.UTC().Format("20060102T150405Z"))
	case "ORGANIZER":
		if obj.Organizer == nil {
			return nil
		}
		return []propValue{participantProp(*obj.Organizer)}
	case "ATTENDEE":
		var out []propValue
		for _, a := range obj.Attendees {
			out = append(out, participantProp(a))
		}
		return out
	}
	var out []propValue
	for _, x := range obj.Extensions {
		if strings.EqualFold(x.Name, name) {
			out = append(out, propValue{value: x.Value, params: x.Params})
		}
	}
	return out
}

func (pf PropFilter) match(values []propValue) bool {
	if pf.IsNotDefined {
		return len(values) == 0
	}
	for _, v := range values {
		if pf.matchValue(v) {
			return true
		}
	}
	return false
}

func (pf PropFilter) matchValue(v propValue) bool {
	n := len(pf.ParamFilters)
	if pf.TextMatch != nil {
		n++
	}
	return combine(pf.Test, n, func(i int) bool {
		if pf.TextMatch != nil {
			if i == 0 {
				return pf.TextMatch.Match(v.value)
			}
			i--
		}
		return pf.ParamFilters[i].match(v)
	})
}

func (pf PropFilter) matchAlarms(alarms []calendar.Alarm) bool {
	for _, a := range alarms {
		var values []propValue
		switch strings.ToUpper(pf.Name) {
		case "ACTION":
			values = []propValue{{value: a.Action}}
		case "TRIGGER":
			values = []propValue{{value: a.Trigger}}
		case "DESCRIPTION":
			if a.Description != "" {
				values = []propValue{{value: a.Description}}
			}
		default:
			for _, x := range a.Extensions {
				if strings.EqualFold(x.Name, pf.Name) {
					values = append(values, propValue{value: x.Value, params: x.Params})
				}
			}
		}
		if pf.match(values) {
			return true
		}
	}
	return false
}

func (pf ParamFilter) match(v propValue) bool {
	value, ok := v.param(pf.Name)
	if pf.IsNotDefined {
		return !ok
	}
	if !ok {
		return false
	}
	return pf.TextMatch == nil || pf.TextMatch.Match(value)
}

// Match applies the text-match to value. i;octet compares bytes; every
// other collation folds case.
func (tm *TextMatch) Match(value string) bool {
	needle := tm.Value
	if tm.Collation != "i;octet" {
		value = strings.ToLower(value)
		needle = strings.ToLower(needle)
	}
	var ok bool
	switch tm.MatchType {
	case "equals":
		ok = value == needle
	case "starts-with":
		ok = strings.HasPrefix(value, needle)
	case "ends-with":
		ok = strings.HasSuffix(value, needle)
	default:
		ok = strings.Contains(value, needle)
	}
	return ok != tm.Negate
}

// overlaps reports whether any instance of obj intersects the range.
// Recurring objects are expanded far enough to reach the range end.
func (tr *TimeRange) overlaps(obj calendar.Object) bool {
	start, end := instanceBounds(obj)
	if start.IsZero() {
		// a task without dates matches every range
		return obj.Kind == calendar.KindTodo
	}
	rangeStart := time.Time{}
	if tr.Start != nil {
		rangeStart = *tr.Start
	}
	rangeEnd := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if tr.End != nil {
		rangeEnd = *tr.End
	}
	within := func(s, e time.Time) bool {
		if e.Equal(s) {
			return !s.Before(rangeStart) && s.Before(rangeEnd)
		}
		return s.Before(rangeEnd) && e.After(rangeStart)
	}
	if within(start, end) {
		return true
	}
	for _, ov := range obj.Overrides {
		if ov.Start.IsZero() {
			continue
		}
		ovEnd := ov.End
		if ovEnd.IsZero() {
			ovEnd = ov.Start.Add(end.Sub(start))
		}
		if within(ov.Start, ovEnd) {
			return true
		}
	}
	if !obj.IsRecurring() {
		return false
	}
	// an override replaces the instance at its recurrence position
	info := calendar.RecurrenceInfo(obj)
	info.EXDATE = slices.Clone(info.EXDATE)
	for _, ov := range obj.Overrides {
		info.EXDATE = append(info.EXDATE, ov.RecurrenceID)
	}
	ok, err := recurrence.NewEngine().HasOccurrenceInRange(start, end, info, rangeStart, rangeEnd)
	if errors.Is(err, recurrence.ErrScanLimit) {
		// too far out to decide; clients filter the returned data again
		return true
	}
	return err == nil && ok
}

func instanceBounds(obj calendar.Object) (time.Time, time.Time) {
	start, end := obj.Start, obj.End
	if obj.Kind == calendar.KindTodo {
		switch {
		case start.IsZero():
			start, end = obj.Due, obj.Due
		case !obj.Due.IsZero():
			end = obj.Due
		}
	}
	if end.IsZero() || end.Before(start) {
		end = start
		if obj.AllDay {
			end = start.AddDate(0, 0, 1)
		}
	}
	return start, end
}
