package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout          = "20060102"
	dateTimeLayout      = "20060102T150405"
	dateTimeUTCLayout   = "20060102T150405Z"
	compTimezone        = "VTIMEZONE"
	compTimezoneDaylite = "DAYLIGHT"
	compTimezoneStd     = "STANDARD"
)

// validateTimezone checks the structure of a VTIMEZONE definition.
func validateTimezone(tz RawComponent) error {
	if tz.Prop("TZID") == "" {
		return parseErr(compTimezone, "missing TZID")
	}
	observances := 0
	for _, child := range tz.Children {
		if child.Name != compTimezoneStd && child.Name != compTimezoneDaylite {
			continue
		}
		observances++
		if child.Prop("DTSTART") == "" {
			return parseErr(child.Name, "missing DTSTART in timezone %q", tz.Prop("TZID"))
		}
		if _, err := parseOffset(child.Prop("TZOFFSETTO")); err != nil {
			return parseErr(child.Name, "invalid TZOFFSETTO in timezone %q", tz.Prop("TZID"))
		}
	}
	if observances == 0 {
		return parseErr(compTimezone, "timezone %q has no STANDARD or DAYLIGHT observance", tz.Prop("TZID"))
	}
	return nil
}

// resolveLocation maps a TZID to a location. Olson names are loaded from the
// zone database; vendor-prefixed names such as "/mozilla.org/x/Europe/Berlin"
// are matched on their trailing Area/City part; anything else falls back to
// the fixed offset of the carried VTIMEZONE's STANDARD observance.
func resolveLocation(tzid string, timezones []RawComponent) (*time.Location, error) {
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc, nil
	}
	segments := strings.Split(strings.Trim(tzid, "/"), "/")
	for i := len(segments) - 2; i >= 0; i-- {
		if loc, err := time.LoadLocation(strings.Join(segments[i:], "/")); err == nil {
			return loc, nil
		}
	}
	for _, tz := range timezones {
		if tz.Prop("TZID") != tzid {
			continue
		}
		var fallback *RawComponent
		for i := range tz.Children {
			child := &tz.Children[i]
			if child.Name == compTimezoneStd {
				fallback = child
				break
			}
			if child.Name == compTimezoneDaylite && fallback == nil {
				fallback = child
			}
		}
		if fallback != nil {
			offset, err := parseOffset(fallback.Prop("TZOFFSETTO"))
			if err == nil {
				return time.FixedZone(tzid, offset), nil
			}
		}
	}
	return nil, fmt.Errorf("unknown timezone %q", tzid)
}

// findTimezone returns the carried definition for tzid.
func findTimezone(timezones []RawComponent, tzid string) (RawComponent, bool) {
	for _, tz := range timezones {
		if tz.Prop("TZID") == tzid {
			return tz, true
		}
	}
	return RawComponent{}, false
}

// synthesizeTimezone builds a VTIMEZONE for an Olson zone from the Go zone
// database, describing the transitions of the year around the given instant
// as yearly rules.
func synthesizeTimezone(tzid string, around time.Time) (RawComponent, bool) {
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return RawComponent{}, false
	}
	tz := RawComponent{Name: compTimezone, Props: []ExtProp{{Name: "TZID", Value: tzid}}}

	yearStart := time.Date(around.Year(), 1, 1, 0, 0, 0, 0, loc)
	yearEnd := yearStart.AddDate(1, 0, 0)
	name, prevOffset := yearStart.Zone()

	prev := yearStart
	for day := yearStart.AddDate(0, 0, 1); !day.After(yearEnd); day = day.AddDate(0, 0, 1) {
		_, offset := day.Zone()
		if offset != prevOffset {
			// binary search for the first second with the new offset
			lo, hi := prev.Unix(), day.Unix()
			for hi-lo > 1 {
				mid := lo + (hi-lo)/2
				if _, o := time.Unix(mid, 0).In(loc).Zone(); o == prevOffset {
					lo = mid
				} else {
					hi = mid
				}
			}
			at := time.Unix(hi, 0).In(loc)
			tzName, _ := at.Zone()
			tz.Children = append(tz.Children, observance(at, prevOffset, offset, tzName))
			prevOffset = offset
		}
		prev = day
	}

	if len(tz.Children) == 0 {
		tz.Children = append(tz.Children, RawComponent{
			Name: compTimezoneStd,
			Props: []ExtProp{
				{Name: "DTSTART", Value: "19700101T000000"},
				{Name: "TZOFFSETFROM", Value: formatOffset(prevOffset)},
				{Name: "TZOFFSETTO", Value: formatOffset(prevOffset)},
				{Name: "TZNAME", Value: name},
			},
		})
	}
	return tz, true
}

func observance(at time.Time, from, to int, tzName string) RawComponent {
	kind := compTimezoneStd
	if to > from {
		kind = compTimezoneDaylite
	}
	// DTSTART is expressed in the wall-clock time in effect before the transition
	local := at.In(time.FixedZone("", from))
	day := local.Day()
	ordinal := strconv.Itoa((day-1)/7 + 1)
	if day+7 > daysIn(local.Month(), local.Year()) {
		ordinal = "-1"
	}
	weekday := strings.ToUpper(local.Weekday().String()[:2])
	return RawComponent{
		Name: kind,
		Props: []ExtProp{
			{Name: "DTSTART", Value: local.Format(dateTimeLayout)},
			{Name: "RRULE", Value: fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%s%s", int(local.Month()), ordinal, weekday)},
			{Name: "TZOFFSETFROM", Value: formatOffset(from)},
			{Name: "TZOFFSETTO", Value: formatOffset(to)},
			{Name: "TZNAME", Value: tzName},
		},
	}
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func formatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if s != 0 {
		return fmt.Sprintf("%s%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%s%02d%02d", sign, h, m)
}

func parseOffset(v string) (int, error) {
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("invalid UTC offset %q", v)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("invalid UTC offset %q", v)
	}
	h, err := strconv.Atoi(v[1:3])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(v[3:5])
	if err != nil {
		return 0, err
	}
	s := 0
	if len(v) == 7 {
		if s, err = strconv.Atoi(v[5:7]); err != nil {
			return 0, err
		}
	}
	return sign * (h*3600 + m*60 + s), nil
}
