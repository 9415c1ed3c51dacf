package calendarquery

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	"github.com/cyp0633/caldora/server/storage"
)

// ParseFilterElement parses a <filter> element into a Filter structure
func ParseFilterElement(filterElem *etree.Element) (*storage.Filter, error) {
	if filterElem == nil {
		return nil, nil
	}

	compFilters := xml.Children(filterElem, "comp-filter")
	if len(compFilters) == 0 {
		return nil, nil
	}
	if len(compFilters) > 1 {
		return nil, fmt.Errorf("filter has %d top-level comp-filters: %w", len(compFilters), propfind.ErrBadRequest)
	}
	return parseCompFilter(compFilters[0])
}

// parseCompFilter recursively parses a comp-filter element
func parseCompFilter(compFilterElem *etree.Element) (*storage.Filter, error) {
	filter := &storage.Filter{
		Component: strings.ToUpper(compFilterElem.SelectAttrValue("name", "")),
		Test:      compFilterElem.SelectAttrValue("test", "anyof"),
	}
	if filter.Component == "" {
		return nil, fmt.Errorf("comp-filter without name: %w", propfind.ErrBadRequest)
	}

	if xml.Child(compFilterElem, "is-not-defined") != nil {
		filter.IsNotDefined = true
		return filter, nil // If is-not-defined is present, other elements should not be
	}

	if timeRangeElem := xml.Child(compFilterElem, "time-range"); timeRangeElem != nil {
		tr, err := parseTimeRange(timeRangeElem)
		if err != nil {
			return nil, err
		}
		filter.TimeRange = tr
	}

	for _, propFilterElem := range xml.Children(compFilterElem, "prop-filter") {
		filter.PropFilters = append(filter.PropFilters, parsePropFilter(propFilterElem))
	}

	for _, nestedElem := range xml.Children(compFilterElem, "comp-filter") {
		nested, err := parseCompFilter(nestedElem)
		if err != nil {
			return nil, err
		}
		filter.Children = append(filter.Children, *nested)
	}

	return filter, nil
}

// parsePropFilter parses a prop-filter element
func parsePropFilter(propFilterElem *etree.Element) storage.PropFilter {
	propFilter := storage.PropFilter{
		Name: strings.ToUpper(propFilterElem.SelectAttrValue("name", "")),
		Test: propFilterElem.SelectAttrValue("test", "anyof"),
	}

	if xml.Child(propFilterElem, "is-not-defined") != nil {
		propFilter.IsNotDefined = true
		return propFilter
	}

	if textMatchElem := xml.Child(propFilterElem, "text-match"); textMatchElem != nil {
		propFilter.TextMatch = parseTextMatch(textMatchElem)
	}

	for _, paramFilterElem := range xml.Children(propFilterElem, "param-filter") {
		propFilter.ParamFilters = append(propFilter.ParamFilters, parseParamFilter(paramFilterElem))
	}

	return propFilter
}

// parseParamFilter parses a param-filter element
func parseParamFilter(paramFilterElem *etree.Element) storage.ParamFilter {
	paramFilter := storage.ParamFilter{
		Name: strings.ToUpper(paramFilterElem.SelectAttrValue("name", "")),
	}

	if xml.Child(paramFilterElem, "is-not-defined") != nil {
		paramFilter.IsNotDefined = true
		return paramFilter
	}

	if textMatchElem := xml.Child(paramFilterElem, "text-match"); textMatchElem != nil {
		paramFilter.TextMatch = parseTextMatch(textMatchElem)
	}

	return paramFilter
}

// parseTextMatch parses a text-match element
func parseTextMatch(textMatchElem *etree.Element) *storage.TextMatch {
	return &storage.TextMatch{
		Collation: textMatchElem.SelectAttrValue("collation", "i;ascii-casemap"),
		MatchType: textMatchElem.SelectAttrValue("match-type", "contains"),
		Negate:    textMatchElem.SelectAttrValue("negate-condition", "no") == "yes",
		Value:     textMatchElem.Text(),
	}
}

// parseTimeRange parses a time-range element. Both bounds are UTC
// date-times; at least one must be present.
func parseTimeRange(timeRangeElem *etree.Element) (*storage.TimeRange, error) {
	timeRange := &storage.TimeRange{}

	for _, bound := range []struct {
		attr string
		dst  **time.Time
	}{{"start", &timeRange.Start}, {"end", &timeRange.End}} {
		v := timeRangeElem.SelectAttrValue(bound.attr, "")
		if v == "" {
			continue
		}
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return nil, fmt.Errorf("time-range %s %q: %w", bound.attr, v, propfind.ErrBadRequest)
		}
		*bound.dst = &t
	}
	if timeRange.Start == nil && timeRange.End == nil {
		return nil, fmt.Errorf("time-range without bounds: %w", propfind.ErrBadRequest)
	}
	if timeRange.Start != nil && timeRange.End != nil && !timeRange.End.After(*timeRange.Start) {
		return nil, fmt.Errorf("time-range ends before it starts: %w", propfind.ErrBadRequest)
	}
	return timeRange, nil
}
