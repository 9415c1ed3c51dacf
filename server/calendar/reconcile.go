package calendar

import (
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
)

// RecurrenceInfo returns the series definition of o in the form the
// recurrence engine expands.
func RecurrenceInfo(o Object) recurrence.RecurrenceInfo {
	info := recurrence.RecurrenceInfo{
		RDATE:  o.RDates,
		EXDATE: o.ExDates,
		AllDay: o.AllDay,
	}
	if o.Rule != nil {
		info.RRULE = o.Rule.String()
	}
	return info
}

// Reconcile drops exception dates and overrides that do not fall on a
// recurrence position of the object's current rule, and reports how many
// entries were removed. A non-recurring object keeps neither.
func Reconcile(o Object) (Object, int) {
	if len(o.ExDates) == 0 && len(o.Overrides) == 0 {
		return o, 0
	}
	if !o.IsRecurring() || o.Start.IsZero() {
		removed := len(o.ExDates) + len(o.Overrides)
		o.ExDates, o.Overrides = nil, nil
		return o, removed
	}

	info := RecurrenceInfo(o)
	info.EXDATE = nil
	refs := make([]time.Time, 0, len(o.ExDates)+len(o.Overrides))
	refs = append(refs, o.ExDates...)
	for _, occ := range o.Overrides {
		refs = append(refs, occ.RecurrenceID)
	}
	found, err := recurrence.NewEngine().MatchPositions(o.Start, info, refs)
	if err != nil {
		// an unexpandable rule, or positions too far out to check, keeps
		// what the client sent
		return o, 0
	}

	removed := 0
	exdates := o.ExDates[:0:0]
	for i, t := range o.ExDates {
		if found[i] {
			exdates = append(exdates, t)
		} else {
			removed++
		}
	}
	overrides := o.Overrides[:0:0]
	for i, occ := range o.Overrides {
		if found[len(o.ExDates)+i] {
			overrides = append(overrides, occ)
		} else {
			removed++
		}
	}
	if len(exdates) == 0 {
		exdates = nil
	}
	if len(overrides) == 0 {
		overrides = nil
	}
	o.ExDates, o.Overrides = exdates, overrides
	return o, removed
}
