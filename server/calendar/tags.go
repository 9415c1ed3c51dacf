package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ETag returns the entity tag of an object. It changes whenever any visible
// attribute changes; LAST-MODIFIED alone does not count.
func ETag(o Object) string {
	c := o.Clone()
	c.LastMod = time.Time{}
	if c.Rule != nil {
		c.Rule.Interval = c.Rule.EffectiveInterval()
	}
	return fingerprint(c)
}

// ScheduleTag returns a tag over the scheduling-relevant attributes only:
// organizer, attendees with their status, timing and recurrence.
func ScheduleTag(o Object) string {
	return fingerprint(schedulingView(o))
}

type scheduledOccurrence struct {
	RecurrenceID time.Time
	Start, End   time.Time
	Attendees    []Participant
}

type scheduling struct {
	Organizer  *Participant
	Attendees  []Participant
	Start, End time.Time
	AllDay     bool
	TZID       string
	Rule       *Rule
	ExDates    []time.Time
	RDates     []time.Time
	Overrides  []scheduledOccurrence
}

func schedulingView(o Object) scheduling {
	s := scheduling{
		Organizer: o.Organizer,
		Attendees: o.Attendees,
		Start:     o.Start.UTC(),
		End:       o.End.UTC(),
		AllDay:    o.AllDay,
		TZID:      o.TZID,
		ExDates:   utcTimes(o.ExDates),
		RDates:    utcTimes(o.RDates),
	}
	if o.Rule != nil {
		r := o.Rule.clone()
		r.Interval = r.EffectiveInterval()
		r.Until = r.Until.UTC()
		s.Rule = &r
	}
	for _, occ := range o.Overrides {
		s.Overrides = append(s.Overrides, scheduledOccurrence{
			RecurrenceID: occ.RecurrenceID.UTC(),
			Start:        occ.Start.UTC(),
			End:          occ.End.UTC(),
			Attendees:    occ.Attendees,
		})
	}
	return s
}

// MergeScheduling applies incoming to stored while keeping every
// scheduling-relevant attribute of stored. Attendees use it to change alarms
// or other personal data without touching what the organizer owns.
func MergeScheduling(stored, incoming Object) Object {
	out := incoming.Clone()
	base := stored.Clone()
	out.UID = base.UID
	out.Organizer = base.Organizer
	out.Attendees = base.Attendees
	out.Start, out.End = base.Start, base.End
	out.AllDay = base.AllDay
	out.TZID = base.TZID
	out.Rule = base.Rule
	out.ExDates = base.ExDates
	out.RDates = base.RDates

	incomingByID := make(map[int64]Occurrence, len(out.Overrides))
	for _, occ := range out.Overrides {
		incomingByID[occ.RecurrenceID.Unix()] = occ
	}
	merged := make([]Occurrence, 0, len(base.Overrides))
	for _, occ := range base.Overrides {
		if in, ok := incomingByID[occ.RecurrenceID.Unix()]; ok {
			in.RecurrenceID = occ.RecurrenceID
			in.Start, in.End = occ.Start, occ.End
			in.Attendees = occ.Attendees
			occ = in
		}
		merged = append(merged, occ)
	}
	out.Overrides = merged
	return out
}

func fingerprint(v any) string {
	// the model has no channels, funcs or cyclic pointers, so Marshal cannot fail
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func utcTimes(in []time.Time) []time.Time {
	if in == nil {
		return nil
	}
	out := make([]time.Time, len(in))
	for i, t := range in {
		out[i] = t.UTC()
	}
	return out
}
