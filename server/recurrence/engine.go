package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"
)

// Engine provides unified recurrence expansion and validation logic.
// Every operation walks the rule lazily and stops at its configured bound,
// so a rule's COUNT never decides how much work is done.
type Engine struct {
	opts ExpansionOptions
}

// NewEngine creates a new recurrence engine instance
func NewEngine() *Engine {
	return &Engine{opts: DefaultExpansionOptions}
}

// NewEngineWithOptions creates an engine with custom expansion limits
func NewEngineWithOptions(opts ExpansionOptions) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// ValidateRule reports whether an RRULE value can be parsed.
func ValidateRule(rruleStr string) error {
	if _, err := rrule.StrToROption(rruleStr); err != nil {
		return fmt.Errorf("invalid RRULE '%s': %w", rruleStr, err)
	}
	return nil
}

// Positions returns the recurrence positions of the series, EXDATEs
// included, up to MaxOccurrences. The master start is always the first
// position. Rules without COUNT or UNTIL stop at the MaxTimeSpan horizon.
func (e *Engine) Positions(masterStart time.Time, recurrence RecurrenceInfo) ([]time.Time, error) {
	positions := []time.Time{masterStart}

	if recurrence.RRULE != "" {
		rule, bounded, err := e.rule(masterStart, recurrence.RRULE)
		if err != nil {
			return nil, err
		}
		horizon := masterStart.Add(e.opts.MaxTimeSpan)
		next := rule.Iterator()
		for steps := 0; steps < e.opts.MaxOccurrences; steps++ {
			t, ok := next()
			if !ok || (!bounded && t.After(horizon)) {
				break
			}
			positions = append(positions, t)
		}
	}
	positions = append(positions, recurrence.RDATE...)

	sort.Slice(positions, func(i, j int) bool { return positions[i].Before(positions[j]) })

	// dedupe, the rule normally repeats DTSTART
	out := positions[:0]
	for i, p := range positions {
		if i > 0 && p.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}

	if len(out) > e.opts.MaxOccurrences {
		out = out[:e.opts.MaxOccurrences]
	}
	return out, nil
}

// Expand returns the effective occurrences of the series: all positions
// minus the ones removed by EXDATE.
func (e *Engine) Expand(masterStart time.Time, recurrence RecurrenceInfo) ([]time.Time, error) {
	positions, err := e.Positions(masterStart, recurrence)
	if err != nil {
		return nil, err
	}
	occurrences := make([]time.Time, 0, len(positions))
	for _, p := range positions {
		if !isExcluded(p, recurrence.EXDATE, recurrence.AllDay) {
			occurrences = append(occurrences, p)
		}
	}
	return occurrences, nil
}

// MatchPositions reports for each of ts whether it is a recurrence position
// of the series. The rule is walked once, up to the latest of ts;
// ErrScanLimit is returned when that takes more than MaxScan steps.
func (e *Engine) MatchPositions(masterStart time.Time, recurrence RecurrenceInfo, ts []time.Time) ([]bool, error) {
	found := make([]bool, len(ts))
	pending := len(ts)
	var latest time.Time
	index := make(map[string][]int, len(ts))
	keys := func(t time.Time) []string {
		k := []string{strconv.FormatInt(t.UnixNano(), 10)}
		if recurrence.AllDay {
			k = append(k, t.Format(time.DateOnly))
		}
		return k
	}
	for i, t := range ts {
		for _, k := range keys(t) {
			index[k] = append(index[k], i)
		}
		if t.After(latest) {
			latest = t
		}
	}
	mark := func(p time.Time) {
		for _, k := range keys(p) {
			for _, i := range index[k] {
				if !found[i] {
					found[i] = true
					pending--
				}
			}
		}
	}
	mark(masterStart)
	for _, r := range recurrence.RDATE {
		mark(r)
	}
	if recurrence.RRULE == "" || pending == 0 {
		return found, nil
	}
	// date-only positions may sit up to a day off in another zone
	if recurrence.AllDay {
		latest = latest.Add(24 * time.Hour)
	}
	err := e.walk(masterStart, recurrence.RRULE, func(p time.Time) bool {
		mark(p)
		return pending > 0 && !p.After(latest)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// HasOccurrenceInRange checks if a recurring event has any occurrence in the
// time range. Occurrences last as long as the master. The walk ends at the
// range end; ErrScanLimit is returned when it would take more than MaxScan
// steps to get there.
func (e *Engine) HasOccurrenceInRange(
	masterStart, masterEnd time.Time,
	recurrence RecurrenceInfo,
	rangeStart, rangeEnd time.Time,
) (bool, error) {
	duration := masterEnd.Sub(masterStart)
	overlaps := func(start time.Time) bool {
		if isExcluded(start, recurrence.EXDATE, recurrence.AllDay) {
			return false
		}
		end := start.Add(duration)
		if duration == 0 {
			return !start.Before(rangeStart) && start.Before(rangeEnd)
		}
		return start.Before(rangeEnd) && end.After(rangeStart)
	}

	if overlaps(masterStart) {
		return true, nil
	}
	for _, r := range recurrence.RDATE {
		if overlaps(r) {
			return true, nil
		}
	}
	if recurrence.RRULE == "" {
		return false, nil
	}
	found := false
	err := e.walk(masterStart, recurrence.RRULE, func(p time.Time) bool {
		if !p.Before(rangeEnd) {
			return false
		}
		if overlaps(p) {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, fmt.Errorf("failed to check RRULE occurrences: %w", err)
	}
	return found, nil
}

// walk feeds rule instances to fn in order until fn returns false or the
// rule ends. It fails with ErrScanLimit once MaxScan instances were seen.
func (e *Engine) walk(masterStart time.Time, rruleStr string, fn func(time.Time) bool) error {
	rule, _, err := e.rule(masterStart, rruleStr)
	if err != nil {
		return err
	}
	next := rule.Iterator()
	for steps := 0; ; steps++ {
		if steps >= e.opts.MaxScan {
			return ErrScanLimit
		}
		t, ok := next()
		if !ok || !fn(t) {
			return nil
		}
	}
}

// rule builds an RRULE anchored at masterStart. bounded reports whether the
// rule carries its own end (COUNT or UNTIL).
func (e *Engine) rule(masterStart time.Time, rruleStr string) (*rrule.RRule, bool, error) {
	opt, err := rrule.StrToROptionInLocation(rruleStr, masterStart.Location())
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse RRULE '%s': %w", rruleStr, err)
	}
	opt.Dtstart = masterStart

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build RRULE '%s': %w", rruleStr, err)
	}
	return rule, opt.Count > 0 || !opt.Until.IsZero(), nil
}

// isExcluded checks if a given time is in the EXDATE list
func isExcluded(t time.Time, exdates []time.Time, allDay bool) bool {
	for _, exdate := range exdates {
		if sameInstant(t, exdate, allDay) {
			return true
		}
	}
	return false
}

// sameInstant compares two positions; date-only series compare by calendar day.
func sameInstant(a, b time.Time, allDay bool) bool {
	if a.Equal(b) {
		return true
	}
	if allDay {
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd
	}
	return false
}
