package recurrence

import (
	"errors"
	"time"
)

// ErrScanLimit is returned when answering a question would take more rule
// steps than the engine allows.
var ErrScanLimit = errors.New("recurrence scan limit exceeded")

// RecurrenceInfo contains all recurrence-related information for a series master
type RecurrenceInfo struct {
	RRULE  string      // The RRULE value (without "RRULE:" prefix)
	RDATE  []time.Time // Additional recurrence dates
	EXDATE []time.Time // Exception dates (excluded occurrences)
	// AllDay marks date-only series; positions are compared by calendar date.
	AllDay bool
}

// ExpansionOptions controls how recurrence expansion behaves. Zero fields
// take the value from DefaultExpansionOptions.
type ExpansionOptions struct {
	MaxOccurrences int           // Maximum number of occurrences Positions and Expand return
	MaxTimeSpan    time.Duration // Horizon past the master start for rules without COUNT or UNTIL
	MaxScan        int           // Rule steps MatchPositions and HasOccurrenceInRange may walk
}

// DefaultExpansionOptions provides sensible defaults for expansion
var DefaultExpansionOptions = ExpansionOptions{
	MaxOccurrences: 1000,
	MaxTimeSpan:    365 * 24 * time.Hour * 2, // 2 years
	MaxScan:        100000,
}

func (o ExpansionOptions) withDefaults() ExpansionOptions {
	if o.MaxOccurrences <= 0 {
		o.MaxOccurrences = DefaultExpansionOptions.MaxOccurrences
	}
	if o.MaxTimeSpan <= 0 {
		o.MaxTimeSpan = DefaultExpansionOptions.MaxTimeSpan
	}
	if o.MaxScan <= 0 {
		o.MaxScan = DefaultExpansionOptions.MaxScan
	}
	return o
}
