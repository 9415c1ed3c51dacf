package calendar

import "strings"

// Profile captures the iCalendar quirks a family of clients expects.
type Profile struct {
	Name string
	// RequireVTimezone rejects TZID references without a carried VTIMEZONE.
	RequireVTimezone bool
	// EmitVTimezone writes a VTIMEZONE for every TZID in the output,
	// synthesizing one when the object carries none.
	EmitVTimezone bool
	// UTCOnly converts zoned date-times to UTC and omits VTIMEZONE.
	UTCOnly bool
}

// DefaultProfile is used for clients not found in the capability table.
var DefaultProfile = Profile{Name: "default", EmitVTimezone: true}

// profileTable is matched in order against the User-Agent header.
var profileTable = []struct {
	match   string
	profile Profile
}{
	{"Thunderbird", Profile{Name: "thunderbird", RequireVTimezone: true, EmitVTimezone: true}},
	{"Lightning", Profile{Name: "thunderbird", RequireVTimezone: true, EmitVTimezone: true}},
	{"DAVx5", Profile{Name: "davx5", EmitVTimezone: true}},
	{"Evolution", Profile{Name: "evolution", RequireVTimezone: true, EmitVTimezone: true}},
	{"CalDavSynchronizer", Profile{Name: "outlook", UTCOnly: true}},
	{"dataaccessd", Profile{Name: "apple", EmitVTimezone: true}},
	{"CalendarAgent", Profile{Name: "apple", EmitVTimezone: true}},
	{"macOS/", Profile{Name: "apple", EmitVTimezone: true}},
	{"iOS/", Profile{Name: "apple", EmitVTimezone: true}},
}

// ProfileFor selects the capability profile for a User-Agent string.
func ProfileFor(userAgent string) Profile {
	for _, entry := range profileTable {
		if strings.Contains(userAgent, entry.match) {
			return entry.profile
		}
	}
	return DefaultProfile
}
