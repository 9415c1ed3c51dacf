package calendar

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ics(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

const berlinTimezone = "BEGIN:VTIMEZONE\r\nTZID:Europe/Berlin\r\n" +
	"BEGIN:DAYLIGHT\r\nDTSTART:19700329T020000\r\nRRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU\r\n" +
	"TZOFFSETFROM:+0100\r\nTZOFFSETTO:+0200\r\nTZNAME:CEST\r\nEND:DAYLIGHT\r\n" +
	"BEGIN:STANDARD\r\nDTSTART:19701025T030000\r\nRRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU\r\n" +
	"TZOFFSETFROM:+0200\r\nTZOFFSETTO:+0100\r\nTZNAME:CET\r\nEND:STANDARD\r\n" +
	"END:VTIMEZONE"

func TestDecodeEncode_RoundTrip(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		berlinTimezone,
		"BEGIN:VEVENT",
		"UID:round-trip@example.com",
		"DTSTAMP:20240301T080000Z",
		"DTSTART;TZID=Europe/Berlin:20240304T100000",
		"DTEND;TZID=Europe/Berlin:20240304T110000",
		"SUMMARY:Grüße aus Köln 日本語",
		"CATEGORIES:Work,Ünïcode",
		"RRULE:FREQ=WEEKLY;COUNT=5",
		"ORGANIZER;CN=Anna:mailto:anna@example.com",
		"ATTENDEE;CN=Bob;PARTSTAT=ACCEPTED;X-NUM-GUESTS=0:mailto:bob@example.com",
		"X-CUSTOM-PROP;X-LABEL=Schön:Ünïcødé value ✓",
		"X-APPLE-STRUCTURED-LOCATION;VALUE=URI;X-APPLE-RADIUS=70;X-TITLE=Büro:geo:52.5,13.4",
		"X-MOZ-LASTACK:20240301T080000Z",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER;RELATED=START:-PT15M",
		"DESCRIPTION:Reminder",
		"X-WR-ALARMUID:alarm-1",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	first, err := Decode(body, DecodeOptions{Profile: DefaultProfile})
	require.NoError(t, err)

	assert.Equal(t, "round-trip@example.com", first.UID)
	assert.Equal(t, KindEvent, first.Kind)
	assert.Equal(t, "Grüße aus Köln 日本語", first.Summary)
	assert.Equal(t, []string{"Work", "Ünïcode"}, first.Categories)
	assert.Equal(t, "Europe/Berlin", first.TZID)
	assert.True(t, first.Start.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, berlin(t))))
	require.NotNil(t, first.Rule)
	assert.Equal(t, FreqWeekly, first.Rule.Freq)
	assert.Equal(t, 5, first.Rule.Count)
	require.NotNil(t, first.Organizer)
	assert.Equal(t, "anna@example.com", first.Organizer.Email)
	require.Len(t, first.Attendees, 1)
	assert.Equal(t, PartStatAccepted, first.Attendees[0].PartStat)
	assert.Equal(t, []Param{{Name: "X-NUM-GUESTS", Values: []string{"0"}}}, first.Attendees[0].Extra)
	require.Len(t, first.Alarms, 1)
	assert.Equal(t, "-PT15M", first.Alarms[0].Trigger)
	assert.Len(t, first.Timezones, 1)

	custom, ok := first.Extension("X-CUSTOM-PROP")
	require.True(t, ok)
	assert.Equal(t, "Ünïcødé value ✓", custom.Value)
	assert.Equal(t, "Schön", custom.Param("X-LABEL"))

	loc, ok := first.Extension("X-APPLE-STRUCTURED-LOCATION")
	require.True(t, ok)
	assert.Equal(t, "geo:52.5,13.4", loc.Value)
	assert.Equal(t, "70", loc.Param("X-APPLE-RADIUS"))
	assert.Equal(t, "Büro", loc.Param("X-TITLE"))

	text, err := Encode(first, EncodeOptions{Profile: DefaultProfile})
	require.NoError(t, err)
	assert.Contains(t, text, "DTSTART;TZID=Europe/Berlin:20240304T100000")
	assert.Contains(t, text, "Ünïcødé value ✓")

	second, err := Decode(text, DecodeOptions{Profile: DefaultProfile})
	require.NoError(t, err)
	assert.Equal(t, ETag(first), ETag(second), "round trip must not change the object")
	assert.Equal(t, first.Extensions, second.Extensions)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		component string
	}{
		{
			name: "empty body",
			body: "",
		},
		{
			name: "unbalanced component",
			body: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//Test//Test//EN",
				"BEGIN:VEVENT",
				"UID:broken",
				"END:VCALENDAR",
			),
			component: "VEVENT",
		},
		{
			name: "missing end",
			body: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//Test//Test//EN",
			),
			component: "VCALENDAR",
		},
		{
			name: "missing uid",
			body: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//Test//Test//EN",
				"BEGIN:VEVENT",
				"DTSTAMP:20240301T080000Z",
				"DTSTART:20240301T090000Z",
				"END:VEVENT",
				"END:VCALENDAR",
			),
			component: "VEVENT",
		},
		{
			name: "missing dtstamp",
			body: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//Test//Test//EN",
				"BEGIN:VEVENT",
				"UID:no-stamp",
				"DTSTART:20240301T090000Z",
				"END:VEVENT",
				"END:VCALENDAR",
			),
			component: "VEVENT",
		},
		{
			name: "mixed uids",
			body: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:-//Test//Test//EN",
				"BEGIN:VEVENT",
				"UID:a",
				"DTSTAMP:20240301T080000Z",
				"DTSTART:20240301T090000Z",
				"RRULE:FREQ=DAILY;COUNT=3",
				"END:VEVENT",
				"BEGIN:VEVENT",
				"UID:b",
				"DTSTAMP:20240301T080000Z",
				"RECURRENCE-ID:20240302T090000Z",
				"DTSTART:20240302T100000Z",
				"END:VEVENT",
				"END:VCALENDAR",
			),
			component: "VEVENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.body, DecodeOptions{})
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			if tt.component != "" {
				assert.Equal(t, tt.component, perr.Component)
			}
		})
	}
}

func TestDecode_NoEventOrTask(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"END:VCALENDAR",
	)
	_, err := Decode(body, DecodeOptions{})
	assert.ErrorIs(t, err, ErrUnprocessable)
}

func TestDecode_FloatingTimeUsesDefaultLocation(t *testing.T) {
	loc := berlin(t)
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VEVENT",
		"UID:floating",
		"DTSTAMP:20240301T080000Z",
		"DTSTART:20240301T100000",
		"DURATION:PT90M",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	obj, err := Decode(body, DecodeOptions{DefaultLocation: loc})
	require.NoError(t, err)
	assert.True(t, obj.Start.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, loc)))
	assert.Equal(t, 90*time.Minute, obj.End.Sub(obj.Start))
	assert.Empty(t, obj.TZID)
}

func TestDecode_VendorTimezoneID(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VEVENT",
		"UID:mozilla-tz",
		"DTSTAMP:20240301T080000Z",
		"DTSTART;TZID=/mozilla.org/20050126_1/Europe/Berlin:20240701T100000",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	obj, err := Decode(body, DecodeOptions{})
	require.NoError(t, err)
	assert.True(t, obj.Start.Equal(time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)))
}

func TestDecode_RequireVTimezone(t *testing.T) {
	event := []string{
		"BEGIN:VEVENT",
		"UID:tz-required",
		"DTSTAMP:20240301T080000Z",
		"DTSTART;TZID=Europe/Berlin:20240301T100000",
		"END:VEVENT",
	}
	without := ics(append(append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Test//EN"}, event...), "END:VCALENDAR")...)
	with := ics(append(append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Test//EN", berlinTimezone}, event...), "END:VCALENDAR")...)

	thunderbird := ProfileFor("Mozilla/5.0 Thunderbird/115.0")

	_, err := Decode(without, DecodeOptions{Profile: thunderbird})
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "VTIMEZONE", perr.Component)

	_, err = Decode(with, DecodeOptions{Profile: thunderbird})
	assert.NoError(t, err)

	_, err = Decode(without, DecodeOptions{Profile: DefaultProfile})
	assert.NoError(t, err)
}

func TestDecode_InvalidTimezoneDefinition(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VTIMEZONE",
		"TZID:Broken/Zone",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:bad-tz",
		"DTSTAMP:20240301T080000Z",
		"DTSTART:20240301T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	_, err := Decode(body, DecodeOptions{})
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "VTIMEZONE", perr.Component)
}

func TestTranspMapping(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VEVENT",
		"UID:transp",
		"DTSTAMP:20240301T080000Z",
		"DTSTART:20240301T100000Z",
		"TRANSP:TRANSPARENT",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	obj, err := Decode(body, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, VisibilityFree, obj.Visibility)

	obj.Visibility = VisibilityTentative
	text, err := Encode(obj, EncodeOptions{})
	require.NoError(t, err)
	assert.Contains(t, text, "TRANSP:OPAQUE")

	back, err := Decode(text, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, VisibilityBusy, back.Visibility)
}

func TestDecode_RuleChangeDropsStaleExceptions(t *testing.T) {
	series := func(rule string) string {
		return ics(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//Test//Test//EN",
			"BEGIN:VEVENT",
			"UID:series",
			"DTSTAMP:20240301T080000Z",
			"DTSTART:20240304T090000Z",
			"DTEND:20240304T100000Z",
			"RRULE:"+rule,
			"EXDATE:20240318T090000Z",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:series",
			"DTSTAMP:20240301T080000Z",
			"RECURRENCE-ID:20240311T090000Z",
			"DTSTART:20240311T140000Z",
			"DTEND:20240311T150000Z",
			"SUMMARY:Moved",
			"END:VEVENT",
			"END:VCALENDAR",
		)
	}

	weekly, err := Decode(series("FREQ=WEEKLY;COUNT=4"), DecodeOptions{})
	require.NoError(t, err)
	assert.Len(t, weekly.ExDates, 1)
	require.Len(t, weekly.Overrides, 1)
	assert.Equal(t, "Moved", weekly.Overrides[0].Summary)

	daily, err := Decode(series("FREQ=DAILY;COUNT=3"), DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, daily.ExDates)
	assert.Empty(t, daily.Overrides)

	weekly.Rule = &Rule{Freq: FreqDaily, Interval: 1, Count: 3}
	reconciled, removed := Reconcile(weekly)
	assert.Equal(t, 2, removed)
	assert.Empty(t, reconciled.Overrides)

	text, err := Encode(reconciled, EncodeOptions{})
	require.NoError(t, err)
	assert.NotContains(t, text, "RECURRENCE-ID")
	assert.Contains(t, text, "RRULE:FREQ=DAILY;COUNT=3")
}

func TestTags_DefaultIntervalIsNotAChange(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	implicit := Object{UID: "r", Kind: KindEvent, Start: start, Rule: &Rule{Freq: FreqDaily, Count: 3}}
	explicit := implicit.Clone()
	explicit.Rule.Interval = 1

	assert.Equal(t, ETag(implicit), ETag(explicit))
	assert.Equal(t, ScheduleTag(implicit), ScheduleTag(explicit))
	assert.Equal(t, "FREQ=DAILY;COUNT=3", explicit.Rule.String())

	explicit.Rule.Interval = 2
	assert.NotEqual(t, ETag(implicit), ETag(explicit))
	assert.Equal(t, "FREQ=DAILY;INTERVAL=2;COUNT=3", explicit.Rule.String())
}

func TestDecode_HugeCountStaysBounded(t *testing.T) {
	body := func(rule string, exdates ...string) string {
		lines := []string{
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//Test//Test//EN",
			"BEGIN:VEVENT",
			"UID:busy",
			"DTSTAMP:20240301T080000Z",
			"DTSTART:20240304T090000Z",
			"RRULE:" + rule,
		}
		for _, ex := range exdates {
			lines = append(lines, "EXDATE:"+ex)
		}
		return ics(append(lines, "END:VEVENT", "END:VCALENDAR")...)
	}

	start := time.Now()
	obj, err := Decode(body("FREQ=SECONDLY;COUNT=30000000", "20240304T090010Z", "20250304T090000Z"), DecodeOptions{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	// the far exception is beyond the checked range and kept as sent
	assert.Len(t, obj.ExDates, 2)

	obj, err = Decode(body("FREQ=SECONDLY;INTERVAL=2;COUNT=30000000", "20240304T090001Z", "20240304T090004Z"), DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, obj.ExDates, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 4, 0, time.UTC), obj.ExDates[0].UTC())
}

func TestDecode_AttachmentsStayOpaque(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VEVENT",
		"UID:attach",
		"DTSTAMP:20240301T080000Z",
		"DTSTART:20240301T100000Z",
		"ATTACH;FMTTYPE=text/plain:file:///etc/passwd",
		"ATTACH;FMTTYPE=image/png;ENCODING=BASE64;VALUE=BINARY:iVBORw0KGgo=",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	obj, err := Decode(body, DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, obj.Attachments, 1)
	assert.Equal(t, "file:///etc/passwd", obj.Attachments[0].URI)
	binary, ok := obj.Extension("ATTACH")
	require.True(t, ok)
	assert.Equal(t, "iVBORw0KGgo=", binary.Value)

	text, err := Encode(obj, EncodeOptions{})
	require.NoError(t, err)
	assert.Contains(t, text, "file:///etc/passwd")
	assert.NotContains(t, text, "root:")
}

func TestEncode_TimezoneProfiles(t *testing.T) {
	loc := berlin(t)
	obj := Object{
		UID:   "tz-profile",
		Kind:  KindEvent,
		Start: time.Date(2024, 3, 1, 10, 0, 0, 0, loc),
		End:   time.Date(2024, 3, 1, 11, 0, 0, 0, loc),
		TZID:  "Europe/Berlin",
		Stamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	text, err := Encode(obj, EncodeOptions{Profile: DefaultProfile})
	require.NoError(t, err)
	assert.Contains(t, text, "BEGIN:VTIMEZONE")
	assert.Contains(t, text, "TZID:Europe/Berlin")
	assert.Contains(t, text, "RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU")
	assert.Contains(t, text, "TZOFFSETTO:+0200")
	assert.Contains(t, text, "DTSTART;TZID=Europe/Berlin:20240301T100000")

	back, err := Decode(text, DecodeOptions{Profile: ProfileFor("Thunderbird/115")})
	require.NoError(t, err)
	assert.True(t, back.Start.Equal(obj.Start))

	text, err = Encode(obj, EncodeOptions{Profile: ProfileFor("CalDavSynchronizer/4.4")})
	require.NoError(t, err)
	assert.NotContains(t, text, "VTIMEZONE")
	assert.Contains(t, text, "DTSTART:20240301T090000Z")
}

type staticDirectory map[string]string

func (d staticDirectory) DisplayName(email string) (string, bool) {
	name, ok := d[email]
	return name, ok
}

func TestEncode_DirectoryFillsCommonName(t *testing.T) {
	obj := Object{
		UID:       "directory",
		Kind:      KindEvent,
		Start:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		Organizer: &Participant{Email: "anna@example.com"},
		Attendees: []Participant{{Email: "bob@example.com", Name: "Robert"}},
	}
	text, err := Encode(obj, EncodeOptions{Directory: staticDirectory{"anna@example.com": "Anna Admin", "bob@example.com": "Bob"}})
	require.NoError(t, err)

	back, err := Decode(text, DecodeOptions{})
	require.NoError(t, err)
	require.NotNil(t, back.Organizer)
	assert.Equal(t, "Anna Admin", back.Organizer.Name)
	assert.Equal(t, "Robert", back.Attendees[0].Name, "stored names win over the directory")
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, "thunderbird", ProfileFor("Mozilla/5.0 (X11; Linux x86_64; rv:115.0) Gecko/20100101 Thunderbird/115.0").Name)
	assert.Equal(t, "davx5", ProfileFor("DAVx5/4.3.4-ose (2023/06/28; dav4jvm; okhttp/4.11.0) Android/13").Name)
	assert.Equal(t, "apple", ProfileFor("macOS/14.2 (23C64) CalendarAgent/1000").Name)
	assert.Equal(t, "default", ProfileFor("curl/8.0").Name)
}
