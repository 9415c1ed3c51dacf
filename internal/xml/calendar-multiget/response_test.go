package calendarmultiget

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/caldora/internal/xml/propfind"
)

func TestParseRequest(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <D:href>/caldav/alice/cal/work/j%C3%B6rg%40example.com.ics</D:href>
  <D:href>
    plain.ics
  </D:href>
  <D:href>uid-only</D:href>
</C:calendar-multiget>`))

	req, hrefs, err := ParseRequest(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"getetag", "calendar-data"}, req.Names)
	assert.Equal(t, []string{
		"/caldav/alice/cal/work/j%C3%B6rg%40example.com.ics",
		"plain.ics",
		"uid-only",
	}, hrefs)
}

func TestParseRequest_NoHrefs(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav"><D:prop><D:getetag/></D:prop></C:calendar-multiget>`))
	_, hrefs, err := ParseRequest(doc)
	require.NoError(t, err)
	assert.NotNil(t, hrefs)
	assert.Empty(t, hrefs)
}

func TestParseRequest_WrongRoot(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<C:calendar-query xmlns:C="urn:ietf:params:xml:ns:caldav"/>`))
	_, _, err := ParseRequest(doc)
	assert.ErrorIs(t, err, propfind.ErrBadRequest)
}
