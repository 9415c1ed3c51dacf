package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
)

const (
	workPath = "/caldav/alice/cal/work/"

	mkcalendarBody = `<?xml version="1.0" encoding="utf-8" ?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:A="http://apple.com/ns/ical/">
  <D:set>
    <D:prop>
      <D:displayname>Work</D:displayname>
      <A:calendar-color>#3A87ADFF</A:calendar-color>
      <C:supported-calendar-component-set><C:comp name="VEVENT"/></C:supported-calendar-component-set>
    </D:prop>
  </D:set>
</C:mkcalendar>`
)

type reply struct {
	Code   int
	Header http.Header
	Body   string
}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	store *memory.Store
	log   *changelog.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	store.AddUser(storage.User{ID: "alice", DisplayName: "Alice", UserAddress: "alice@example.com", PreferredTimezone: "Europe/Berlin"}, "alicepw")
	store.AddUser(storage.User{ID: "bob", DisplayName: "Bob", UserAddress: "bob@example.com"}, "bobpw")
	log := changelog.NewMemory()

	h := NewCaldavHandler(Config{
		Prefix:    "/caldav/",
		Storage:   store,
		Auth:      store,
		ChangeLog: log,
		Directory: store,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, store: store, log: log}
}

func (s *testServer) do(user, method, path, body string, headers map[string]string) reply {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(s.t, err)
	if user != "" {
		req.SetBasicAuth(user, user+"pw")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return reply{Code: resp.StatusCode, Header: resp.Header, Body: string(data)}
}

func (s *testServer) put(path, body string, headers map[string]string) reply {
	s.t.Helper()
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers[headerContentType]; !ok {
		headers[headerContentType] = "text/calendar; charset=utf-8"
	}
	return s.do("alice", http.MethodPut, path, body, headers)
}

func (s *testServer) mkWork() {
	s.t.Helper()
	r := s.do("alice", "MKCALENDAR", workPath, mkcalendarBody, nil)
	require.Equal(s.t, http.StatusCreated, r.Code, r.Body)
}

func parseMultistatus(t *testing.T, r reply) *xml.MultistatusResponse {
	t.Helper()
	require.Equal(t, http.StatusMultiStatus, r.Code, r.Body)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(r.Body))
	ms := &xml.MultistatusResponse{}
	require.NoError(t, ms.Parse(doc))
	return ms
}

func findResponse(ms *xml.MultistatusResponse, href string) *xml.Response {
	for i := range ms.Responses {
		if ms.Responses[i].Href == href {
			return &ms.Responses[i]
		}
	}
	return nil
}

func event(uid, summary string) string {
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Example Corp//Client//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240305T100000Z",
		"DTEND:20240305T110000Z",
		"SUMMARY:" + summary,
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
}

func todo(uid string) string {
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Example Corp//Client//EN",
		"BEGIN:VTODO",
		"UID:" + uid,
		"DTSTAMP:20240101T000000Z",
		"SUMMARY:Buy milk",
		"END:VTODO",
		"END:VCALENDAR",
		"",
	}, "\r\n")
}

func syncBody(token string) string {
	return fmt.Sprintf(`<D:sync-collection xmlns:D="DAV:">
  <D:sync-token>%s</D:sync-token>
  <D:sync-level>1</D:sync-level>
  <D:prop><D:getetag/></D:prop>
</D:sync-collection>`, token)
}

func TestAuth_Required(t *testing.T) {
	s := newTestServer(t)

	r := s.do("", "PROPFIND", "/caldav/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.Code)
	assert.Contains(t, r.Header.Get("WWW-Authenticate"), `Basic realm="caldora"`)

	req, err := http.NewRequest("PROPFIND", s.srv.URL+"/caldav/", nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestObjectLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	path := workPath + "standup.ics"

	r := s.put(path, event("standup-1", "Standup"), map[string]string{headerIfNoneMatch: "*"})
	require.Equal(t, http.StatusCreated, r.Code, r.Body)
	etag := r.Header.Get(headerETag)
	require.NotEmpty(t, etag)
	assert.Equal(t, path, r.Header.Get("Location"))

	r = s.do("alice", http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, etag, r.Header.Get(headerETag))
	assert.True(t, strings.HasPrefix(r.Header.Get(headerContentType), "text/calendar"))
	assert.Contains(t, r.Body, "UID:standup-1")
	assert.Contains(t, r.Body, "SUMMARY:Standup")

	r = s.do("alice", http.MethodGet, path, "", map[string]string{headerIfNoneMatch: etag})
	assert.Equal(t, http.StatusNotModified, r.Code)

	r = s.do("alice", http.MethodHead, path, "", nil)
	assert.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, r.Body)

	// create-only on an existing name
	r = s.put(path, event("standup-1", "Standup"), map[string]string{headerIfNoneMatch: "*"})
	assert.Equal(t, http.StatusPreconditionFailed, r.Code)

	r = s.put(path, event("standup-1", "Daily standup"), map[string]string{headerIfMatch: etag})
	require.Equal(t, http.StatusCreated, r.Code, r.Body)
	assert.Empty(t, r.Header.Get("Location"))
	newTag := r.Header.Get(headerETag)
	assert.NotEqual(t, etag, newTag)

	r = s.put(path, event("standup-1", "Stale write"), map[string]string{headerIfMatch: etag})
	assert.Equal(t, http.StatusPreconditionFailed, r.Code)

	r = s.do("alice", http.MethodDelete, path, "", map[string]string{headerIfMatch: etag})
	assert.Equal(t, http.StatusPreconditionFailed, r.Code)

	r = s.do("alice", http.MethodDelete, path, "", map[string]string{headerIfMatch: newTag})
	assert.Equal(t, http.StatusNoContent, r.Code)

	r = s.do("alice", http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
	r = s.do("alice", http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNotFound, r.Code)

	// If-Match never resurrects a deleted object
	r = s.put(path, event("standup-1", "Standup"), map[string]string{headerIfMatch: newTag})
	assert.Equal(t, http.StatusNotFound, r.Code)
}

func TestPut_Rejections(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	r := s.put(workPath+"a.ics", event("a", "A"), map[string]string{headerContentType: "application/json"})
	assert.Equal(t, http.StatusUnsupportedMediaType, r.Code)

	r = s.put("/caldav/alice/cal/missing/a.ics", event("a", "A"), nil)
	assert.Equal(t, http.StatusConflict, r.Code)

	r = s.put(workPath+"a.ics", "", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "valid-calendar-data")

	r = s.put(workPath+"a.ics", "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "valid-calendar-data")

	// the collection only accepts events
	r = s.put(workPath+"milk.ics", todo("milk"), nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "supported-calendar-component")

	r = s.put(workPath+"a.ics", event("dup", "A"), nil)
	require.Equal(t, http.StatusCreated, r.Code, r.Body)
	r = s.put(workPath+"b.ics", event("dup", "B"), nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "no-uid-conflict")

	r = s.do("alice", http.MethodPut, workPath, event("x", "X"), map[string]string{headerContentType: "text/calendar"})
	assert.Equal(t, http.StatusMethodNotAllowed, r.Code)
}

func TestPut_ConcurrentConditionalWrites(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	path := workPath + "race.ics"

	r := s.put(path, event("race", "v0"), nil)
	require.Equal(t, http.StatusCreated, r.Code, r.Body)
	etag := r.Header.Get(headerETag)

	const writers = 10
	codes := make([]int, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPut, s.srv.URL+path, strings.NewReader(event("race", fmt.Sprintf("v%d", i+1))))
			req.SetBasicAuth("alice", "alicepw")
			req.Header.Set(headerContentType, "text/calendar")
			req.Header.Set(headerIfMatch, etag)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			won++
		case http.StatusPreconditionFailed:
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, writers-1, lost)
}

func TestSyncCollection(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	initial := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(""), nil))
	assert.Empty(t, initial.Responses)
	require.NotEmpty(t, initial.SyncToken)

	require.Equal(t, http.StatusCreated, s.put(workPath+"a.ics", event("a", "A"), nil).Code)
	require.Equal(t, http.StatusCreated, s.put(workPath+"b.ics", event("b", "B"), nil).Code)
	require.Equal(t, http.StatusNoContent, s.do("alice", http.MethodDelete, workPath+"a.ics", "", nil).Code)

	delta := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(initial.SyncToken), nil))
	assert.NotEqual(t, initial.SyncToken, delta.SyncToken)
	require.Len(t, delta.Responses, 2)

	b := findResponse(delta, workPath+"b.ics")
	require.NotNil(t, b)
	assert.NotNil(t, b.Prop("getetag"))
	a := findResponse(delta, workPath+"a.ics")
	require.NotNil(t, a)
	assert.Equal(t, http.StatusNotFound, a.Status)

	again := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(delta.SyncToken), nil))
	assert.Empty(t, again.Responses)
	assert.Equal(t, delta.SyncToken, again.SyncToken)

	full := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(""), nil))
	require.Len(t, full.Responses, 1)
	assert.Equal(t, workPath+"b.ics", full.Responses[0].Href)

	r := s.do("alice", "REPORT", workPath, syncBody("http://caldora.invalid/sync/garbage"), nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "valid-sync-token")

	r = s.do("alice", "REPORT", workPath, `<D:sync-collection xmlns:D="DAV:"><D:sync-token/><D:sync-level>infinite</D:sync-level><D:prop/></D:sync-collection>`, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "sync-traversal-supported")
}

func TestSyncCollection_LimitPages(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	initial := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(""), nil))
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, s.put(workPath+name+".ics", event(name, name), nil).Code)
	}

	limited := func(token string) string {
		return fmt.Sprintf(`<D:sync-collection xmlns:D="DAV:">
  <D:sync-token>%s</D:sync-token>
  <D:sync-level>1</D:sync-level>
  <D:limit><D:nresults>2</D:nresults></D:limit>
  <D:prop><D:getetag/></D:prop>
</D:sync-collection>`, token)
	}

	page := parseMultistatus(t, s.do("alice", "REPORT", workPath, limited(initial.SyncToken), nil))
	require.Len(t, page.Responses, 3)
	assert.NotNil(t, findResponse(page, workPath+"a.ics"))
	assert.NotNil(t, findResponse(page, workPath+"b.ics"))
	marker := findResponse(page, workPath)
	require.NotNil(t, marker)
	assert.Equal(t, http.StatusInsufficientStorage, marker.Status)
	require.NotNil(t, marker.Error)
	assert.Equal(t, "number-of-matches-within-limits", marker.Error.Tag)

	rest := parseMultistatus(t, s.do("alice", "REPORT", workPath, limited(page.SyncToken), nil))
	require.Len(t, rest.Responses, 1)
	assert.Equal(t, workPath+"c.ics", rest.Responses[0].Href)

	r := s.do("alice", "REPORT", workPath, limited(""), nil)
	assert.Equal(t, http.StatusInsufficientStorage, r.Code)
	assert.Contains(t, r.Body, "number-of-matches-within-limits")
}

func TestSyncCollection_UnrenderableMemberFailsAlone(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	require.Equal(t, http.StatusCreated, s.put(workPath+"good.ics", event("good", "Good"), nil).Code)
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.store.PutObject(context.Background(), storage.CollectionKey("alice", "work"), storage.StoredObject{
		Name: "broken.ics",
		ETag: `"broken"`,
		Object: calendar.Object{
			UID:       "broken",
			Kind:      calendar.KindEvent,
			Start:     start,
			End:       start.Add(time.Hour),
			Stamp:     start,
			Timezones: []calendar.RawComponent{{Name: "VTIMEZONE"}},
		},
	}))

	body := `<D:sync-collection xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:sync-token/>
  <D:sync-level>1</D:sync-level>
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
</D:sync-collection>`
	ms := parseMultistatus(t, s.do("alice", "REPORT", workPath, body, nil))
	require.Len(t, ms.Responses, 2)
	broken := findResponse(ms, workPath+"broken.ics")
	require.NotNil(t, broken)
	assert.Equal(t, http.StatusInternalServerError, broken.Status)
	good := findResponse(ms, workPath+"good.ics")
	require.NotNil(t, good)
	require.NotNil(t, good.Prop("calendar-data"))
	assert.Contains(t, good.Prop("calendar-data").Text(), "UID:good")
}

func TestSyncCollection_TokenInvalidAfterRecreate(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	require.Equal(t, http.StatusCreated, s.put(workPath+"a.ics", event("a", "A"), nil).Code)
	before := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(""), nil))

	require.Equal(t, http.StatusNoContent, s.do("alice", http.MethodDelete, workPath, "", nil).Code)
	s.mkWork()

	r := s.do("alice", "REPORT", workPath, syncBody(before.SyncToken), nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "valid-sync-token")
}

func TestCalendarMultiget_OddIdentifiers(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	escaped := workPath + "j%C3%B6rg@x%20y%25.ics"
	r := s.put(escaped, event("odd-uid", "Odd"), nil)
	require.Equal(t, http.StatusCreated, r.Code, r.Body)

	body := fmt.Sprintf(`<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <D:href>%s</D:href>
  <D:href>odd-uid</D:href>
  <D:href>%s</D:href>
  <D:href>%smissing.ics</D:href>
</C:calendar-multiget>`, escaped, "http://example.com"+escaped, workPath)

	ms := parseMultistatus(t, s.do("alice", "REPORT", workPath, body, nil))
	require.Len(t, ms.Responses, 4)
	for _, resp := range ms.Responses[:3] {
		assert.Equal(t, escaped, resp.Href)
		data := resp.Prop("calendar-data")
		require.NotNil(t, data)
		assert.Contains(t, data.Text(), "UID:odd-uid")
	}
	assert.Equal(t, workPath+"missing.ics", ms.Responses[3].Href)
	assert.Equal(t, http.StatusNotFound, ms.Responses[3].Status)

	r = s.do("alice", http.MethodGet, escaped, "", nil)
	assert.Equal(t, http.StatusOK, r.Code)
}

func TestCalendarMultiget_EscapedSlashAfterSync(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	slashed := workPath + "a%2Fb.ics"
	require.Equal(t, http.StatusCreated, s.put(slashed, event("slashed", "Slashed"), nil).Code)
	require.Equal(t, http.StatusCreated, s.put(workPath+"b.ics", event("decoy", "Decoy"), nil).Code)

	ms := parseMultistatus(t, s.do("alice", "REPORT", workPath, syncBody(""), nil))
	require.NotNil(t, findResponse(ms, slashed))

	body := fmt.Sprintf(`<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <D:href>%s</D:href>
  <D:href>a%%2Fb.ics</D:href>
  <D:href>http://example.com%s</D:href>
</C:calendar-multiget>`, slashed, slashed)
	ms = parseMultistatus(t, s.do("alice", "REPORT", workPath, body, nil))
	require.Len(t, ms.Responses, 3)
	for _, resp := range ms.Responses {
		assert.Equal(t, slashed, resp.Href)
		data := resp.Prop("calendar-data")
		require.NotNil(t, data)
		assert.Contains(t, data.Text(), "UID:slashed")
	}
}

func TestCalendarQuery_TimeRange(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	require.Equal(t, http.StatusCreated, s.put(workPath+"march.ics", event("march", "March"), nil).Code)

	query := func(start, end string) *xml.MultistatusResponse {
		return parseMultistatus(t, s.do("alice", "REPORT", workPath, fmt.Sprintf(`<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT"><C:time-range start="%s" end="%s"/></C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`, start, end), map[string]string{headerDepth: "1"}))
	}

	hit := query("20240301T000000Z", "20240401T000000Z")
	require.Len(t, hit.Responses, 1)
	assert.Equal(t, workPath+"march.ics", hit.Responses[0].Href)
	assert.NotNil(t, hit.Responses[0].Prop("getetag"))

	miss := query("20240401T000000Z", "20240501T000000Z")
	assert.Empty(t, miss.Responses)
}

func TestReport_Unsupported(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	r := s.do("alice", "REPORT", workPath, `<D:expand-property xmlns:D="DAV:"/>`, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "supported-report")

	r = s.do("alice", "REPORT", workPath, "", nil)
	assert.Equal(t, http.StatusBadRequest, r.Code)
}

func TestPropfind_Collection(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	body := `<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop><D:displayname/><D:resourcetype/><CS:getctag/><D:sync-token/><D:getetag/></D:prop>
</D:propfind>`

	ms := parseMultistatus(t, s.do("alice", "PROPFIND", workPath, body, map[string]string{headerDepth: "0"}))
	require.Len(t, ms.Responses, 1)
	coll := ms.Responses[0]
	assert.Equal(t, workPath, coll.Href)
	require.NotNil(t, coll.Prop("displayname"))
	assert.Equal(t, "Work", coll.Prop("displayname").Text())
	rt := coll.Prop("resourcetype")
	require.NotNil(t, rt)
	assert.NotNil(t, xml.Child(rt, "calendar"))
	ctag := coll.Prop("getctag")
	require.NotNil(t, ctag)
	token := coll.Prop("sync-token")
	require.NotNil(t, token)
	assert.Nil(t, coll.Prop("getetag"))

	require.Equal(t, http.StatusCreated, s.put(workPath+"a.ics", event("a", "A"), nil).Code)

	ms = parseMultistatus(t, s.do("alice", "PROPFIND", workPath, body, map[string]string{headerDepth: "1"}))
	require.Len(t, ms.Responses, 2)
	coll = *findResponse(ms, workPath)
	assert.NotEqual(t, ctag.Text(), coll.Prop("getctag").Text())
	assert.NotEqual(t, token.Text(), coll.Prop("sync-token").Text())

	member := findResponse(ms, workPath+"a.ics")
	require.NotNil(t, member)
	assert.NotNil(t, member.Prop("getetag"))
	assert.Nil(t, member.Prop("getctag"))
}

func TestPropfind_AllpropAndPropname(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	ms := parseMultistatus(t, s.do("alice", "PROPFIND", workPath, "", map[string]string{headerDepth: "0"}))
	require.Len(t, ms.Responses, 1)
	assert.NotNil(t, ms.Responses[0].Prop("displayname"))
	assert.NotNil(t, ms.Responses[0].Prop("supported-calendar-component-set"))
	assert.Nil(t, ms.Responses[0].Prop("acl"))

	ms = parseMultistatus(t, s.do("alice", "PROPFIND", workPath, `<D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`, map[string]string{headerDepth: "0"}))
	require.Len(t, ms.Responses, 1)
	name := ms.Responses[0].Prop("displayname")
	require.NotNil(t, name)
	assert.Empty(t, name.Text())
	assert.NotNil(t, ms.Responses[0].Prop("acl"))
}

func TestPropfind_PrincipalDiscovery(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	body := `<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:current-user-principal/><C:calendar-home-set/><C:calendar-user-address-set/></D:prop>
</D:propfind>`
	ms := parseMultistatus(t, s.do("alice", "PROPFIND", "/caldav/", body, map[string]string{headerDepth: "0"}))
	require.Len(t, ms.Responses, 1)
	cup := ms.Responses[0].Prop("current-user-principal")
	require.NotNil(t, cup)
	href := xml.Child(cup, "href")
	require.NotNil(t, href)
	assert.Equal(t, "/caldav/alice/", href.Text())

	ms = parseMultistatus(t, s.do("alice", "PROPFIND", "/caldav/alice/", body, map[string]string{headerDepth: "0"}))
	home := ms.Responses[0].Prop("calendar-home-set")
	require.NotNil(t, home)
	assert.Equal(t, "/caldav/alice/cal/", xml.Child(home, "href").Text())
	addr := ms.Responses[0].Prop("calendar-user-address-set")
	require.NotNil(t, addr)
	assert.Equal(t, "mailto:alice@example.com", xml.Child(addr, "href").Text())

	ms = parseMultistatus(t, s.do("alice", "PROPFIND", "/caldav/alice/cal/", `<D:propfind xmlns:D="DAV:"><D:prop><D:displayname/></D:prop></D:propfind>`, map[string]string{headerDepth: "1"}))
	assert.Len(t, ms.Responses, 2)
	assert.NotNil(t, findResponse(ms, workPath))
}

func TestPropfind_UnknownPropertyReported404(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	ms := parseMultistatus(t, s.do("alice", "PROPFIND", workPath, `<D:propfind xmlns:D="DAV:" xmlns:X="urn:x"><D:prop><D:displayname/><X:shoe-size/></D:prop></D:propfind>`, nil))
	require.Len(t, ms.Responses, 1)
	var statuses []int
	for _, ps := range ms.Responses[0].PropStats {
		statuses = append(statuses, ps.Status)
	}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusNotFound}, statuses)
}

func TestPropfind_RejectsDoctype(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	body := `<?xml version="1.0"?>
<!DOCTYPE propfind [<!ENTITY xxe SYSTEM "file:///etc/passwd">]>
<D:propfind xmlns:D="DAV:"><D:prop><D:displayname>&xxe;</D:displayname></D:prop></D:propfind>`
	r := s.do("alice", "PROPFIND", workPath, body, nil)
	assert.Equal(t, http.StatusBadRequest, r.Code)
	assert.NotContains(t, r.Body, "root:")
	assert.NotContains(t, r.Body, "passwd")
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()
	require.Equal(t, http.StatusCreated, s.put(workPath+"a.ics", event("a", "A"), nil).Code)

	// bob has no grant yet
	r := s.do("bob", http.MethodGet, workPath+"a.ics", "", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "need-privileges")

	r = s.do("bob", "PROPFIND", "/caldav/alice/", "", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = s.do("bob", "MKCALENDAR", "/caldav/alice/cal/bobs/", "", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	require.NoError(t, s.store.CreateCollection(t.Context(), &storage.Collection{
		UserID: "alice",
		ID:     "shared",
		ACL:    map[string][]storage.Privilege{"bob": {storage.PrivilegeRead}},
	}))
	shared := "/caldav/alice/cal/shared/"
	require.Equal(t, http.StatusCreated, s.put(shared+"s.ics", event("s", "S"), nil).Code)

	r = s.do("bob", http.MethodGet, shared+"s.ics", "", nil)
	assert.Equal(t, http.StatusOK, r.Code)

	r = s.do("bob", http.MethodPut, shared+"s.ics", event("s", "Bob was here"), map[string]string{headerContentType: "text/calendar"})
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = s.do("bob", http.MethodDelete, shared, "", nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	ms := parseMultistatus(t, s.do("bob", "PROPFIND", shared, `<D:propfind xmlns:D="DAV:"><D:prop><D:current-user-privilege-set/></D:prop></D:propfind>`, nil))
	set := ms.Responses[0].Prop("current-user-privilege-set")
	require.NotNil(t, set)
	privs := xml.Children(set, "privilege")
	require.Len(t, privs, 1)
	assert.NotNil(t, xml.Child(privs[0], "read"))
}

func TestMkCalendar(t *testing.T) {
	s := newTestServer(t)
	s.mkWork()

	coll, err := s.store.GetCollection(t.Context(), "alice", "work")
	require.NoError(t, err)
	assert.Equal(t, "Work", coll.DisplayName)
	assert.Equal(t, "#3A87ADFF", coll.Color)
	assert.Equal(t, "Europe/Berlin", coll.Timezone)
	assert.Equal(t, []string{"VEVENT"}, coll.SupportedComponents)

	r := s.do("alice", "MKCALENDAR", workPath, mkcalendarBody, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)
	assert.Contains(t, r.Body, "resource-must-be-null")

	r = s.do("alice", "MKCALENDAR", "/caldav/alice/cal/plain/", "", nil)
	require.Equal(t, http.StatusCreated, r.Code)
	plain, err := s.store.GetCollection(t.Context(), "alice", "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", plain.DisplayName)
	assert.Equal(t, []string{"VEVENT", "VTODO"}, plain.SupportedComponents)

	r = s.do("alice", "MKCALENDAR", "/caldav/alice/cal/", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, r.Code)
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	store := new(storage.MockStorage)
	auth := memory.New()
	auth.AddUser(storage.User{ID: "alice"}, "alicepw")
	store.On("GetCollection", mock.Anything, "alice", "work").
		Return(nil, errors.New("open /var/lib/caldora/objects.db: permission denied"))

	h := NewCaldavHandler(Config{Prefix: "/caldav/", Storage: store, Auth: auth, ChangeLog: changelog.NewMemory()})
	req := httptest.NewRequest(http.MethodGet, workPath+"a.ics", nil)
	req.SetBasicAuth("alice", "alicepw")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
	assert.NotContains(t, rec.Body.String(), "permission denied")
	store.AssertExpectations(t)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	r := s.do("alice", "PATCH", workPath, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, r.Code)
	assert.Contains(t, r.Header.Get("Allow"), "PROPFIND")
}
