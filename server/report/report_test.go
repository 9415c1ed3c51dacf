package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
)

type fixture struct {
	store    *memory.Store
	log      *changelog.Memory
	resolver *resolver.Resolver
	d        *Dispatcher
	target   Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateCollection(context.Background(), &storage.Collection{UserID: "alice", ID: "work"}))
	log := changelog.NewMemory()
	return &fixture{
		store:    store,
		log:      log,
		resolver: resolver.New(store, log, nil),
		d:        New(store, log, store, nil),
		target: Target{
			CollectionID: storage.CollectionKey("alice", "work"),
			Href:         "/caldav/alice/cal/work/",
			Profile:      calendar.DefaultProfile,
			WithData:     true,
		},
	}
}

func (f *fixture) put(t *testing.T, name, uid, summary string) resolver.Result {
	t.Helper()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	res, err := f.resolver.Write(context.Background(), f.target.CollectionID, name, resolver.Precondition{}, calendar.Object{
		UID:     uid,
		Kind:    calendar.KindEvent,
		Summary: summary,
		Start:   start,
		End:     start.Add(time.Hour),
		Stamp:   start,
	})
	require.NoError(t, err)
	return res
}

func TestSyncCollection_InitialAndIncremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "a.ics", "a", "first")
	f.put(t, "b.ics", "b", "second")

	full, err := f.d.SyncCollection(ctx, f.target, "", 0)
	require.NoError(t, err)
	require.Len(t, full.Members, 2)
	assert.Equal(t, "/caldav/alice/cal/work/a.ics", full.Members[0].Href)
	assert.Contains(t, full.Members[0].Resource.MustGet().Data, "SUMMARY:first")
	assert.Empty(t, full.NotFound)

	f.put(t, "a.ics", "a", "first, edited")
	require.NoError(t, f.resolver.Delete(ctx, f.target.CollectionID, "b.ics", resolver.Precondition{}))

	inc, err := f.d.SyncCollection(ctx, f.target, full.Token, 0)
	require.NoError(t, err)
	require.Len(t, inc.Members, 1)
	assert.Equal(t, "a.ics", inc.Members[0].Resource.MustGet().Name)
	assert.Equal(t, []string{"/caldav/alice/cal/work/b.ics"}, inc.NotFound)
	assert.NotEqual(t, full.Token, inc.Token)

	// nothing moved since
	again, err := f.d.SyncCollection(ctx, f.target, inc.Token, 0)
	require.NoError(t, err)
	assert.Empty(t, again.Members)
	assert.Empty(t, again.NotFound)
	assert.Equal(t, inc.Token, again.Token)
}

func TestSyncCollection_CreateThenDeleteReportsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start, err := f.d.SyncToken(ctx, f.target.CollectionID)
	require.NoError(t, err)

	f.put(t, "blip.ics", "blip", "short lived")
	require.NoError(t, f.resolver.Delete(ctx, f.target.CollectionID, "blip.ics", resolver.Precondition{}))

	res, err := f.d.SyncCollection(ctx, f.target, start, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Members)
	assert.Equal(t, []string{"/caldav/alice/cal/work/blip.ics"}, res.NotFound)
}

func TestSyncCollection_BadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.SyncCollection(ctx, f.target, "http://example.com/not-ours", 0)
	assert.ErrorIs(t, err, changelog.ErrInvalidToken)

	foreign, err := f.log.Current(ctx, "bob/home")
	require.NoError(t, err)
	_, err = f.d.SyncCollection(ctx, f.target, foreign.String(), 0)
	assert.ErrorIs(t, err, changelog.ErrInvalidToken)

	tok, err := f.d.SyncToken(ctx, f.target.CollectionID)
	require.NoError(t, err)
	_, err = f.log.Reset(ctx, f.target.CollectionID)
	require.NoError(t, err)
	_, err = f.d.SyncCollection(ctx, f.target, tok, 0)
	assert.ErrorIs(t, err, changelog.ErrTokenReset)
}

func TestSyncCollection_LimitTruncatesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start, err := f.d.SyncToken(ctx, f.target.CollectionID)
	require.NoError(t, err)

	f.put(t, "a.ics", "a", "one")
	f.put(t, "b.ics", "b", "two")
	require.NoError(t, f.resolver.Delete(ctx, f.target.CollectionID, "a.ics", resolver.Precondition{}))
	f.put(t, "c.ics", "c", "three")

	page, err := f.d.SyncCollection(ctx, f.target, start, 2)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	require.Len(t, page.Members, 1)
	assert.Equal(t, "/caldav/alice/cal/work/b.ics", page.Members[0].Href)
	assert.Equal(t, []string{"/caldav/alice/cal/work/a.ics"}, page.NotFound)

	rest, err := f.d.SyncCollection(ctx, f.target, page.Token, 2)
	require.NoError(t, err)
	assert.False(t, rest.Truncated)
	require.Len(t, rest.Members, 1)
	assert.Equal(t, "/caldav/alice/cal/work/c.ics", rest.Members[0].Href)
	assert.Empty(t, rest.NotFound)

	current, err := f.d.SyncToken(ctx, f.target.CollectionID)
	require.NoError(t, err)
	assert.Equal(t, current, rest.Token)

	_, err = f.d.SyncCollection(ctx, f.target, "", 1)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	full, err := f.d.SyncCollection(ctx, f.target, "", 2)
	require.NoError(t, err)
	assert.Len(t, full.Members, 2)
}

func TestSyncCollection_RenderFailureStaysOnItsHref(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "good.ics", "good", "fine")
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.PutObject(ctx, f.target.CollectionID, storage.StoredObject{
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

	res, err := f.d.SyncCollection(ctx, f.target, "", 0)
	require.NoError(t, err)
	require.Len(t, res.Members, 2)
	assert.Equal(t, "/caldav/alice/cal/work/broken.ics", res.Members[0].Href)
	assert.True(t, res.Members[0].Resource.IsError())
	assert.Equal(t, "/caldav/alice/cal/work/good.ics", res.Members[1].Href)
	assert.True(t, res.Members[1].Resource.IsOk())

	// without calendar-data there is nothing to encode
	f.target.WithData = false
	res, err = f.d.SyncCollection(ctx, f.target, "", 0)
	require.NoError(t, err)
	for _, m := range res.Members {
		assert.True(t, m.Resource.IsOk(), m.Href)
	}
}

func TestMultiget_IdentifierForms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const name = "jörg@example.com 50%.ics"
	f.put(t, name, "uid-jörg", "odd")
	f.put(t, "plain.ics", "plain-uid", "plain")

	escaped := "j%C3%B6rg@example.com%2050%25.ics"
	ids := []string{
		name,
		escaped,
		"/caldav/alice/cal/work/" + escaped,
		"https://cal.example.com/caldav/alice/cal/work/" + escaped,
		"uid-jörg",
		"plain-uid.ics",
	}
	items := f.d.Multiget(ctx, f.target, ids)
	require.Len(t, items, len(ids))
	for i, item := range items[:5] {
		res, err := item.Resource.Get()
		require.NoError(t, err, ids[i])
		assert.Equal(t, name, res.Name, ids[i])
		assert.Equal(t, "/caldav/alice/cal/work/"+escaped, res.Href, ids[i])
		assert.Contains(t, res.Data, "UID:uid-jörg", ids[i])
	}
	res, err := items[5].Resource.Get()
	require.NoError(t, err)
	assert.Equal(t, "plain.ics", res.Name)
}

func TestMultiget_EscapedSlashStaysInName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "a/b.ics", "slashed", "slashed")
	f.put(t, "b.ics", "decoy", "decoy")
	f.put(t, "x.ics", "team/standup", "uid with slash")

	synced, err := f.d.SyncCollection(ctx, f.target, "", 0)
	require.NoError(t, err)
	var href string
	for _, m := range synced.Members {
		if m.Resource.MustGet().Name == "a/b.ics" {
			href = m.Href
		}
	}
	require.Equal(t, "/caldav/alice/cal/work/a%2Fb.ics", href)

	ids := []string{
		href,
		"a%2Fb.ics",
		"https://cal.example.com" + href,
		"/caldav/alice/cal/w%6Frk/a%2Fb.ics",
	}
	for i, item := range f.d.Multiget(ctx, f.target, ids) {
		res, err := item.Resource.Get()
		require.NoError(t, err, ids[i])
		assert.Equal(t, "a/b.ics", res.Name, ids[i])
		assert.Equal(t, href, res.Href, ids[i])
	}

	items := f.d.Multiget(ctx, f.target, []string{"/caldav/alice/cal/work/a/b.ics", "team/standup"})
	_, err = items[0].Resource.Get()
	assert.ErrorIs(t, err, storage.ErrNotFound, "a literal slash is a path separator")
	res, err := items[1].Resource.Get()
	require.NoError(t, err)
	assert.Equal(t, "x.ics", res.Name)
}

func TestMultiget_PerItemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "a.ics", "a", "present")

	items := f.d.Multiget(ctx, f.target, []string{
		"missing.ics",
		"/caldav/bob/cal/home/a.ics",
		"",
		"a.ics",
	})
	require.Len(t, items, 4)
	for _, item := range items[:3] {
		assert.True(t, item.Resource.IsError(), item.Href)
	}
	_, err := items[0].Resource.Get()
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = items[1].Resource.Get()
	assert.ErrorIs(t, err, storage.ErrNotFound, "other collection")
	_, err = items[2].Resource.Get()
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.True(t, items[3].Resource.IsOk())
}

func TestCTag_MovesOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.d.CTag(ctx, f.target.CollectionID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(empty, `"`))

	first := f.put(t, "a.ics", "a", "v1")
	afterCreate, err := f.d.CTag(ctx, f.target.CollectionID)
	require.NoError(t, err)
	assert.NotEqual(t, empty, afterCreate)

	// identical content: same ETag, same ctag
	again := f.put(t, "a.ics", "a", "v1")
	assert.Equal(t, first.ETag, again.ETag)
	unchanged, err := f.d.CTag(ctx, f.target.CollectionID)
	require.NoError(t, err)
	assert.Equal(t, afterCreate, unchanged)

	f.put(t, "a.ics", "a", "v2")
	afterEdit, err := f.d.CTag(ctx, f.target.CollectionID)
	require.NoError(t, err)
	assert.NotEqual(t, afterCreate, afterEdit)
}

func TestQuery_FiltersMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "lunch.ics", "lunch", "Team lunch")
	f.put(t, "review.ics", "review", "Code review")

	filter := &storage.Filter{Component: "VCALENDAR", Children: []storage.Filter{{
		Component:   "VEVENT",
		PropFilters: []storage.PropFilter{{Name: "SUMMARY", TextMatch: &storage.TextMatch{Value: "LUNCH"}}},
	}}}
	items, err := f.d.Query(ctx, f.target, filter)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/caldav/alice/cal/work/lunch.ics", items[0].Href)

	all, err := f.d.Query(ctx, f.target, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
