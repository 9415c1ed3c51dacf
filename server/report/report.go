// Package report answers the collection-level CalDAV reports: sync-collection,
// calendar-multiget and calendar-query, plus the collection ctag.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/mo"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/storage"
)

// Target names the collection a report runs against and how members are
// rendered.
type Target struct {
	// CollectionID is the storage key, see storage.CollectionKey.
	CollectionID string
	// Href is the encoded path of the collection, with a trailing slash.
	Href     string
	Profile  calendar.Profile
	WithData bool // render calendar-data
}

func (t Target) memberHref(name string) string {
	return strings.TrimSuffix(t.Href, "/") + "/" + url.PathEscape(name)
}

// Resource is a rendered member of a collection.
type Resource struct {
	Href        string
	Name        string
	ETag        string
	ScheduleTag string
	Data        string // empty unless Target.WithData
	Object      storage.StoredObject
}

// Item is one entry of a multiget or query answer. Failures are reported per
// item.
type Item struct {
	Href     string
	Resource mo.Result[Resource]
}

// ErrLimitExceeded is returned when an initial sync has more members than
// the client allowed. Incremental syncs are truncated instead.
var ErrLimitExceeded = errors.New("result exceeds the requested limit")

// SyncResult is the answer to a sync-collection report.
type SyncResult struct {
	// Members are the changed members; one that cannot be rendered carries
	// its error.
	Members  []Item
	NotFound []string // hrefs of members removed since the token
	Token    string
	// Truncated is set when changes after Token were left out to honour the
	// limit. The client continues from Token.
	Truncated bool
}

// Dispatcher runs reports on top of the object store and change log.
type Dispatcher struct {
	store     storage.Storage
	log       changelog.Log
	directory calendar.Directory
	logger    *slog.Logger
}

// New creates a dispatcher. directory may be nil.
func New(store storage.Storage, log changelog.Log, directory calendar.Directory, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{store: store, log: log, directory: directory, logger: logger}
}

// CTag returns the collection's change indicator. It moves exactly when a
// change is recorded for the collection.
func (d *Dispatcher) CTag(ctx context.Context, collectionID string) (string, error) {
	tok, err := d.log.Current(ctx, collectionID)
	if err != nil {
		return "", err
	}
	return `"` + tok.String() + `"`, nil
}

// SyncToken returns the current sync token of a collection.
func (d *Dispatcher) SyncToken(ctx context.Context, collectionID string) (string, error) {
	tok, err := d.log.Current(ctx, collectionID)
	if err != nil {
		return "", err
	}
	return tok.String(), nil
}

func (d *Dispatcher) render(t Target, obj storage.StoredObject) (Resource, error) {
	res := Resource{
		Href:        t.memberHref(obj.Name),
		Name:        obj.Name,
		ETag:        obj.ETag,
		ScheduleTag: obj.ScheduleTag,
		Object:      obj,
	}
	if t.WithData {
		data, err := calendar.Encode(obj.Object, calendar.EncodeOptions{Profile: t.Profile, Directory: d.directory})
		if err != nil {
			return Resource{}, fmt.Errorf("encoding %s: %w", obj.Name, err)
		}
		res.Data = data
	}
	return res, nil
}

// SyncCollection reports the members changed and removed since token. An
// empty token asks for the full member list. A positive limit caps the
// number of reported changes: an incremental answer is cut at the oldest
// changes and its token covers only what was reported, an initial answer
// over the limit fails with ErrLimitExceeded.
func (d *Dispatcher) SyncCollection(ctx context.Context, t Target, token string, limit int) (SyncResult, error) {
	if token == "" {
		return d.fullSync(ctx, t, limit)
	}
	since, err := changelog.ParseToken(token)
	if err != nil {
		return SyncResult{}, err
	}
	changes, err := d.log.ChangesSince(ctx, t.CollectionID, since)
	if err != nil {
		return SyncResult{}, err
	}

	truncated := false
	if limit > 0 && len(changes.Updated)+len(changes.Deleted) > limit {
		changes = truncate(changes, limit)
		truncated = true
	}

	result := SyncResult{Token: changes.Token.String(), Truncated: truncated}
	for _, e := range changes.Updated {
		obj, err := d.store.GetObject(ctx, t.CollectionID, e.Name)
		if errors.Is(err, storage.ErrNotFound) {
			// removed after the log was read; the next sync reports the deletion
			continue
		}
		if err != nil {
			return SyncResult{}, err
		}
		result.Members = append(result.Members, d.member(t, *obj))
	}
	for _, e := range changes.Deleted {
		result.NotFound = append(result.NotFound, t.memberHref(e.Name))
	}
	d.logger.Debug("sync-collection answered",
		"collection", t.CollectionID, "since", since.Seq, "updated", len(result.Members),
		"deleted", len(result.NotFound), "truncated", truncated)
	return result, nil
}

// truncate keeps the limit oldest changes and moves the token back to the
// last kept one. Entries carry the sequence of their latest change, so
// everything left out is newer than the new token.
func truncate(c changelog.Changes, limit int) changelog.Changes {
	all := make([]changelog.Entry, 0, len(c.Updated)+len(c.Deleted))
	all = append(all, c.Updated...)
	all = append(all, c.Deleted...)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	all = all[:limit]

	out := changelog.Changes{Token: c.Token}
	out.Token.Seq = all[len(all)-1].Seq
	for _, e := range all {
		if e.Kind == changelog.Deleted {
			out.Deleted = append(out.Deleted, e)
		} else {
			out.Updated = append(out.Updated, e)
		}
	}
	return out
}

func (d *Dispatcher) fullSync(ctx context.Context, t Target, limit int) (SyncResult, error) {
	// take the token first so concurrent writes show up in the next sync
	tok, err := d.log.Current(ctx, t.CollectionID)
	if err != nil {
		return SyncResult{}, err
	}
	objs, err := d.store.ListObjects(ctx, t.CollectionID)
	if err != nil {
		return SyncResult{}, err
	}
	if limit > 0 && len(objs) > limit {
		return SyncResult{}, fmt.Errorf("%d members, limit %d: %w", len(objs), limit, ErrLimitExceeded)
	}
	result := SyncResult{Token: tok.String()}
	for _, obj := range objs {
		result.Members = append(result.Members, d.member(t, obj))
	}
	return result, nil
}

// member renders obj into a sync item. A render failure is logged and kept
// on the item so the caller reports it for that href.
func (d *Dispatcher) member(t Target, obj storage.StoredObject) Item {
	res, err := d.render(t, obj)
	if err != nil {
		d.logger.Error("failed to render sync member", "collection", t.CollectionID, "name", obj.Name, "error", err)
		return Item{Href: t.memberHref(obj.Name), Resource: mo.Err[Resource](err)}
	}
	return Item{Href: res.Href, Resource: mo.Ok(res)}
}

// Multiget returns the requested members. ids may be resource names,
// absolute paths, full URLs or bare UIDs, percent-encoded or not.
func (d *Dispatcher) Multiget(ctx context.Context, t Target, ids []string) []Item {
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		obj, err := d.resolve(ctx, t, id)
		if err != nil {
			items = append(items, Item{Href: id, Resource: mo.Err[Resource](err)})
			continue
		}
		res, err := d.render(t, *obj)
		if err != nil {
			items = append(items, Item{Href: id, Resource: mo.Err[Resource](err)})
			continue
		}
		items = append(items, Item{Href: res.Href, Resource: mo.Ok(res)})
	}
	return items
}

// resolve maps a multiget identifier to a stored object. Paths are split on
// their literal slashes before any segment is decoded, so an escaped slash
// stays part of the name.
func (d *Dispatcher) resolve(ctx context.Context, t Target, id string) (*storage.StoredObject, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("empty identifier: %w", storage.ErrInvalidInput)
	}
	escaped, err := escapedPath(id)
	if err != nil {
		return nil, err
	}

	slash := strings.LastIndex(escaped, "/")
	if slash < 0 {
		return d.byNameOrUID(ctx, t, unescapeSegment(escaped))
	}
	dir, name := escaped[:slash], unescapeSegment(escaped[slash+1:])
	if name == "" {
		return nil, fmt.Errorf("identifier %q names a collection: %w", id, storage.ErrNotFound)
	}
	if strings.HasPrefix(dir, "/") {
		if t.Href != "" && !samePath(dir, t.Href) {
			return nil, fmt.Errorf("identifier %q is outside the collection: %w", id, storage.ErrNotFound)
		}
		return d.store.GetObject(ctx, t.CollectionID, name)
	}
	obj, err := d.store.GetObject(ctx, t.CollectionID, name)
	if errors.Is(err, storage.ErrNotFound) {
		// a relative identifier may be a UID with a slash in it
		return d.byNameOrUID(ctx, t, unescapeSegment(escaped))
	}
	return obj, err
}

// byNameOrUID looks a single decoded identifier up as a resource name, then
// as a UID, then as a UID with the .ics suffix removed.
func (d *Dispatcher) byNameOrUID(ctx context.Context, t Target, id string) (*storage.StoredObject, error) {
	obj, err := d.store.GetObject(ctx, t.CollectionID, id)
	if !errors.Is(err, storage.ErrNotFound) {
		return obj, err
	}
	obj, err = d.store.GetObjectByUID(ctx, t.CollectionID, id)
	if errors.Is(err, storage.ErrNotFound) && strings.HasSuffix(id, ".ics") {
		obj, err = d.store.GetObjectByUID(ctx, t.CollectionID, strings.TrimSuffix(id, ".ics"))
	}
	return obj, err
}

// escapedPath returns id still percent-encoded. Full URLs are reduced to
// their escaped path.
func escapedPath(id string) (string, error) {
	if !strings.Contains(id, "://") {
		return id, nil
	}
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("identifier %q: %v: %w", id, err, storage.ErrInvalidInput)
	}
	return u.EscapedPath(), nil
}

// unescapeSegment percent-decodes one path segment exactly once. A stray %
// that is not an escape stays literal.
func unescapeSegment(seg string) string {
	s, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}
	return s
}

// samePath compares two escaped paths segment by segment after decoding, so
// differently escaped spellings of one collection match.
func samePath(a, b string) bool {
	as := strings.Split(strings.Trim(a, "/"), "/")
	bs := strings.Split(strings.Trim(b, "/"), "/")
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if unescapeSegment(as[i]) != unescapeSegment(bs[i]) {
			return false
		}
	}
	return true
}

// Query returns the members matching filter.
func (d *Dispatcher) Query(ctx context.Context, t Target, filter *storage.Filter) ([]Item, error) {
	objs, err := d.store.ListObjects(ctx, t.CollectionID)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, obj := range objs {
		if !filter.Match(obj.Object) {
			continue
		}
		res, err := d.render(t, obj)
		if err != nil {
			items = append(items, Item{Href: t.memberHref(obj.Name), Resource: mo.Err[Resource](err)})
			continue
		}
		items = append(items, Item{Href: res.Href, Resource: mo.Ok(res)})
	}
	d.logger.Debug("calendar-query answered", "collection", t.CollectionID, "candidates", len(objs), "matched", len(items))
	return items, nil
}
