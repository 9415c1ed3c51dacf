// Package resolver applies conditional writes and deletes to calendar object
// resources. It is the only component that computes entity tags and appends
// to the change log.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/storage"
)

// ErrPreconditionFailed is returned when a conditional header does not match
// the current state of the resource.
var ErrPreconditionFailed = errors.New("precondition failed")

// Precondition carries the conditional request headers verbatim. Empty
// fields are not checked.
type Precondition struct {
	IfMatch            string
	IfNoneMatch        string
	IfScheduleTagMatch string
}

// Result describes an accepted write.
type Result struct {
	ETag        string
	ScheduleTag string
	Created     bool
	// Unchanged is set when the stored content already matched the request.
	Unchanged bool
}

// Resolver serializes writes per resource name and per UID.
type Resolver struct {
	store  storage.Storage
	log    changelog.Log
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// New creates a resolver over store, recording changes in log.
func New(store storage.Storage, log changelog.Log, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		store:  store,
		log:    log,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

func nameKey(collectionID, name string) string { return "name:" + collectionID + "/" + name }
func uidKey(collectionID, uid string) string   { return "uid:" + collectionID + "/" + uid }

// Get returns the current state of a resource.
func (r *Resolver) Get(ctx context.Context, collectionID, name string) (*storage.StoredObject, error) {
	return r.store.GetObject(ctx, collectionID, name)
}

func (r *Resolver) current(ctx context.Context, collectionID, name string) (*storage.StoredObject, error) {
	cur, err := r.store.GetObject(ctx, collectionID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return cur, err
}

// Write stores obj under name after checking pre against the current state.
func (r *Resolver) Write(ctx context.Context, collectionID, name string, pre Precondition, obj calendar.Object) (Result, error) {
	if name == "" || obj.UID == "" {
		return Result{}, fmt.Errorf("write needs a resource name and UID: %w", storage.ErrInvalidInput)
	}
	unlock, err := r.locks.Lock(ctx, nameKey(collectionID, name), uidKey(collectionID, obj.UID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cur, err := r.current(ctx, collectionID, name)
	if err != nil {
		return Result{}, err
	}
	if err := checkWrite(pre, cur); err != nil {
		return Result{}, err
	}
	if pre.IfScheduleTagMatch != "" {
		obj = calendar.MergeScheduling(cur.Object, obj)
	}

	if cur != nil && cur.Object.UID != obj.UID {
		return Result{}, fmt.Errorf("resource %s has UID %s, cannot change it to %s: %w",
			name, cur.Object.UID, obj.UID, storage.ErrForbidden)
	}
	other, err := r.store.GetObjectByUID(ctx, collectionID, obj.UID)
	switch {
	case err == nil && other.Name != name:
		return Result{}, fmt.Errorf("UID %s already stored as %s: %w", obj.UID, other.Name, storage.ErrForbidden)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Result{}, err
	}

	etag := calendar.ETag(obj)
	if cur != nil && cur.ETag == etag {
		return Result{ETag: cur.ETag, ScheduleTag: cur.ScheduleTag, Unchanged: true}, nil
	}

	stored := storage.StoredObject{
		Name:        name,
		Object:      obj,
		ETag:        etag,
		ScheduleTag: calendar.ScheduleTag(obj),
		Modified:    r.now(),
	}
	if err := r.store.PutObject(ctx, collectionID, stored); err != nil {
		return Result{}, err
	}
	kind := changelog.Created
	if cur != nil {
		kind = changelog.Updated
	}
	if _, err := r.log.Append(ctx, collectionID, changelog.Change{Name: name, UID: obj.UID, Kind: kind}); err != nil {
		r.rollback(collectionID, name, cur)
		return Result{}, fmt.Errorf("recording change of %s: %w", name, err)
	}
	r.logger.Debug("object written",
		"collection", collectionID, "name", name, "uid", obj.UID, "kind", kind, "etag", etag)
	return Result{ETag: stored.ETag, ScheduleTag: stored.ScheduleTag, Created: cur == nil}, nil
}

// rollback restores the previous state after the change log refused an
// entry, so that storage and history stay consistent.
func (r *Resolver) rollback(collectionID, name string, prev *storage.StoredObject) {
	ctx := context.Background()
	var err error
	if prev == nil {
		err = r.store.DeleteObject(ctx, collectionID, name)
	} else {
		err = r.store.PutObject(ctx, collectionID, *prev)
	}
	if err != nil {
		r.logger.Error("rollback failed", "collection", collectionID, "name", name, "error", err)
	}
}

// Delete removes a resource after checking pre against its current state.
func (r *Resolver) Delete(ctx context.Context, collectionID, name string, pre Precondition) error {
	unlock, err := r.locks.Lock(ctx, nameKey(collectionID, name))
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := r.current(ctx, collectionID, name)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("object %s: %w", name, storage.ErrNotFound)
	}
	if err := checkWrite(pre, cur); err != nil {
		return err
	}
	if err := r.store.DeleteObject(ctx, collectionID, name); err != nil {
		return err
	}
	if _, err := r.log.Append(ctx, collectionID, changelog.Change{Name: name, UID: cur.Object.UID, Kind: changelog.Deleted}); err != nil {
		r.rollback(collectionID, name, cur)
		return fmt.Errorf("recording deletion of %s: %w", name, err)
	}
	r.logger.Debug("object deleted", "collection", collectionID, "name", name, "uid", cur.Object.UID)
	return nil
}

// checkWrite evaluates the preconditions against cur, which is nil when the
// resource does not exist.
func checkWrite(pre Precondition, cur *storage.StoredObject) error {
	if pre.IfMatch != "" {
		if cur == nil {
			return fmt.Errorf("If-Match on missing resource: %w", storage.ErrNotFound)
		}
		if !MatchTag(pre.IfMatch, cur.ETag) {
			return fmt.Errorf("If-Match %s, current %s: %w", pre.IfMatch, cur.ETag, ErrPreconditionFailed)
		}
	}
	if pre.IfNoneMatch != "" && cur != nil && MatchTag(pre.IfNoneMatch, cur.ETag) {
		return fmt.Errorf("If-None-Match %s: %w", pre.IfNoneMatch, ErrPreconditionFailed)
	}
	if pre.IfScheduleTagMatch != "" {
		if cur == nil {
			return fmt.Errorf("If-Schedule-Tag-Match on missing resource: %w", storage.ErrNotFound)
		}
		if !MatchTag(pre.IfScheduleTagMatch, cur.ScheduleTag) {
			return fmt.Errorf("If-Schedule-Tag-Match %s, current %s: %w",
				pre.IfScheduleTagMatch, cur.ScheduleTag, ErrPreconditionFailed)
		}
	}
	return nil
}

// MatchTag reports whether the header value, a comma separated list of
// quoted tags or "*", names tag. Comparison is exact.
func MatchTag(header, tag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || (candidate != "" && candidate == tag) {
			return true
		}
	}
	return false
}
