// Package changelog records per-collection change history and answers
// sync-token queries against it.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed tokens and tokens issued for
	// another collection.
	ErrInvalidToken = errors.New("invalid sync token")
	// ErrTokenReset is returned for tokens that no longer address the
	// retained history, because the log was reset or pruned past them.
	ErrTokenReset = errors.New("sync token no longer valid")
)

// Kind of a recorded change.
type Kind int

const (
	Created Kind = iota + 1
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a mutation of one object resource.
type Change struct {
	Name string // resource name within the collection
	UID  string
	Kind Kind
}

// Entry is an appended change. Entries are never mutated.
type Entry struct {
	CollectionID string
	Seq          uint64
	Name         string
	UID          string
	Kind         Kind
	Time         time.Time
}

// Changes is the net effect of the entries after a token.
type Changes struct {
	Updated []Entry
	Deleted []Entry
	Token   Token
}

// Log is a per-collection append-only change history.
type Log interface {
	// Append records a change and returns the token that includes it.
	Append(ctx context.Context, collectionID string, c Change) (Token, error)
	// ChangesSince returns the net changes after since.
	ChangesSince(ctx context.Context, collectionID string, since Token) (Changes, error)
	// Current returns the token addressing the latest entry.
	Current(ctx context.Context, collectionID string) (Token, error)
	// Reset discards the history and starts a new epoch.
	Reset(ctx context.Context, collectionID string) (Token, error)
	// Prune drops entries recorded before the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, collectionID string, before time.Time) (int, error)
	// Collections lists the collections with recorded history.
	Collections(ctx context.Context) ([]string, error)
}

const tokenPrefix = "urn:caldora:sync:"

// Token is a position in a collection's history.
type Token struct {
	CollectionID string
	Epoch        string
	Seq          uint64
}

func (t Token) String() string {
	return fmt.Sprintf("%s%s:%s:%d", tokenPrefix, url.PathEscape(t.CollectionID), t.Epoch, t.Seq)
}

// ParseToken parses the string form of a Token.
func ParseToken(s string) (Token, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), tokenPrefix)
	if !ok {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	seqAt := strings.LastIndexByte(rest, ':')
	if seqAt < 0 {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	epochAt := strings.LastIndexByte(rest[:seqAt], ':')
	if epochAt <= 0 {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	seq, err := strconv.ParseUint(rest[seqAt+1:], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	collection, err := url.PathUnescape(rest[:epochAt])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	epoch := rest[epochAt+1 : seqAt]
	if epoch == "" {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	return Token{CollectionID: collection, Epoch: epoch, Seq: seq}, nil
}

// head describes the retained window of a collection's history.
type head struct {
	epoch string
	floor uint64 // entries with Seq <= floor have been pruned
	seq   uint64
}

func (h head) token(collectionID string) Token {
	return Token{CollectionID: collectionID, Epoch: h.epoch, Seq: h.seq}
}

// check validates since against the retained window.
func (h head) check(collectionID string, since Token) error {
	if since.CollectionID != collectionID {
		return fmt.Errorf("%w: token belongs to collection %q", ErrInvalidToken, since.CollectionID)
	}
	if since.Epoch != h.epoch {
		return fmt.Errorf("%w: epoch %s has ended", ErrTokenReset, since.Epoch)
	}
	if since.Seq < h.floor || since.Seq > h.seq {
		return fmt.Errorf("%w: position %d outside retained history", ErrTokenReset, since.Seq)
	}
	return nil
}

// collapse reduces entries to their net effect per resource name, the last
// entry winning. A name created and deleted in the interval reports as
// deleted.
func collapse(entries []Entry, token Token) Changes {
	last := make(map[string]Entry, len(entries))
	for _, e := range entries {
		last[e.Name] = e
	}
	out := Changes{Token: token}
	for _, e := range last {
		if e.Kind == Deleted {
			out.Deleted = append(out.Deleted, e)
		} else {
			out.Updated = append(out.Updated, e)
		}
	}
	sort.Slice(out.Updated, func(i, j int) bool { return out.Updated[i].Seq < out.Updated[j].Seq })
	sort.Slice(out.Deleted, func(i, j int) bool { return out.Deleted[i].Seq < out.Deleted[j].Seq })
	return out
}
