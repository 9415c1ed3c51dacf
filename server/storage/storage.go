package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cyp0633/caldora/server/calendar"
)

// Storage connects the CalDAV engine with a backend store. Implementations
// only persist what they are given: ETags, Schedule-Tags and change history
// are computed by the resolver. Please use the error values provided.
type Storage interface {
	// GetUser gets user information.
	GetUser(ctx context.Context, userID string) (*User, error)
	// GetCollection retrieves a calendar collection by owner and calendar id.
	GetCollection(ctx context.Context, userID, calendarID string) (*Collection, error)
	// ListCollections lists the collections owned by a user.
	ListCollections(ctx context.Context, userID string) ([]Collection, error)
	// CreateCollection creates a collection, ErrConflict if it exists.
	CreateCollection(ctx context.Context, c *Collection) error
	// DeleteCollection removes a collection and all of its objects.
	DeleteCollection(ctx context.Context, userID, calendarID string) error

	// GetObject finds an object resource by its name within a collection.
	GetObject(ctx context.Context, collectionID, name string) (*StoredObject, error)
	// GetObjectByUID finds an object resource by iCalendar UID.
	GetObjectByUID(ctx context.Context, collectionID, uid string) (*StoredObject, error)
	// ListObjects returns every object resource in a collection.
	ListObjects(ctx context.Context, collectionID string) ([]StoredObject, error)
	// PutObject creates or replaces an object resource.
	PutObject(ctx context.Context, collectionID string, obj StoredObject) error
	// DeleteObject removes an object resource.
	DeleteObject(ctx context.Context, collectionID, name string) error
}

// Authenticator verifies credentials and returns the user ID.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

type User struct {
	ID string
	// Will be returned in displayname
	DisplayName string
	// mail address, used for calendar-user-address-set and CN lookups
	UserAddress string
	// 6-character HEX string with # prefix
	PreferredColor string
	// IANA timezone, e.g. Asia/Shanghai; default for new collections
	PreferredTimezone string
}

// Privilege is an access right on a collection.
type Privilege string

const (
	PrivilegeRead  Privilege = "read"
	PrivilegeWrite Privilege = "write"
	PrivilegeAll   Privilege = "all"
)

// Collection is a CalDAV calendar collection.
type Collection struct {
	UserID      string // owner
	ID          string
	DisplayName string
	Description string
	Color       string
	// Timezone anchors floating times of the collection's objects.
	Timezone            string
	SupportedComponents []string
	// ACL grants privileges to principals other than the owner.
	ACL      map[string][]Privilege
	ReadOnly bool
	Created  time.Time
}

// CollectionKey returns the identifier used for a collection in the change
// log and object store.
func CollectionKey(userID, calendarID string) string {
	return userID + "/" + calendarID
}

// Key returns the collection's identifier.
func (c Collection) Key() string {
	return CollectionKey(c.UserID, c.ID)
}

// Allows reports whether principal holds p. The owner holds every privilege;
// write implies read, all implies both. A read-only collection grants
// nobody write.
func (c Collection) Allows(principal string, p Privilege) bool {
	if p != PrivilegeRead && c.ReadOnly {
		return false
	}
	if principal == c.UserID {
		return true
	}
	granted := c.ACL[principal]
	if slices.Contains(granted, PrivilegeAll) || slices.Contains(granted, p) {
		return true
	}
	return p == PrivilegeRead && slices.Contains(granted, PrivilegeWrite)
}

// Privileges lists the privileges principal holds.
func (c Collection) Privileges(principal string) []Privilege {
	var out []Privilege
	for _, p := range []Privilege{PrivilegeRead, PrivilegeWrite} {
		if c.Allows(principal, p) {
			out = append(out, p)
		}
	}
	return out
}

// Supports reports whether the collection accepts the component kind.
func (c Collection) Supports(kind calendar.ComponentKind) bool {
	if len(c.SupportedComponents) == 0 {
		return true
	}
	return slices.Contains(c.SupportedComponents, string(kind))
}

// Location returns the collection's default timezone, UTC when unset or
// unknown.
func (c Collection) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StoredObject is an object resource as persisted: the calendar object with
// its resource name and derived tags.
type StoredObject struct {
	// Name is the last path segment of the resource, e.g. "event1.ics".
	// It has nothing to do with the iCalendar UID.
	Name        string
	Object      calendar.Object
	ETag        string
	ScheduleTag string
	Modified    time.Time
}

// Clone returns a deep copy so callers never share object state.
func (o StoredObject) Clone() StoredObject {
	o.Object = o.Object.Clone()
	return o
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrPermissionDenied is returned when the principal lacks a privilege
	ErrPermissionDenied = errors.New("permission denied")
	// ErrForbidden is returned for structurally disallowed changes, such as
	// reusing a UID under another resource name
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when there's a conflict with an existing resource
	ErrConflict = errors.New("resource conflict")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ResourceType indicates the type of CalDAV resource identified by the URL path.
// This is distinct from CalDAV prop "resourcetype".
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourcePrincipal
	ResourceHomeSet
	ResourceCollection
	ResourceObject
	ResourceServiceRoot
)

// String provides a human-readable representation of the ResourceType.
func (rt ResourceType) String() string {
	switch rt {
	case ResourcePrincipal:
		return "Principal"
	case ResourceHomeSet:
		return "HomeSet"
	case ResourceCollection:
		return "Collection"
	case ResourceObject:
		return "Object"
	case ResourceServiceRoot:
		return "ServiceRoot"
	default:
		return "Unknown"
	}
}
