package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
)

// URLConverter helps you define URL path convention. Leave this blank when creating handler defaults to DefaultURLConverter.
//
// However, there are some basic assumptions you should respect:
//
// A resource should be able to find its parent from its path. For example, /<userid>/cal/<calendarid>/<objectid> belongs to
// user <userid> and calendar <calendarid>. Please consider including all those information in your URI, or you might
// encounter excessive overhead looking for parent resources.
//
// Paths are handled in their escaped form: ParsePath receives the request's
// escaped path and EncodePath returns one ready to be used as an href.
type URLConverter interface {
	// ParsePath parses a given path and returns the corresponding Resource.
	ParsePath(path string) (Resource, error)
	// EncodePath encodes a Resource back to its URL path representation.
	EncodePath(resource Resource) (string, error)
}

type Resource struct {
	UserID       string
	CalendarID   string
	ObjectID     string
	URI          string // escaped request path, may save encoding overhead
	ResourceType storage.ResourceType
}

// DefaultURLConverter implements the URLConverter interface with a standard CalDAV URL structure:
// /<userid>/cal/<calendarid>/<objectid>
//
// The URL structure follows these rules:
// - Service Root: /
// - Principal: /<userid>/
// - Home Set: /<userid>/cal/
// - Collection: /<userid>/cal/<calendarid>/
// - Object: /<userid>/cal/<calendarid>/<objectid>
//
// The Prefix field can be used to add a common prefix to all paths (e.g., "/caldav/").
// Segments are percent-decoded exactly once, so identifiers may contain
// '@', '%', '/' or non-ASCII characters.
type DefaultURLConverter struct {
	Prefix string
}

// ParsePath parses an escaped CalDAV path into its components.
// It handles paths with or without the configured prefix.
func (c *DefaultURLConverter) ParsePath(path string) (Resource, error) {
	resource := Resource{ResourceType: storage.ResourceUnknown, URI: path}

	path = strings.TrimPrefix(path, strings.TrimSuffix(c.Prefix, "/"))

	var segments []string
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		seg, err := url.PathUnescape(p)
		if err != nil {
			return resource, fmt.Errorf("invalid path segment %q: %w", p, err)
		}
		segments = append(segments, seg)
	}

	switch len(segments) {
	case 0:
		resource.ResourceType = storage.ResourceServiceRoot
	case 1:
		resource.UserID = segments[0]
		resource.ResourceType = storage.ResourcePrincipal
	case 2, 3, 4:
		if segments[1] != "cal" {
			return resource, fmt.Errorf("invalid path: expected '/<userid>/cal/...', got %q", path)
		}
		resource.UserID = segments[0]
		resource.ResourceType = storage.ResourceHomeSet
		if len(segments) > 2 {
			resource.CalendarID = segments[2]
			resource.ResourceType = storage.ResourceCollection
		}
		if len(segments) > 3 {
			resource.ObjectID = segments[3]
			resource.ResourceType = storage.ResourceObject
		}
	default:
		return resource, fmt.Errorf("invalid path: too many segments (%d)", len(segments))
	}

	return resource, nil
}

// EncodePath encodes a Resource into a CalDAV path.
// It validates that the resource has all required fields for its type
// and adds the configured prefix to the path. Collections end with a slash.
func (c *DefaultURLConverter) EncodePath(resource Resource) (string, error) {
	var segments []string

	switch resource.ResourceType {
	case storage.ResourcePrincipal:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: principal must have a UserID")
		}
		segments = []string{resource.UserID}

	case storage.ResourceHomeSet:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: home set must have a UserID")
		}
		segments = []string{resource.UserID, "cal"}

	case storage.ResourceCollection:
		if resource.UserID == "" || resource.CalendarID == "" {
			return "", fmt.Errorf("invalid resource: collection must have both UserID and CalendarID")
		}
		segments = []string{resource.UserID, "cal", resource.CalendarID}

	case storage.ResourceObject:
		if resource.UserID == "" || resource.CalendarID == "" || resource.ObjectID == "" {
			return "", fmt.Errorf("invalid resource: object must have UserID, CalendarID, and ObjectID")
		}
		segments = []string{resource.UserID, "cal", resource.CalendarID, resource.ObjectID}

	case storage.ResourceServiceRoot:

	default:
		return "", fmt.Errorf("invalid resource type: %s", resource.ResourceType.String())
	}

	var b strings.Builder
	b.WriteString(strings.TrimSuffix(c.Prefix, "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	if resource.ResourceType != storage.ResourceObject {
		b.WriteByte('/')
	}
	return b.String(), nil
}
