package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/report"
	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
)

const (
	headerContentType  = "Content-Type"
	headerETag         = "ETag"
	headerScheduleTag  = "Schedule-Tag"
	headerDAV          = "DAV"
	headerAllow        = "Allow"
	headerDepth        = "Depth"
	headerIfMatch      = "If-Match"
	headerIfNoneMatch  = "If-None-Match"
	headerIfSchedMatch = "If-Schedule-Tag-Match"

	mimeTypeCalendar = "text/calendar; charset=utf-8"
	mimeTypeXML      = "application/xml; charset=utf-8"

	davCapabilities = "1, 3, calendar-access, sync-collection"
	allowedMethods  = "OPTIONS, PROPFIND, REPORT, GET, HEAD, PUT, DELETE, MKCALENDAR, MKCOL"

	// depthInfinity stands for "Depth: infinity" before MaxDepth caps it.
	depthInfinity = 114514

	DefaultMaxBodySize     = 1 << 20
	DefaultMaxResourceSize = 10 << 20
)

// RequestContext holds parsed information about the incoming CalDAV request.
type RequestContext struct {
	Resource Resource // Contains UserID, CalendarID, ObjectID, and ResourceType
	AuthUser string   // Authenticated user ID
	Depth    int      // capped by the handler's MaxDepth
	Profile  calendar.Profile
}

// Config collects what a CaldavHandler needs. Storage, Auth and ChangeLog
// are required.
type Config struct {
	Prefix    string // e.g., "/caldav/"
	Realm     string // Realm for Basic Auth
	Storage   storage.Storage
	Auth      storage.Authenticator
	ChangeLog changelog.Log
	// Directory resolves attendee mail addresses to display names when
	// calendar data is rendered. Optional.
	Directory       calendar.Directory
	MaxDepth        int   // Max depth for PROPFIND requests, 0 means 1
	MaxBodySize     int64 // limit for XML request bodies
	MaxResourceSize int64 // limit for calendar object bodies
	URLConverter    URLConverter
	Logger          *slog.Logger
}

// CaldavHandler is the main HTTP handler for CalDAV requests under a specific prefix.
type CaldavHandler struct {
	Prefix          string
	Realm           string
	Storage         storage.Storage
	Auth            storage.Authenticator
	ChangeLog       changelog.Log
	Directory       calendar.Directory
	MaxDepth        int
	MaxBodySize     int64
	MaxResourceSize int64
	URLConverter    URLConverter
	Logger          *slog.Logger

	resolver *resolver.Resolver
	reports  *report.Dispatcher
}

// NewCaldavHandler creates a new CaldavHandler.
func NewCaldavHandler(cfg Config) *CaldavHandler {
	prefix := cfg.Prefix
	// Ensure prefix starts and ends with a slash for consistent parsing
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	if cfg.URLConverter == nil {
		cfg.URLConverter = &DefaultURLConverter{Prefix: prefix}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxResourceSize <= 0 {
		cfg.MaxResourceSize = DefaultMaxResourceSize
	}
	if cfg.Realm == "" {
		cfg.Realm = "caldora"
	}
	return &CaldavHandler{
		Prefix:          prefix,
		Realm:           cfg.Realm,
		Storage:         cfg.Storage,
		Auth:            cfg.Auth,
		ChangeLog:       cfg.ChangeLog,
		Directory:       cfg.Directory,
		MaxDepth:        cfg.MaxDepth,
		MaxBodySize:     cfg.MaxBodySize,
		MaxResourceSize: cfg.MaxResourceSize,
		URLConverter:    cfg.URLConverter,
		Logger:          cfg.Logger,
		resolver:        resolver.New(cfg.Storage, cfg.ChangeLog, cfg.Logger.With("component", "resolver")),
		reports:         report.New(cfg.Storage, cfg.ChangeLog, cfg.Directory, cfg.Logger.With("component", "report")),
	}
}

// ServeHTTP handles incoming HTTP requests, performs authentication, parsing, and routing.
func (h *CaldavHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Logger.Debug("request received",
		"method", r.Method,
		"path", r.URL.Path,
		"user_agent", r.UserAgent())

	if r.Method == http.MethodOptions {
		h.handleOptions(w, r)
		return
	}

	authUser, ok := h.checkAuth(w, r)
	if !ok {
		return
	}

	resource, err := h.URLConverter.ParsePath(r.URL.EscapedPath())
	if err != nil {
		h.Logger.Debug("invalid path", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	ctx := &RequestContext{
		Resource: resource,
		AuthUser: authUser,
		Depth:    h.parseDepth(r.Header.Get(headerDepth)),
		Profile:  calendar.ProfileFor(r.UserAgent()),
	}

	h.Logger.Debug("parsed path",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID,
		"auth_user", ctx.AuthUser,
		"profile", ctx.Profile.Name)

	switch r.Method {
	case "PROPFIND":
		h.handlePropfind(w, r, ctx)
	case "REPORT":
		h.handleReport(w, r, ctx)
	case http.MethodPut:
		h.handlePut(w, r, ctx)
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r, ctx)
	case http.MethodDelete:
		h.handleDelete(w, r, ctx)
	case "MKCOL", "MKCALENDAR":
		h.handleMkCalendar(w, r, ctx)
	default:
		h.Logger.Debug("method not allowed", "method", r.Method)
		w.Header().Set(headerAllow, allowedMethods)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// parseDepth reads the Depth header. A missing or invalid value means 0.
func (h *CaldavHandler) parseDepth(value string) int {
	depth := 0
	switch value {
	case "":
	case "infinity":
		depth = depthInfinity
	default:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			h.Logger.Debug("invalid Depth header value, defaulting to 0", "depth", value)
			return 0
		}
		depth = n
	}
	return min(depth, h.MaxDepth)
}

func (h *CaldavHandler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(headerAllow, allowedMethods)
	w.Header().Set(headerDAV, davCapabilities)
	w.WriteHeader(http.StatusOK)
}

// ServeWellKnown redirects /.well-known/caldav to the service root.
func (h *CaldavHandler) ServeWellKnown(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.Prefix, http.StatusMovedPermanently)
}

// collection loads the collection addressed by the request and checks that
// the authenticated user holds p on it.
func (h *CaldavHandler) collection(ctx context.Context, rc *RequestContext, p storage.Privilege) (*storage.Collection, error) {
	coll, err := h.Storage.GetCollection(ctx, rc.Resource.UserID, rc.Resource.CalendarID)
	if err != nil {
		return nil, err
	}
	if !coll.Allows(rc.AuthUser, p) {
		return nil, storage.ErrPermissionDenied
	}
	return coll, nil
}

// requireOwner rejects access to another user's principal or home set.
func requireOwner(rc *RequestContext) error {
	if rc.Resource.UserID != "" && rc.Resource.UserID != rc.AuthUser {
		return storage.ErrPermissionDenied
	}
	return nil
}
