package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	synccollection "github.com/cyp0633/caldora/internal/xml/sync-collection"
	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/report"
	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
)

var (
	errUnsupportedMediaType = errors.New("unsupported media type")
	errResourceTooLarge     = errors.New("calendar resource too large")
	errUnsupportedComponent = errors.New("component not supported by collection")
	errUnsupportedReport    = errors.New("unsupported report")
	errMissingCollection    = errors.New("parent collection does not exist")
	errCollectionExists     = errors.New("collection already exists")
)

// statusFor maps an error to the response status and, where a DAV
// precondition applies, the condition element reported in the body.
func statusFor(err error) (int, *xml.Error) {
	var parseErr *calendar.ParseError
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.As(err, &parseErr), errors.Is(err, calendar.ErrUnprocessable):
		return http.StatusForbidden, &xml.Error{Namespace: xml.CalDAV, Tag: "valid-calendar-data"}
	case errors.Is(err, errUnsupportedComponent):
		return http.StatusForbidden, &xml.Error{Namespace: xml.CalDAV, Tag: "supported-calendar-component"}
	case errors.Is(err, errResourceTooLarge):
		return http.StatusForbidden, &xml.Error{Namespace: xml.CalDAV, Tag: "max-resource-size"}
	case errors.Is(err, changelog.ErrInvalidToken), errors.Is(err, changelog.ErrTokenReset):
		return http.StatusForbidden, &xml.Error{Namespace: xml.DAV, Tag: "valid-sync-token"}
	case errors.Is(err, synccollection.ErrUnsupportedLevel):
		return http.StatusForbidden, &xml.Error{Namespace: xml.DAV, Tag: "sync-traversal-supported"}
	case errors.Is(err, errUnsupportedReport):
		return http.StatusForbidden, &xml.Error{Namespace: xml.DAV, Tag: "supported-report"}
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden, &xml.Error{Namespace: xml.CalDAV, Tag: "no-uid-conflict"}
	case errors.Is(err, storage.ErrPermissionDenied):
		return http.StatusForbidden, &xml.Error{Namespace: xml.DAV, Tag: "need-privileges"}
	case errors.Is(err, errCollectionExists):
		return http.StatusForbidden, &xml.Error{Namespace: xml.DAV, Tag: "resource-must-be-null"}
	case errors.Is(err, report.ErrLimitExceeded):
		return http.StatusInsufficientStorage, &xml.Error{Namespace: xml.DAV, Tag: "number-of-matches-within-limits"}
	case errors.Is(err, xml.ErrDoctype):
		return http.StatusBadRequest, nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, propfind.ErrNotFound):
		return http.StatusNotFound, nil
	case errors.Is(err, resolver.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, nil
	case errors.Is(err, errMissingCollection), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, nil
	case errors.Is(err, errUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, nil
	case errors.Is(err, xml.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, nil
	case errors.Is(err, xml.ErrEmptyBody), errors.Is(err, xml.ErrMalformed),
		errors.Is(err, propfind.ErrBadRequest), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, nil
	case errors.Is(err, storage.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, nil
	default:
		return http.StatusInternalServerError, nil
	}
}

// writeError is the single place errors become responses. Bodies carry the
// status text or a DAV condition, never the error itself.
func (h *CaldavHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, cond := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	} else {
		h.Logger.Debug("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}

	if cond == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(status)
	if _, err := cond.ToDocument().WriteTo(w); err != nil {
		h.Logger.Debug("failed to write error body", "error", err)
	}
}
