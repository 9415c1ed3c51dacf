package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handlePut(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("put request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID)

	if ctx.Resource.ResourceType != storage.ResourceObject {
		h.Logger.Warn("put not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	// 1) Check Content-Type
	mediaType, _, err := mime.ParseMediaType(r.Header.Get(headerContentType))
	if err != nil || mediaType != "text/calendar" {
		h.Logger.Warn("unsupported media type",
			"content_type", r.Header.Get(headerContentType))
		h.writeError(w, r, errUnsupportedMediaType)
		return
	}

	// 2) The parent collection must exist and be writable
	coll, err := h.collection(r.Context(), ctx, storage.PrivilegeWrite)
	if errors.Is(err, storage.ErrNotFound) {
		err = errMissingCollection
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// 3) Read & parse
	data, err := io.ReadAll(io.LimitReader(r.Body, h.MaxResourceSize+1))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if int64(len(data)) > h.MaxResourceSize {
		h.writeError(w, r, errResourceTooLarge)
		return
	}
	obj, err := calendar.Decode(string(data), calendar.DecodeOptions{
		DefaultLocation: coll.Location(),
		Profile:         ctx.Profile,
	})
	if err != nil {
		h.Logger.Warn("invalid iCalendar data",
			"object_id", ctx.Resource.ObjectID,
			"error", err)
		h.writeError(w, r, err)
		return
	}
	if !coll.Supports(obj.Kind) {
		h.writeError(w, r, errUnsupportedComponent)
		return
	}

	// 4) Apply under the preconditions
	pre := resolver.Precondition{
		IfMatch:            r.Header.Get(headerIfMatch),
		IfNoneMatch:        r.Header.Get(headerIfNoneMatch),
		IfScheduleTagMatch: r.Header.Get(headerIfSchedMatch),
	}
	result, err := h.resolver.Write(r.Context(), coll.Key(), ctx.Resource.ObjectID, pre, obj)
	if err != nil {
		h.Logger.Info("put rejected",
			"collection", coll.Key(),
			"object_id", ctx.Resource.ObjectID,
			"error", err)
		h.writeError(w, r, err)
		return
	}

	// 5) Respond
	w.Header().Set(headerETag, result.ETag)
	if result.ScheduleTag != "" {
		w.Header().Set(headerScheduleTag, result.ScheduleTag)
	}
	if result.Created {
		h.Logger.Info("object created successfully",
			"collection", coll.Key(),
			"object_id", ctx.Resource.ObjectID,
			"etag", result.ETag)
		if loc, err := h.URLConverter.EncodePath(ctx.Resource); err == nil {
			w.Header().Set("Location", loc)
		}
		w.WriteHeader(http.StatusCreated)
		return
	}
	h.Logger.Info("object updated successfully",
		"collection", coll.Key(),
		"object_id", ctx.Resource.ObjectID,
		"etag", result.ETag,
		"unchanged", result.Unchanged)
	// accepted updates answer 201 like creates
	w.WriteHeader(http.StatusCreated)
}
