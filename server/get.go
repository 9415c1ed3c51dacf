package server

import (
	"net/http"
	"strconv"

	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleGet(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Debug("get request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID)

	if ctx.Resource.ResourceType != storage.ResourceObject {
		// GET on collections, principals and the home set is not supported.
		w.Header().Set(headerAllow, "OPTIONS, PROPFIND, REPORT")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	coll, err := h.collection(r.Context(), ctx, storage.PrivilegeRead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	object, err := h.resolver.Get(r.Context(), coll.Key(), ctx.Resource.ObjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set(headerETag, object.ETag)
	if object.ScheduleTag != "" {
		w.Header().Set(headerScheduleTag, object.ScheduleTag)
	}
	if inm := r.Header.Get(headerIfNoneMatch); inm != "" && resolver.MatchTag(inm, object.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := calendar.Encode(object.Object, calendar.EncodeOptions{Profile: ctx.Profile, Directory: h.Directory})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set(headerContentType, mimeTypeCalendar)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if !object.Modified.IsZero() {
		w.Header().Set("Last-Modified", object.Modified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write([]byte(data)); err != nil {
		h.Logger.Warn("failed to write response", "error", err)
	}
}
