package server

import (
	"net/http"

	"github.com/cyp0633/caldora/server/resolver"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleDelete(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("delete request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID)

	switch ctx.Resource.ResourceType {
	case storage.ResourceObject:
		coll, err := h.collection(r.Context(), ctx, storage.PrivilegeWrite)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		pre := resolver.Precondition{
			IfMatch:            r.Header.Get(headerIfMatch),
			IfScheduleTagMatch: r.Header.Get(headerIfSchedMatch),
		}
		if err := h.resolver.Delete(r.Context(), coll.Key(), ctx.Resource.ObjectID, pre); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.Logger.Info("object deleted successfully",
			"collection", coll.Key(),
			"object_id", ctx.Resource.ObjectID)

	case storage.ResourceCollection:
		coll, err := h.collection(r.Context(), ctx, storage.PrivilegeAll)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.Storage.DeleteCollection(r.Context(), coll.UserID, coll.ID); err != nil {
			h.writeError(w, r, err)
			return
		}
		// tokens of the old collection must not match a recreated one
		if _, err := h.ChangeLog.Reset(r.Context(), coll.Key()); err != nil {
			h.Logger.Error("failed to reset change log", "collection", coll.Key(), "error", err)
		}
		h.Logger.Info("collection deleted successfully", "collection", coll.Key())

	default:
		h.Logger.Warn("delete not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
