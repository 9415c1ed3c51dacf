package server

import (
	"net/http"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	calendarmultiget "github.com/cyp0633/caldora/internal/xml/calendar-multiget"
	calendarquery "github.com/cyp0633/caldora/internal/xml/calendar-query"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	synccollection "github.com/cyp0633/caldora/internal/xml/sync-collection"
	"github.com/cyp0633/caldora/server/report"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleReport(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Debug("report request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID)

	if ctx.Resource.ResourceType != storage.ResourceCollection {
		h.Logger.Debug("report not allowed on resource type", "resource_type", ctx.Resource.ResourceType)
		h.writeError(w, r, errUnsupportedReport)
		return
	}

	doc, err := xml.ReadDocument(r.Body, h.MaxBodySize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	coll, err := h.collection(r.Context(), ctx, storage.PrivilegeRead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	href, err := h.URLConverter.EncodePath(Resource{UserID: coll.UserID, CalendarID: coll.ID, ResourceType: storage.ResourceCollection})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	target := report.Target{CollectionID: coll.Key(), Href: href, Profile: ctx.Profile}

	var ms *xml.MultistatusResponse
	switch xml.LocalName(doc.Root()) {
	case "sync-collection":
		ms, err = h.syncCollection(r, ctx, coll, target, doc)
	case "calendar-multiget":
		ms, err = h.calendarMultiget(r, ctx, coll, target, doc)
	case "calendar-query":
		ms, err = h.calendarQuery(r, ctx, coll, target, doc)
	default:
		err = errUnsupportedReport
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeMultistatus(w, r, ms)
}

func (h *CaldavHandler) syncCollection(r *http.Request, ctx *RequestContext, coll *storage.Collection, t report.Target, doc *etree.Document) (*xml.MultistatusResponse, error) {
	req, err := synccollection.ParseRequest(doc)
	if err != nil {
		return nil, err
	}
	t.WithData = req.Prop.Wants("calendar-data")
	result, err := h.reports.SyncCollection(r.Context(), t, req.Token, req.Limit)
	if err != nil {
		return nil, err
	}

	ms := h.itemsResponse(r, ctx, coll, req.Prop, result.Members)
	ms.SyncToken = result.Token
	for _, href := range result.NotFound {
		ms.Responses = append(ms.Responses, xml.Response{Href: href, Status: http.StatusNotFound})
	}
	if result.Truncated {
		// more changes remain; the client pages on with the returned token
		ms.Responses = append(ms.Responses, xml.Response{
			Href:   t.Href,
			Status: http.StatusInsufficientStorage,
			Error:  &xml.Error{Namespace: xml.DAV, Tag: "number-of-matches-within-limits"},
		})
	}
	h.Logger.Info("sync-collection",
		"collection", coll.Key(),
		"initial", req.Token == "",
		"updated", len(result.Members),
		"deleted", len(result.NotFound),
		"truncated", result.Truncated)
	return ms, nil
}

func (h *CaldavHandler) calendarMultiget(r *http.Request, ctx *RequestContext, coll *storage.Collection, t report.Target, doc *etree.Document) (*xml.MultistatusResponse, error) {
	req, hrefs, err := calendarmultiget.ParseRequest(doc)
	if err != nil {
		return nil, err
	}
	t.WithData = req.Wants("calendar-data")
	return h.itemsResponse(r, ctx, coll, req, h.reports.Multiget(r.Context(), t, hrefs)), nil
}

func (h *CaldavHandler) calendarQuery(r *http.Request, ctx *RequestContext, coll *storage.Collection, t report.Target, doc *etree.Document) (*xml.MultistatusResponse, error) {
	req, filter, err := calendarquery.ParseRequest(doc)
	if err != nil {
		return nil, err
	}
	t.WithData = req.Wants("calendar-data")
	items, err := h.reports.Query(r.Context(), t, filter)
	if err != nil {
		return nil, err
	}
	return h.itemsResponse(r, ctx, coll, req, items), nil
}

// itemsResponse renders per-item results; a failed item becomes a bare
// status response and never fails the report.
func (h *CaldavHandler) itemsResponse(r *http.Request, ctx *RequestContext, coll *storage.Collection, req propfind.Request, items []report.Item) *xml.MultistatusResponse {
	ms := &xml.MultistatusResponse{Responses: []xml.Response{}}
	for _, item := range items {
		res, err := item.Resource.Get()
		if err != nil {
			status, _ := statusFor(err)
			if status >= http.StatusInternalServerError {
				h.Logger.Error("report item failed", "href", item.Href, "error", err)
			}
			ms.Responses = append(ms.Responses, xml.Response{Href: item.Href, Status: status})
			continue
		}
		ms.Responses = append(ms.Responses, h.memberResponse(r, ctx, coll, req, res))
	}
	return ms
}

// memberResponse resolves the requested properties of one collection member.
func (h *CaldavHandler) memberResponse(r *http.Request, ctx *RequestContext, coll *storage.Collection, req propfind.Request, res report.Resource) xml.Response {
	env := newPropEnv(r.Context(), h, ctx, Resource{
		UserID:       coll.UserID,
		CalendarID:   coll.ID,
		ObjectID:     res.Name,
		URI:          res.Href,
		ResourceType: storage.ResourceObject,
	})
	env.collection = coll
	obj := res.Object
	env.preload = &obj
	env.rendered = res.Data

	names := req.Names
	if req.Type != propfind.RequestTypeProp {
		names = propNames(req, storage.ResourceObject)
	}
	resp := xml.Response{
		Href:      res.Href,
		PropStats: propfind.ToPropStats(h.resolvePropfind(env, names), false),
	}
	if len(resp.PropStats) == 0 {
		resp.Status = http.StatusOK
	}
	return resp
}
