package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handlePropfind(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Debug("propfind request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID,
		"depth", ctx.Depth)

	doc, err := xml.ReadDocument(r.Body, h.MaxBodySize)
	if err != nil && !errors.Is(err, xml.ErrEmptyBody) {
		h.writeError(w, r, err)
		return
	}
	req, err := propfind.ParseRequest(doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authorizeRead(r.Context(), ctx); err != nil {
		h.writeError(w, r, err)
		return
	}

	ms := &xml.MultistatusResponse{}
	err = h.walk(newPropEnv(r.Context(), h, ctx, ctx.Resource), ctx.Depth, func(env *propEnv) {
		href, err := env.ResourceHref()
		if err != nil {
			h.Logger.Error("failed to encode href", "resource", env.res, "error", err)
			return
		}
		resolved := h.resolvePropfind(env, propNames(req, env.res.ResourceType))
		ms.Responses = append(ms.Responses, xml.Response{
			Href:      href,
			PropStats: propfind.ToPropStats(resolved, req.Type == propfind.RequestTypePropName),
		})
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeMultistatus(w, r, ms)
}

// authorizeRead checks that the request target exists and the user may
// read it.
func (h *CaldavHandler) authorizeRead(ctx context.Context, rc *RequestContext) error {
	switch rc.Resource.ResourceType {
	case storage.ResourcePrincipal, storage.ResourceHomeSet:
		if err := requireOwner(rc); err != nil {
			return err
		}
		_, err := h.Storage.GetUser(ctx, rc.Resource.UserID)
		return err
	case storage.ResourceCollection:
		_, err := h.collection(ctx, rc, storage.PrivilegeRead)
		return err
	case storage.ResourceObject:
		coll, err := h.collection(ctx, rc, storage.PrivilegeRead)
		if err != nil {
			return err
		}
		_, err = h.resolver.Get(ctx, coll.Key(), rc.Resource.ObjectID)
		return err
	}
	return nil
}

// walk visits env and, depth permitting, the members of its resource.
func (h *CaldavHandler) walk(env *propEnv, depth int, visit func(env *propEnv)) error {
	visit(env)
	if depth <= 0 {
		return nil
	}

	ctx, rc, res := env.ctx, env.rc, env.res
	switch res.ResourceType {
	case storage.ResourceServiceRoot:
		child := newPropEnv(ctx, h, rc, Resource{UserID: rc.AuthUser, ResourceType: storage.ResourcePrincipal})
		return h.walk(child, depth-1, visit)

	case storage.ResourcePrincipal:
		child := newPropEnv(ctx, h, rc, Resource{UserID: res.UserID, ResourceType: storage.ResourceHomeSet})
		child.user = env.user
		return h.walk(child, depth-1, visit)

	case storage.ResourceHomeSet:
		colls, err := h.Storage.ListCollections(ctx, res.UserID)
		if err != nil {
			return err
		}
		for i := range colls {
			child := newPropEnv(ctx, h, rc, Resource{UserID: colls[i].UserID, CalendarID: colls[i].ID, ResourceType: storage.ResourceCollection})
			child.collection = &colls[i]
			if err := h.walk(child, depth-1, visit); err != nil {
				return err
			}
		}

	case storage.ResourceCollection:
		coll, err := env.GetCollection()
		if err != nil {
			return err
		}
		objs, err := h.Storage.ListObjects(ctx, coll.Key())
		if err != nil {
			return err
		}
		for i := range objs {
			child := newPropEnv(ctx, h, rc, Resource{
				UserID:       res.UserID,
				CalendarID:   res.CalendarID,
				ObjectID:     objs[i].Name,
				ResourceType: storage.ResourceObject,
			})
			child.collection = coll
			child.preload = &objs[i]
			if err := h.walk(child, depth-1, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *CaldavHandler) writeMultistatus(w http.ResponseWriter, r *http.Request, ms *xml.MultistatusResponse) {
	doc := ms.ToXML()
	doc.Indent(2)
	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := doc.WriteTo(w); err != nil {
		h.Logger.Warn("failed to write multistatus", "method", r.Method, "path", r.URL.Path, "error", err)
	}
}
