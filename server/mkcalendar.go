package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/mkcalendar"
	"github.com/cyp0633/caldora/internal/xml/props"
	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/storage"
)

func (h *CaldavHandler) handleMkCalendar(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("mkcalendar request received",
		"method", r.Method,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID)

	if ctx.Resource.ResourceType != storage.ResourceCollection {
		h.Logger.Warn("mkcalendar not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if err := requireOwner(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := xml.ReadDocument(r.Body, h.MaxBodySize)
	if err != nil && !errors.Is(err, xml.ErrEmptyBody) {
		h.writeError(w, r, err)
		return
	}
	set, err := mkcalendar.ParseRequest(doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.Storage.GetUser(r.Context(), ctx.Resource.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	coll := newCollection(ctx.Resource, user, set)
	if err := h.Storage.CreateCollection(r.Context(), coll); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			err = errCollectionExists
		}
		h.writeError(w, r, err)
		return
	}
	if _, err := h.ChangeLog.Current(r.Context(), coll.Key()); err != nil {
		h.Logger.Error("failed to initialize change log", "collection", coll.Key(), "error", err)
	}

	h.Logger.Info("collection created successfully",
		"collection", coll.Key(),
		"components", coll.SupportedComponents,
		"timezone", coll.Timezone)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusCreated)
}

// newCollection builds a collection from the properties set by the client,
// falling back to the owner's preferences.
func newCollection(res Resource, user *storage.User, set map[string]props.Property) *storage.Collection {
	coll := &storage.Collection{
		UserID:              res.UserID,
		ID:                  res.CalendarID,
		DisplayName:         res.CalendarID,
		Color:               user.PreferredColor,
		Timezone:            user.PreferredTimezone,
		SupportedComponents: []string{string(calendar.KindEvent), string(calendar.KindTodo)},
		Created:             time.Now().UTC(),
	}
	if p, ok := set["displayname"].(*props.DisplayName); ok && p.Value != "" {
		coll.DisplayName = p.Value
	}
	if p, ok := set["calendar-description"].(*props.CalendarDescription); ok {
		coll.Description = p.Value
	}
	if p, ok := set["calendar-color"].(*props.CalendarColor); ok && p.Value != "" {
		coll.Color = p.Value
	}
	if p, ok := set["calendar-timezone"].(*props.CalendarTimezone); ok {
		if tzid := timezoneID(p.Value); tzid != "" {
			coll.Timezone = tzid
		}
	}
	if p, ok := set["supported-calendar-component-set"].(*props.SupportedCalendarComponentSet); ok && len(p.Components) > 0 {
		coll.SupportedComponents = p.Components
	}
	return coll
}

// timezoneID extracts the zone name from a calendar-timezone value, which
// clients send either as a bare TZID or as a VCALENDAR carrying a VTIMEZONE.
// Zones unknown to the Go database are ignored.
func timezoneID(value string) string {
	value = strings.TrimSpace(value)
	tzid := value
	if strings.HasPrefix(strings.ToUpper(value), "BEGIN:VCALENDAR") {
		tzid = ""
		cal, err := ical.NewDecoder(strings.NewReader(value)).Decode()
		if err != nil {
			return ""
		}
		for _, child := range cal.Children {
			if child.Name != ical.CompTimezone {
				continue
			}
			if id, err := child.Props.Text(ical.PropTimezoneID); err == nil {
				tzid = id
				break
			}
		}
	}
	if tzid == "" {
		return ""
	}
	if _, err := time.LoadLocation(tzid); err != nil {
		return ""
	}
	return tzid
}
