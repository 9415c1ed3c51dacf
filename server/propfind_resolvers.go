package server

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/samber/mo"

	"github.com/cyp0633/caldora/internal/xml/propfind"
	"github.com/cyp0633/caldora/internal/xml/props"
	"github.com/cyp0633/caldora/server/calendar"
	"github.com/cyp0633/caldora/server/storage"
)

// Resolver resolves a single property for the given environment.
type Resolver func(env *propEnv) mo.Result[props.Property]

// propEnv provides lazy accessors for frequently used resources.
type propEnv struct {
	h        *CaldavHandler
	ctx      context.Context
	rc       *RequestContext
	res      Resource
	preload  *storage.StoredObject
	rendered string // calendar-data already encoded by the report dispatcher

	user       *storage.User
	collection *storage.Collection
	object     *storage.StoredObject
}

func newPropEnv(ctx context.Context, h *CaldavHandler, rc *RequestContext, res Resource) *propEnv {
	return &propEnv{h: h, ctx: ctx, rc: rc, res: res}
}

func (e *propEnv) ResourceHref() (string, error) {
	if e.res.URI != "" {
		return e.res.URI, nil
	}
	return e.h.URLConverter.EncodePath(e.res)
}

// ownerID is the user the resource belongs to; the service root belongs to
// whoever is asking.
func (e *propEnv) ownerID() string {
	if e.res.UserID != "" {
		return e.res.UserID
	}
	return e.rc.AuthUser
}

func (e *propEnv) principalHref(userID string) (string, error) {
	return e.h.URLConverter.EncodePath(Resource{UserID: userID, ResourceType: storage.ResourcePrincipal})
}

func (e *propEnv) PrincipalHref() (string, error) {
	return e.principalHref(e.ownerID())
}

func (e *propEnv) HomeSetHref() (string, error) {
	return e.h.URLConverter.EncodePath(Resource{UserID: e.ownerID(), ResourceType: storage.ResourceHomeSet})
}

func (e *propEnv) GetUser() (*storage.User, error) {
	if e.user != nil {
		return e.user, nil
	}
	u, err := e.h.Storage.GetUser(e.ctx, e.ownerID())
	if err != nil {
		return nil, err
	}
	e.user = u
	return e.user, nil
}

func (e *propEnv) GetCollection() (*storage.Collection, error) {
	if e.collection != nil {
		return e.collection, nil
	}
	c, err := e.h.Storage.GetCollection(e.ctx, e.res.UserID, e.res.CalendarID)
	if err != nil {
		return nil, err
	}
	e.collection = c
	return e.collection, nil
}

func (e *propEnv) GetObject() (*storage.StoredObject, error) {
	if e.object != nil {
		return e.object, nil
	}
	if e.preload != nil {
		e.object = e.preload
		return e.object, nil
	}
	c, err := e.GetCollection()
	if err != nil {
		return nil, err
	}
	o, err := e.h.resolver.Get(e.ctx, c.Key(), e.res.ObjectID)
	if err != nil {
		return nil, err
	}
	e.object = o
	return e.object, nil
}

// fail logs unexpected lookup errors and turns them into a propstat status.
func (e *propEnv) fail(prop string, err error) mo.Result[props.Property] {
	if errors.Is(err, storage.ErrNotFound) {
		return mo.Err[props.Property](propfind.ErrNotFound)
	}
	e.h.Logger.Error("failed to resolve property",
		"property", prop,
		"resource", e.res.URI,
		"error", err)
	return mo.Err[props.Property](propfind.ErrInternal)
}

func privilegeNames(privs []storage.Privilege) []string {
	out := make([]string, 0, len(privs))
	for _, p := range privs {
		out = append(out, string(p))
	}
	return out
}

func (e *propEnv) privilegeSet() ([]string, error) {
	switch e.res.ResourceType {
	case storage.ResourceCollection, storage.ResourceObject:
		c, err := e.GetCollection()
		if err != nil {
			return nil, err
		}
		return privilegeNames(c.Privileges(e.rc.AuthUser)), nil
	case storage.ResourceServiceRoot:
		return []string{string(storage.PrivilegeRead)}, nil
	default:
		return []string{string(storage.PrivilegeRead), string(storage.PrivilegeWrite)}, nil
	}
}

// buildACLProperty lists the owner with every privilege followed by the
// grants of a collection's ACL, sorted by principal.
func buildACLProperty(env *propEnv) mo.Result[props.Property] {
	owner, err := env.PrincipalHref()
	if err != nil {
		return env.fail("acl", err)
	}
	aces := []props.ACE{{Principal: owner, Grant: []string{string(storage.PrivilegeAll)}}}

	if env.res.ResourceType == storage.ResourceCollection || env.res.ResourceType == storage.ResourceObject {
		c, err := env.GetCollection()
		if err != nil {
			return env.fail("acl", err)
		}
		for _, principal := range slices.Sorted(maps.Keys(c.ACL)) {
			href, err := env.principalHref(principal)
			if err != nil {
				return env.fail("acl", err)
			}
			aces = append(aces, props.ACE{Principal: href, Grant: privilegeNames(c.ACL[principal])})
		}
	}
	return mo.Ok[props.Property](&props.ACL{Aces: aces})
}

// resolveWith dispatches properties using the provided resolver table.
func resolveWith(env *propEnv, resolvers map[string]Resolver, req propfind.ResponseMap) propfind.ResponseMap {
	for key := range req {
		if r, ok := resolvers[key]; ok {
			req[key] = r(env)
		} else {
			req[key] = mo.Err[props.Property](propfind.ErrNotFound)
		}
	}
	return req
}

// Common resolvers shared across resource types.
var commonResolvers = map[string]Resolver{
	"owner": func(env *propEnv) mo.Result[props.Property] {
		href, err := env.PrincipalHref()
		if err != nil {
			return env.fail("owner", err)
		}
		return mo.Ok[props.Property](&props.Owner{Value: href})
	},
	"current-user-principal": func(env *propEnv) mo.Result[props.Property] {
		href, err := env.principalHref(env.rc.AuthUser)
		if err != nil {
			return env.fail("current-user-principal", err)
		}
		return mo.Ok[props.Property](&props.CurrentUserPrincipal{Value: href})
	},
	"principal-url": func(env *propEnv) mo.Result[props.Property] {
		href, err := env.PrincipalHref()
		if err != nil {
			return env.fail("principal-url", err)
		}
		return mo.Ok[props.Property](&props.PrincipalURL{Value: href})
	},
	"supported-report-set": func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.SupportedReportSet{Reports: []props.ReportType{}})
	},
	"current-user-privilege-set": func(env *propEnv) mo.Result[props.Property] {
		privs, err := env.privilegeSet()
		if err != nil {
			return env.fail("current-user-privilege-set", err)
		}
		return mo.Ok[props.Property](&props.CurrentUserPrivilegeSet{Privileges: privs})
	},
	"acl": buildACLProperty,
	"calendar-home-set": func(env *propEnv) mo.Result[props.Property] {
		href, err := env.HomeSetHref()
		if err != nil {
			return env.fail("calendar-home-set", err)
		}
		return mo.Ok[props.Property](&props.CalendarHomeSet{Href: href})
	},
	"calendar-user-address-set": func(env *propEnv) mo.Result[props.Property] {
		user, err := env.GetUser()
		if err != nil {
			return env.fail("calendar-user-address-set", err)
		}
		if user.UserAddress == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.CalendarUserAddressSet{Addresses: []string{"mailto:" + user.UserAddress}})
	},
	"calendar-user-type": func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.CalendarUserType{Value: "INDIVIDUAL"})
	},
}

// inherit copies the common table so a resource type can override entries.
func inherit() map[string]Resolver {
	return maps.Clone(commonResolvers)
}

// Principal specific resolvers.
var principalResolvers = func() map[string]Resolver {
	m := inherit()
	m["displayname"] = func(env *propEnv) mo.Result[props.Property] {
		user, err := env.GetUser()
		if err != nil {
			return env.fail("displayname", err)
		}
		name := env.res.UserID
		if user.DisplayName != "" {
			name = user.DisplayName
		}
		return mo.Ok[props.Property](&props.DisplayName{Value: name})
	}
	m["resourcetype"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.Resourcetype{Type: storage.ResourcePrincipal})
	}
	m["calendar-color"] = func(env *propEnv) mo.Result[props.Property] {
		user, err := env.GetUser()
		if err != nil {
			return env.fail("calendar-color", err)
		}
		if user.PreferredColor == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.CalendarColor{Value: user.PreferredColor})
	}
	return m
}()

// HomeSet specific resolvers.
var homeSetResolvers = func() map[string]Resolver {
	m := inherit()
	m["displayname"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.DisplayName{Value: "Calendar Home"})
	}
	m["resourcetype"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.Resourcetype{Type: storage.ResourceHomeSet})
	}
	m["supported-calendar-data"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.SupportedCalendarData{ContentType: "text/calendar", Version: "2.0"})
	}
	m["max-resource-size"] = func(env *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.MaxResourceSize{Value: env.h.MaxResourceSize})
	}
	return m
}()

// Collection specific resolvers.
var collectionResolvers = func() map[string]Resolver {
	m := inherit()
	withCollection := func(name string, fn func(c *storage.Collection) mo.Result[props.Property]) Resolver {
		return withCollectionEnv(name, func(_ *propEnv, c *storage.Collection) mo.Result[props.Property] {
			return fn(c)
		})
	}
	m["displayname"] = withCollection("displayname", func(c *storage.Collection) mo.Result[props.Property] {
		name := c.DisplayName
		if name == "" {
			name = c.ID
		}
		return mo.Ok[props.Property](&props.DisplayName{Value: name})
	})
	m["resourcetype"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.Resourcetype{Type: storage.ResourceCollection})
	}
	m["supported-report-set"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.SupportedReportSet{Reports: []props.ReportType{
			props.ReportTypeCalendarQuery,
			props.ReportTypeCalendarMultiget,
			props.ReportTypeSyncCollection,
		}})
	}
	m["getctag"] = withCollectionEnv("getctag", func(env *propEnv, c *storage.Collection) mo.Result[props.Property] {
		ctag, err := env.h.reports.CTag(env.ctx, c.Key())
		if err != nil {
			return env.fail("getctag", err)
		}
		return mo.Ok[props.Property](&props.GetCTag{Value: ctag})
	})
	m["sync-token"] = withCollectionEnv("sync-token", func(env *propEnv, c *storage.Collection) mo.Result[props.Property] {
		tok, err := env.h.reports.SyncToken(env.ctx, c.Key())
		if err != nil {
			return env.fail("sync-token", err)
		}
		return mo.Ok[props.Property](&props.SyncToken{Value: tok})
	})
	m["calendar-description"] = withCollection("calendar-description", func(c *storage.Collection) mo.Result[props.Property] {
		if c.Description == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.CalendarDescription{Value: c.Description})
	})
	m["calendar-timezone"] = withCollection("calendar-timezone", func(c *storage.Collection) mo.Result[props.Property] {
		if c.Timezone == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.CalendarTimezone{Value: c.Timezone})
	})
	m["supported-calendar-component-set"] = withCollection("supported-calendar-component-set", func(c *storage.Collection) mo.Result[props.Property] {
		comps := c.SupportedComponents
		if len(comps) == 0 {
			comps = []string{string(calendar.KindEvent), string(calendar.KindTodo)}
		}
		return mo.Ok[props.Property](&props.SupportedCalendarComponentSet{Components: comps})
	})
	m["supported-calendar-data"] = homeSetResolvers["supported-calendar-data"]
	m["max-resource-size"] = homeSetResolvers["max-resource-size"]
	m["calendar-color"] = withCollection("calendar-color", func(c *storage.Collection) mo.Result[props.Property] {
		if c.Color == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.CalendarColor{Value: c.Color})
	})
	m["getlastmodified"] = withCollection("getlastmodified", func(c *storage.Collection) mo.Result[props.Property] {
		if c.Created.IsZero() {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.GetLastModified{Value: c.Created})
	})
	return m
}()

func withCollectionEnv(name string, fn func(env *propEnv, c *storage.Collection) mo.Result[props.Property]) Resolver {
	return func(env *propEnv) mo.Result[props.Property] {
		c, err := env.GetCollection()
		if err != nil {
			return env.fail(name, err)
		}
		return fn(env, c)
	}
}

// Object specific resolvers.
var objectResolvers = func() map[string]Resolver {
	m := inherit()
	withObject := func(name string, fn func(env *propEnv, o *storage.StoredObject) mo.Result[props.Property]) Resolver {
		return func(env *propEnv) mo.Result[props.Property] {
			o, err := env.GetObject()
			if err != nil {
				return env.fail(name, err)
			}
			return fn(env, o)
		}
	}
	m["resourcetype"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.Resourcetype{Type: storage.ResourceObject})
	}
	m["getetag"] = withObject("getetag", func(_ *propEnv, o *storage.StoredObject) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.GetEtag{Value: o.ETag})
	})
	m["schedule-tag"] = withObject("schedule-tag", func(_ *propEnv, o *storage.StoredObject) mo.Result[props.Property] {
		if o.ScheduleTag == "" {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.ScheduleTag{Value: o.ScheduleTag})
	})
	m["getlastmodified"] = withObject("getlastmodified", func(_ *propEnv, o *storage.StoredObject) mo.Result[props.Property] {
		if o.Modified.IsZero() {
			return mo.Err[props.Property](propfind.ErrNotFound)
		}
		return mo.Ok[props.Property](&props.GetLastModified{Value: o.Modified})
	})
	m["getcontenttype"] = withObject("getcontenttype", func(_ *propEnv, o *storage.StoredObject) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.GetContentType{Value: contentTypeFor(o.Object)})
	})
	m["calendar-data"] = withObject("calendar-data", func(env *propEnv, o *storage.StoredObject) mo.Result[props.Property] {
		if env.rendered != "" {
			return mo.Ok[props.Property](&props.CalendarData{ICal: env.rendered})
		}
		data, err := calendar.Encode(o.Object, calendar.EncodeOptions{Profile: env.rc.Profile, Directory: env.h.Directory})
		if err != nil {
			return env.fail("calendar-data", err)
		}
		return mo.Ok[props.Property](&props.CalendarData{ICal: data})
	})
	return m
}()

// Service root specific resolvers.
var serviceRootResolvers = func() map[string]Resolver {
	m := map[string]Resolver{}
	m["displayname"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.DisplayName{Value: "CalDAV Service Root"})
	}
	m["resourcetype"] = func(_ *propEnv) mo.Result[props.Property] {
		return mo.Ok[props.Property](&props.Resourcetype{Type: storage.ResourceServiceRoot})
	}
	m["current-user-principal"] = commonResolvers["current-user-principal"]
	m["principal-url"] = commonResolvers["principal-url"]
	m["calendar-home-set"] = commonResolvers["calendar-home-set"]
	m["current-user-privilege-set"] = commonResolvers["current-user-privilege-set"]
	m["supported-report-set"] = commonResolvers["supported-report-set"]
	return m
}()

// allpropExcluded are the properties only returned when asked for by name.
var allpropExcluded = map[string]bool{
	"calendar-data":             true,
	"acl":                       true,
	"supported-report-set":      true,
	"calendar-user-address-set": true,
}

func resolverTable(rt storage.ResourceType) map[string]Resolver {
	switch rt {
	case storage.ResourcePrincipal:
		return principalResolvers
	case storage.ResourceHomeSet:
		return homeSetResolvers
	case storage.ResourceCollection:
		return collectionResolvers
	case storage.ResourceObject:
		return objectResolvers
	case storage.ResourceServiceRoot:
		return serviceRootResolvers
	default:
		return map[string]Resolver{}
	}
}

// propNames lists what a request asks for on a resource of type rt.
func propNames(req propfind.Request, rt storage.ResourceType) []string {
	switch req.Type {
	case propfind.RequestTypeProp:
		return req.Names
	case propfind.RequestTypePropName:
		return slices.Sorted(maps.Keys(resolverTable(rt)))
	default:
		var names []string
		for _, name := range slices.Sorted(maps.Keys(resolverTable(rt))) {
			if !allpropExcluded[name] {
				names = append(names, name)
			}
		}
		for _, name := range req.Include {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		return names
	}
}

// resolvePropfind fills the ResponseMap for the given resource type.
func (h *CaldavHandler) resolvePropfind(env *propEnv, names []string) propfind.ResponseMap {
	req := make(propfind.ResponseMap, len(names))
	for _, name := range names {
		req[name] = mo.Err[props.Property](propfind.ErrNotFound)
	}
	return resolveWith(env, resolverTable(env.res.ResourceType), req)
}

// contentTypeFor is the getcontenttype of an object resource.
func contentTypeFor(o calendar.Object) string {
	return "text/calendar; charset=utf-8; component=" + string(o.Kind)
}
