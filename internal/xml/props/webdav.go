package props

import (
	"net/http"
	"time"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/server/storage"
)

type DisplayName struct {
	Value string
}

func (p DisplayName) Encode() *etree.Element {
	elem := createElement("displayname")
	elem.SetText(p.Value)
	return elem
}

func (p *DisplayName) Decode(elem *etree.Element) error {
	p.Value = elem.Text()
	return nil
}

type Resourcetype struct {
	Type storage.ResourceType
}

func (p Resourcetype) Encode() *etree.Element {
	elem := createElement("resourcetype")

	switch p.Type {
	case storage.ResourcePrincipal:
		// <d:resourcetype><d:principal/></d:resourcetype>
		elem.AddChild(createElement("principal"))
	case storage.ResourceHomeSet, storage.ResourceServiceRoot:
		elem.AddChild(createElement("collection"))
	case storage.ResourceCollection:
		// <d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>
		elem.AddChild(createElement("collection"))
		elem.AddChild(createElement("calendar"))
	}
	// object resources have an empty resourcetype
	return elem
}

type GetEtag struct {
	Value string
}

func (p GetEtag) Encode() *etree.Element {
	elem := createElement("getetag")
	elem.SetText(p.Value)
	return elem
}

type GetLastModified struct {
	Value time.Time
}

func (p GetLastModified) Encode() *etree.Element {
	elem := createElement("getlastmodified")
	elem.SetText(p.Value.UTC().Format(http.TimeFormat))
	return elem
}

type GetContentType struct {
	Value string
}

func (p GetContentType) Encode() *etree.Element {
	elem := createElement("getcontenttype")
	elem.SetText(p.Value)
	return elem
}

type Owner struct {
	Value string
}

func (p Owner) Encode() *etree.Element {
	elem := createElement("owner")
	hrefElement(elem, p.Value)
	return elem
}

type CurrentUserPrincipal struct {
	Value string
}

func (p CurrentUserPrincipal) Encode() *etree.Element {
	elem := createElement("current-user-principal")
	hrefElement(elem, p.Value)
	return elem
}

type PrincipalURL struct {
	Value string
}

func (p PrincipalURL) Encode() *etree.Element {
	elem := createElement("principal-url")
	hrefElement(elem, p.Value)
	return elem
}

type SupportedReportSet struct {
	Reports []ReportType
}

type ReportType int

const (
	ReportTypeCalendarQuery ReportType = iota
	ReportTypeCalendarMultiget
	ReportTypeSyncCollection
)

func (p SupportedReportSet) Encode() *etree.Element {
	elem := createElement("supported-report-set")

	for _, report := range p.Reports {
		var name string
		switch report {
		case ReportTypeCalendarQuery:
			name = "calendar-query"
		case ReportTypeCalendarMultiget:
			name = "calendar-multiget"
		case ReportTypeSyncCollection:
			name = "sync-collection"
		default:
			continue
		}
		supportedReportElem := createElement("supported-report")
		reportElem := createElement("report")
		reportElem.AddChild(createElement(name))
		supportedReportElem.AddChild(reportElem)
		elem.AddChild(supportedReportElem)
	}

	return elem
}

type ACE struct {
	Principal string
	Grant     []string
}

type ACL struct {
	Aces []ACE
}

func (p ACL) Encode() *etree.Element {
	elem := createElement("acl")

	for _, aceEntry := range p.Aces {
		aceElem := createElement("ace")
		elem.AddChild(aceElem)

		principalElem := createElement("principal")
		aceElem.AddChild(principalElem)
		hrefElement(principalElem, aceEntry.Principal)

		if len(aceEntry.Grant) > 0 {
			grantElem := createElement("grant")
			aceElem.AddChild(grantElem)
			for _, privilege := range aceEntry.Grant {
				privElem := createElement("privilege")
				privElem.AddChild(createElement(privilege))
				grantElem.AddChild(privElem)
			}
		}
	}

	return elem
}

type CurrentUserPrivilegeSet struct {
	Privileges []string
}

func (p CurrentUserPrivilegeSet) Encode() *etree.Element {
	elem := createElement("current-user-privilege-set")

	for _, privilege := range p.Privileges {
		privElem := createElement("privilege")
		privElem.AddChild(createElement(privilege))
		elem.AddChild(privElem)
	}

	return elem
}

// SyncToken is the collection's current sync-collection token.
type SyncToken struct {
	Value string
}

func (p SyncToken) Encode() *etree.Element {
	elem := createElement("sync-token")
	elem.SetText(p.Value)
	return elem
}
