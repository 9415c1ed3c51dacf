package synccollection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/internal/xml/propfind"
)

// ErrUnsupportedLevel is returned for sync-level infinite, which calendar
// collections have no use for.
var ErrUnsupportedLevel = errors.New("only sync-level 1 is supported")

// Request is a parsed sync-collection REPORT body.
type Request struct {
	// Token is the client's last sync-token, empty for an initial sync.
	Token string
	Prop  propfind.Request
	// Limit is the client's nresults, zero when absent.
	Limit int
}

// ParseRequest parses a sync-collection REPORT body.
func ParseRequest(doc *etree.Document) (Request, error) {
	root := doc.Root()
	if root == nil || xml.LocalName(root) != "sync-collection" {
		return Request{}, propfind.ErrBadRequest
	}
	req := Request{Prop: propfind.ParseProp(root)}
	if tok := xml.Child(root, xml.TagSyncToken); tok != nil {
		req.Token = strings.TrimSpace(tok.Text())
	}
	if level := xml.Child(root, "sync-level"); level != nil {
		switch strings.TrimSpace(level.Text()) {
		case "1":
		case "infinite", "infinity":
			return Request{}, ErrUnsupportedLevel
		default:
			return Request{}, fmt.Errorf("sync-level %q: %w", level.Text(), propfind.ErrBadRequest)
		}
	}
	if limit := xml.Child(root, "limit"); limit != nil {
		if n := xml.Child(limit, "nresults"); n != nil {
			v, err := strconv.Atoi(strings.TrimSpace(n.Text()))
			if err != nil || v < 0 {
				return Request{}, fmt.Errorf("nresults %q: %w", n.Text(), propfind.ErrBadRequest)
			}
			req.Limit = v
		}
	}
	return req, nil
}
