package xml

import (
	"errors"
	"fmt"
	"io"

	"github.com/beevik/etree"
)

var (
	// ErrEmptyBody is returned for a request without a body
	ErrEmptyBody = errors.New("empty XML body")
	// ErrDoctype is returned for bodies carrying a DOCTYPE or entity
	// declaration; entities are never expanded
	ErrDoctype = errors.New("DOCTYPE and entity declarations are not allowed")
	// ErrTooLarge is returned when a body exceeds the read limit
	ErrTooLarge = errors.New("XML body too large")
	// ErrMalformed is returned for bodies that are not well-formed XML
	ErrMalformed = errors.New("malformed XML body")
)

// countingReader remembers how much was read so an empty body can be told
// apart from a malformed one.
type countingReader struct {
	n int64
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadDocument parses a request body of at most limit bytes. Bodies declaring
// a DOCTYPE are refused before any element is looked at.
func ReadDocument(r io.Reader, limit int64) (*etree.Document, error) {
	c := &countingReader{r: io.LimitReader(r, limit+1)}
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(c); err != nil {
		if c.n == 0 {
			return nil, ErrEmptyBody
		}
		if c.n > limit {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.n > limit {
		return nil, ErrTooLarge
	}
	if c.n == 0 {
		return nil, ErrEmptyBody
	}
	for _, tok := range doc.Child {
		if d, ok := tok.(*etree.Directive); ok && isDeclaration(d.Data) {
			return nil, ErrDoctype
		}
	}
	if doc.Root() == nil {
		for _, tok := range doc.Child {
			if cd, ok := tok.(*etree.CharData); !ok || !cd.IsWhitespace() {
				return nil, fmt.Errorf("%w: no root element", ErrMalformed)
			}
		}
		return nil, ErrEmptyBody
	}
	return doc, nil
}

func isDeclaration(data string) bool {
	for _, kw := range []string{"DOCTYPE", "ENTITY"} {
		if len(data) >= len(kw) && data[:len(kw)] == kw {
			return true
		}
	}
	return false
}
