package document

import (
	"context"
	"fmt"

	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
)

// Cursor iterates a filtered listing one backend page at a time. At most one
// page is held in memory. A Cursor is not safe for concurrent use.
//
//	cur := svc.Iterate(index, raw, false)
//	for cur.Next(ctx) {
//		doc := cur.Document()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	backend Backend
	index   string
	node    filter.Node
	page    domdoc.Page
	invalid error

	buf  []domdoc.Document
	pos  int
	next string
	done bool
	err  error
}

func newCursor(backend Backend, index string, node filter.Node, page domdoc.Page) *Cursor {
	return &Cursor{backend: backend, index: index, node: node, page: page, pos: -1}
}

// Next advances to the next document, fetching a new page when needed.
// It returns false when the listing is exhausted or an error occurred.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.invalid != nil {
		c.err = c.invalid
		return false
	}
	for {
		if c.pos+1 < len(c.buf) {
			c.pos++
			return true
		}
		if c.done || c.err != nil {
			c.buf = nil
			return false
		}

		page := c.page
		page.Cursor = c.next
		docs, next, err := c.backend.QueryByFilter(ctx, c.index, c.node, page)
		if err != nil {
			c.err = fmt.Errorf("query by filter: %w", err)
			c.buf = nil
			return false
		}
		c.buf, c.pos, c.next = docs, -1, next
		if next == "" {
			c.done = true
		}
	}
}

// Document returns the current document. Valid only after Next returned true.
func (c *Cursor) Document() domdoc.Document {
	return c.buf[c.pos]
}

// Err returns the first error encountered.
func (c *Cursor) Err() error { return c.err }

// Reset rewinds the cursor to the first page and clears the error.
func (c *Cursor) Reset() {
	c.buf, c.pos, c.next = nil, -1, ""
	c.done, c.err = false, nil
}
