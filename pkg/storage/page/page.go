package page

import (
	"pagedb/pkg/primitives"
	"pagedb/pkg/transaction"
)

// DefaultPageSize is the page size used unless the configuration installs a
// different one.
const DefaultPageSize = 4096

// PageSize is the uniform size in bytes of heap pages and non-root-pointer
// B+-tree pages. The buffer pool owns this value; it is installed once at
// startup from configuration and must not change while files are open.
var PageSize = DefaultPageSize

// SetPageSize installs a page size. Only configuration loading and tests
// should call this, before any file is opened.
func SetPageSize(size int) {
	PageSize = size
}

// CreateEmptyPageData returns a zeroed buffer of PageSize bytes. Decoding it
// yields a page with no occupied slots.
func CreateEmptyPageData() []byte {
	return make([]byte, PageSize)
}

// Page is a page resident in the buffer pool. Pages may be "dirty",
// indicating they were modified since last written to disk.
type Page interface {
	// GetID returns the id of this page.
	GetID() primitives.PageID

	// IsDirty returns the transaction that last dirtied this page, or nil
	// if the page is clean.
	IsDirty() *transaction.TransactionID

	// MarkDirty sets or clears the dirty state of this page.
	MarkDirty(dirty bool, tid *transaction.TransactionID)

	// GetPageData re-encodes the page into exactly PageSize bytes (or the
	// page's own fixed size for the root-pointer page). Decoding the result
	// must reproduce the page.
	GetPageData() []byte

	// GetBeforeImage returns a page decoded from the bytes captured at
	// construction. Used by the buffer pool to roll back aborts.
	GetBeforeImage() Page

	// SetBeforeImage captures the current content as the new before image.
	// Called when a transaction that wrote this page commits.
	SetBeforeImage()
}
