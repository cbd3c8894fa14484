package primitives

// PageID uniquely identifies a page inside a database file. Both heap pages
// and B+-tree pages implement it; B+-tree ids additionally carry a page
// category tag which participates in equality and hashing. The buffer pool
// keys its cache and lock table on HashCode, so two distinct ids must hash
// differently with overwhelming probability.
type PageID interface {
	// GetTableID returns the table this page belongs to.
	GetTableID() TableID

	// PageNo returns the page number within the table's file.
	PageNo() PageNumber

	// Serialize returns a byte representation of this page id, suitable
	// for hashing.
	Serialize() []byte

	// Equals checks if two page ids name the same page.
	Equals(other PageID) bool

	// String returns a human-readable representation.
	String() string

	// HashCode returns a stable hash of this page id.
	HashCode() HashCode
}
