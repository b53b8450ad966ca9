package internal

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Version Chain (per record, newest first)
// --------------------------------------------------------------------------

// Node is one historical state of a record. Nodes are immutable once linked;
// chains grow at the head and are pruned at the tail.
type Node struct {
	Version uint64            // Commit that created this state
	Fields  map[string][]byte // nil when Deleted
	Deleted bool              // Tombstone marker
	Next    *Node             // Older state, or nil
}

// Chain is the reverse-chronological version chain of a single record.
// Readers load the head atomically and walk immutable nodes, so reads never
// take a lock. Only the single writer replaces the head.
type Chain struct {
	head atomic.Pointer[Node]
}

// Head returns the newest node of the chain (may be nil for a fresh chain).
func (c *Chain) Head() *Node {
	return c.head.Load()
}

// Append links a new node in front of the current head.
//
// Thread-safety: must only be called by the single writer.
func (c *Chain) Append(n *Node) {
	n.Next = c.head.Load()
	c.head.Store(n)
}

// VisibleAt returns the newest node whose version is <= v, or nil if the
// record did not exist at v. A tombstone node means "not visible".
func (c *Chain) VisibleAt(v uint64) *Node {
	for n := c.head.Load(); n != nil; n = n.Next {
		if n.Version <= v {
			if n.Deleted {
				return nil
			}
			return n
		}
	}
	return nil
}

// Prune drops nodes that no pinned reader can see anymore: everything older
// than the newest node at or below minPinned. Returns true when the chain
// has become a lone tombstone and can be removed entirely.
//
// Thread-safety: must only be called by the single writer. Readers walking
// the chain concurrently still see a consistent (if longer) suffix because
// nodes themselves are never mutated.
func (c *Chain) Prune(minPinned uint64) bool {
	head := c.head.Load()
	if head == nil {
		return true
	}

	// Find the newest node every pinned reader can still reach.
	cut := head
	for cut.Next != nil && cut.Version > minPinned {
		cut = cut.Next
	}
	cut.Next = nil

	return head == cut && head.Deleted && head.Version <= minPinned
}

// --------------------------------------------------------------------------
// Table Type
// --------------------------------------------------------------------------

// Table holds the record chains of one logical table. The concurrent map
// allows lock-free reader iteration while the writer inserts new chains.
type Table struct {
	Rows    *xsync.MapOf[string, *Chain]
	dropped atomic.Uint64 // Version the table was dropped at (0 = live)
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		Rows: xsync.NewMapOf[string, *Chain](),
	}
}

// MarkDropped records the version the table was dropped at. Chains are kept
// so readers pinned below that version still see the data.
func (t *Table) MarkDropped(v uint64) {
	t.dropped.Store(v)
}

// DroppedAt reports whether the table is dropped as of version v.
func (t *Table) DroppedAt(v uint64) bool {
	d := t.dropped.Load()
	return d != 0 && d <= v
}

// GetOrCreate returns the chain for a key, creating it when absent.
//
// Thread-safety: must only be called by the single writer.
func (t *Table) GetOrCreate(key string) *Chain {
	chain, _ := t.Rows.LoadOrCompute(key, func() *Chain {
		return &Chain{}
	})
	return chain
}
