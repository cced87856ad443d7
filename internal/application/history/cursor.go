package history

import (
	"sort"

	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Cursor is a read-only, restartable iterator over history entries
type Cursor struct {
	entries []*entity.HistoryEntry
	pos     int
}

// NewCursor sorts entries chronologically; entries with equal timestamps keep their input order
func NewCursor(entries []*entity.HistoryEntry) *Cursor {
	sorted := append([]*entity.HistoryEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Cursor{entries: sorted, pos: -1}
}

// Next advances the cursor and reports whether an entry is available
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.entries) {
		c.pos = len(c.entries)
		return false
	}
	c.pos++
	return true
}

// Entry returns the entry at the cursor; call only after Next returned true
func (c *Cursor) Entry() *entity.HistoryEntry {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	e := *c.entries[c.pos]
	return &e
}

// Reset rewinds the cursor to before the first entry
func (c *Cursor) Reset() {
	c.pos = -1
}

// Len returns the number of entries
func (c *Cursor) Len() int {
	return len(c.entries)
}

// All returns copies of every entry regardless of cursor position
func (c *Cursor) All() []*entity.HistoryEntry {
	out := make([]*entity.HistoryEntry, len(c.entries))
	for i, e := range c.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}
