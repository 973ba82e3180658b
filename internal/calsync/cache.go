package calsync

// cache is the ordered, id-keyed event list. Insertion order is the stable
// display order; no two entries share an id. Not safe for concurrent use;
// Syncer guards it.
type cache struct {
	entries []Event
	index   map[string]int
}

func newCache() *cache {
	return &cache{index: make(map[string]int)}
}

func (c *cache) len() int {
	return len(c.entries)
}

func (c *cache) get(id string) (Event, bool) {
	i, ok := c.index[id]
	if !ok {
		return Event{}, false
	}

	return c.entries[i], true
}

// put replaces the entry with ev.ID in place, or appends ev.
func (c *cache) put(ev Event) {
	if i, ok := c.index[ev.ID]; ok {
		c.entries[i] = ev
		return
	}

	c.index[ev.ID] = len(c.entries)
	c.entries = append(c.entries, ev)
}

// replace swaps the entry oldID for ev at the same position. Any other
// entry already holding ev.ID is dropped. Returns false if oldID is absent.
func (c *cache) replace(oldID string, ev Event) bool {
	i, ok := c.index[oldID]
	if !ok {
		return false
	}

	if j, dup := c.index[ev.ID]; dup && j != i {
		c.entries = append(c.entries[:j], c.entries[j+1:]...)
		if j < i {
			i--
		}
	}

	c.entries[i] = ev
	c.reindex()

	return true
}

func (c *cache) remove(id string) bool {
	return c.removeWhere(func(e Event) bool { return e.ID == id }) > 0
}

// removeWhere drops every entry matching pred and returns how many went.
func (c *cache) removeWhere(pred func(Event) bool) int {
	kept := c.entries[:0]

	for _, e := range c.entries {
		if !pred(e) {
			kept = append(kept, e)
		}
	}

	removed := len(c.entries) - len(kept)

	// Zero the tail so dropped events can be collected.
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = Event{}
	}

	c.entries = kept

	if removed > 0 {
		c.reindex()
	}

	return removed
}

func (c *cache) clear() {
	c.entries = nil
	c.index = make(map[string]int)
}

// snapshot returns a copy of the entries in display order.
func (c *cache) snapshot() []Event {
	out := make([]Event, len(c.entries))
	copy(out, c.entries)

	return out
}

func (c *cache) reindex() {
	c.index = make(map[string]int, len(c.entries))

	for i, e := range c.entries {
		c.index[e.ID] = i
	}
}
