package calsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ev(id string) Event {
	return Event{ID: id}
}

func TestCache_PutKeepsInsertionOrder(t *testing.T) {
	c := newCache()
	c.put(ev("a"))
	c.put(ev("b"))
	c.put(Event{ID: "a", Title: "updated"})

	assert.Equal(t, []string{"a", "b"}, ids(c.snapshot()))

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "updated", got.Title)
}

func TestCache_Replace(t *testing.T) {
	tests := []struct {
		name  string
		start []string
		old   string
		newID string
		want  []string
		ok    bool
	}{
		{"in place", []string{"a", "p", "c"}, "p", "x", []string{"a", "x", "c"}, true},
		{"duplicate before", []string{"x", "b", "p"}, "p", "x", []string{"b", "x"}, true},
		{"duplicate after", []string{"p", "b", "x"}, "p", "x", []string{"x", "b"}, true},
		{"same id", []string{"a", "p"}, "p", "p", []string{"a", "p"}, true},
		{"missing", []string{"a"}, "p", "x", []string{"a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCache()
			for _, id := range tt.start {
				c.put(ev(id))
			}

			assert.Equal(t, tt.ok, c.replace(tt.old, ev(tt.newID)))
			assert.Equal(t, tt.want, ids(c.snapshot()))

			for i, e := range c.entries {
				assert.Equal(t, i, c.index[e.ID])
			}
		})
	}
}

func TestCache_RemoveWhere(t *testing.T) {
	c := newCache()
	for _, id := range []string{"a", "b", "c", "d"} {
		c.put(ev(id))
	}

	n := c.removeWhere(func(e Event) bool { return e.ID == "b" || e.ID == "d" })
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "c"}, ids(c.snapshot()))

	_, ok := c.get("d")
	assert.False(t, ok)

	assert.False(t, c.remove("zz"))
	assert.True(t, c.remove("a"))
	assert.Equal(t, 1, c.len())

	c.clear()
	assert.Zero(t, c.len())
}

func TestRange_Holds(t *testing.T) {
	r := Range{Start: at(0, 9), End: at(0, 17)}

	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"inside", Event{Start: at(0, 10), End: at(0, 11)}, true},
		{"straddles start", Event{Start: at(0, 8), End: at(0, 10)}, true},
		{"ends at start", Event{Start: at(0, 8), End: at(0, 9)}, false},
		{"starts at end", Event{Start: at(0, 17), End: at(0, 18)}, false},
		{"instant at start", Event{Start: at(0, 9), End: at(0, 9)}, true},
		{"covers range", Event{Start: at(0, 0), End: at(1, 0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Holds(tt.ev))
		})
	}
}

func TestDraft_NormalizesTitle(t *testing.T) {
	d := Draft{Title: "  Café ", Start: at(0, 9), End: at(0, 10)}.normalized()
	assert.Equal(t, "Café", d.Title)
	assert.NoError(t, d.Validate())
}
