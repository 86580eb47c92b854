package analytics

import (
	"sort"
)

// Item is one row of a ranked list
type Item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"typ"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
	From  string  `json:"from,omitempty"`
	To    string  `json:"to,omitempty"`
}

// Others is the synthetic item that collects truncated rows
var Others = Item{ID: "other", Name: "Others", Type: "other"}

// MakeTopList sorts items by descending count and truncates the list to max
// rows. When truncation happens the top max-1 rows are kept and all
// remaining counts are merged into a trailing Others row, so the sum of
// counts is preserved. Every returned row carries its share of the total.
func MakeTopList(items []Item, max int) []Item {
	if max < 1 {
		max = 1
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	total := 0
	for _, it := range sorted {
		total += it.Count
	}

	var out []Item
	if len(sorted) <= max {
		out = sorted
	} else {
		out = make([]Item, 0, max)
		out = append(out, sorted[:max-1]...)
		other := Others
		for _, it := range sorted[max-1:] {
			other.Count += it.Count
		}
		out = append(out, other)
	}

	for i := range out {
		if out[i].Name == "" {
			out[i].Name = out[i].ID
		}
		if out[i].Type == "" {
			out[i].Type = out[i].ID
		}
		out[i].Pct = 0
		if total > 0 {
			out[i].Pct = float64(out[i].Count) * 100 / float64(total)
		}
	}
	return out
}

// tally accumulates counts by id, keeping first-seen order
type tally struct {
	items []Item
	index map[string]int
}

func newTally() *tally {
	return &tally{index: make(map[string]int)}
}

// add increments the item with the same id or appends a copy of it
func (t *tally) add(it Item, n int) {
	if i, ok := t.index[it.ID]; ok {
		t.items[i].Count += n
		return
	}
	it.Count = n
	t.index[it.ID] = len(t.items)
	t.items = append(t.items, it)
}

func (t *tally) list() []Item {
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}
