// Package headers implements the ordered headers container and URL
// components from spec §3 ("Headers container", "URL components").
package headers

import "strings"

// Entry is one original-case (name, value) pair.
type Entry struct {
	Name  string
	Value string
}

// MergeMode selects how Extend combines new entries with existing ones.
type MergeMode int

const (
	// ReplaceAll discards all existing entries and keeps only the new ones.
	ReplaceAll MergeMode = iota
	// ReplaceMatching replaces the entry list for any lowercase key present
	// in the new entries, leaving other keys untouched.
	ReplaceMatching
	// Append adds every new entry without removing anything.
	Append
)

// Headers is an immutable, ordered collection of header entries indexed by
// lowercase key, preserving original case and insertion order within a key
// (invariant §3.g).
type Headers struct {
	order   []string // lowercase keys, first-seen order
	entries map[string][]Entry
}

// Empty is the zero-value immutable empty headers container.
var Empty = &Headers{}

// New builds a Headers from a flat list of entries, as if each were
// appended in order.
func New(entries ...Entry) *Headers {
	return Empty.Extend(entries, Append)
}

func lower(name string) string { return strings.ToLower(name) }

// Keys returns the lowercase keys in first-seen order.
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Get returns the ordered entries for a lowercase key.
func (h *Headers) Get(key string) []Entry {
	if h == nil {
		return nil
	}
	v := h.entries[lower(key)]
	out := make([]Entry, len(v))
	copy(out, v)
	return out
}

// Entries flattens the container in key-then-insertion order.
func (h *Headers) Entries() []Entry {
	if h == nil {
		return nil
	}
	var out []Entry
	for _, k := range h.order {
		out = append(out, h.entries[k]...)
	}
	return out
}

func groupByKey(entries []Entry) (order []string, grouped map[string][]Entry) {
	grouped = make(map[string][]Entry)
	for _, e := range entries {
		k := lower(e.Name)
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e)
	}
	return order, grouped
}

// Extend combines h with new entries per mode, returning a new immutable
// Headers. Property §8.3: extending h with its own Entries() under any mode
// is a no-op and returns the same *Headers reference.
func (h *Headers) Extend(entries []Entry, mode MergeMode) *Headers {
	newOrder, newGrouped := groupByKey(entries)

	switch mode {
	case ReplaceAll:
		if h != nil && sameContents(h.order, h.entries, newOrder, newGrouped) {
			return h
		}
		return &Headers{order: newOrder, entries: newGrouped}

	case ReplaceMatching:
		order := []string{}
		grouped := make(map[string][]Entry)
		if h != nil {
			order = append(order, h.order...)
			for k, v := range h.entries {
				grouped[k] = v
			}
		}
		for _, k := range newOrder {
			if _, existed := grouped[k]; !existed {
				order = append(order, k)
			}
			grouped[k] = newGrouped[k]
		}
		if h != nil && sameContents(h.order, h.entries, order, grouped) {
			return h
		}
		return &Headers{order: order, entries: grouped}

	default: // Append
		if h != nil && appendIsNoOp(h.entries, newOrder, newGrouped) {
			return h
		}
		order := []string{}
		grouped := make(map[string][]Entry)
		if h != nil {
			order = append(order, h.order...)
			for k, v := range h.entries {
				cp := make([]Entry, len(v))
				copy(cp, v)
				grouped[k] = cp
			}
		}
		for _, k := range newOrder {
			if _, existed := grouped[k]; !existed {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], newGrouped[k]...)
		}
		return &Headers{order: order, entries: grouped}
	}
}

// appendIsNoOp reports whether every incoming key's entries are already
// present verbatim in the pre-merge snapshot, meaning an Append would add
// nothing new (the §8.3 extend-with-own-entries case).
func appendIsNoOp(existing map[string][]Entry, newOrder []string, newGrouped map[string][]Entry) bool {
	for _, k := range newOrder {
		if !entriesEqual(existing[k], newGrouped[k]) {
			return false
		}
	}
	return true
}

func entriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameContents(aOrder []string, aEntries map[string][]Entry, bOrder []string, bEntries map[string][]Entry) bool {
	if len(aOrder) != len(bOrder) {
		return false
	}
	for i := range aOrder {
		if aOrder[i] != bOrder[i] {
			return false
		}
	}
	for k, av := range aEntries {
		bv, ok := bEntries[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
