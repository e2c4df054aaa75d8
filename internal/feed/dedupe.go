package feed

// Dedupe drops every entry whose item id was already seen, keeping the
// first occurrence and the original order.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Item.ID] {
			continue
		}
		seen[e.Item.ID] = true
		out = append(out, e)
	}
	return out
}

// Page returns the entries of page (1-based) for the given page size.
// A page past the end is empty, never nil.
func Page(entries []Entry, page, limit int) []Entry {
	start := (page - 1) * limit
	if start < 0 || start >= len(entries) {
		return []Entry{}
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
