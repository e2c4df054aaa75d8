package feed

import (
	"fmt"
	"time"

	"github.com/plateo/feedengine/internal/content"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// constRand always returns the same value.
type constRand float64

func (r constRand) Float64() float64 { return float64(r) }

// scriptedRand replays values in order, repeating the last one.
type scriptedRand struct {
	values []float64
	i      int
}

func (r *scriptedRand) Float64() float64 {
	v := r.values[r.i]
	if r.i < len(r.values)-1 {
		r.i++
	}
	return v
}

func entry(id, publisher string) Entry {
	return Entry{Item: content.Item{ID: id, PublisherID: publisher}}
}

func sponsoredEntry(id string, until time.Time) Entry {
	e := entry(id, "sponsor-"+id)
	e.Item.Sponsorship = content.Sponsorship{IsSponsored: true, SponsoredUntil: &until}
	return e
}

func organicEntries(prefix string, n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = entry(fmt.Sprintf("%s%d", prefix, i), fmt.Sprintf("pub-%d", i))
	}
	return out
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Item.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
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
