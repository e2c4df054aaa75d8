// Package feed assembles discovery feeds from catalog candidates: it scores,
// diversifies by publisher, interleaves sponsored placements, removes
// duplicates, and slices stable pages.
package feed

import "github.com/plateo/feedengine/internal/content"

// Entry is one position in a feed.
type Entry struct {
	Item content.Item `json:"item"`

	// Score is set only on personalized feeds.
	Score float64 `json:"score,omitempty"`

	// Scored reports that Score came from the scorer. Trending entries,
	// including a personalized request's fallback, are never scored.
	Scored bool `json:"-"`

	// IsAd marks a sponsored placement inserted by the injector.
	IsAd bool `json:"is_ad"`
}

func entriesFromItems(items []content.Item) []Entry {
	out := make([]Entry, len(items))
	for i := range items {
		out[i] = Entry{Item: items[i]}
	}
	return out
}
