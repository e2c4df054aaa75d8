// Package content provides the data model of the discovery feed and the
// read contracts the feed engine consumes: catalog retrieval, viewer
// profiles, and the view events that drive the exclusion window.
package content

import (
	"slices"
	"time"

	"github.com/plateo/feedengine/internal/geo"
)

// DefaultMaxPrice is applied when a viewer has not set a price ceiling.
const DefaultMaxPrice = 1000.0

// Tier is a publisher subscription tier.
type Tier string

// Subscription tiers.
const (
	TierFree    Tier = "FREE"
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
)

// ParseTier maps a stored tier value to a Tier. Unknown values are FREE.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierBasic:
		return TierBasic
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// Preferences is a viewer's taste profile.
type Preferences struct {
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	MaxPrice   float64  `json:"max_price"`
}

// Normalize returns a copy with a usable price ceiling and non-nil sets.
func (p Preferences) Normalize() Preferences {
	out := Preferences{
		Categories: p.Categories,
		Tags:       p.Tags,
		MaxPrice:   p.MaxPrice,
	}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.MaxPrice <= 0 {
		out.MaxPrice = DefaultMaxPrice
	}
	return out
}

// HasCategory reports whether category is one of the preferred categories.
func (p Preferences) HasCategory(category string) bool {
	return slices.Contains(p.Categories, category)
}

// HasTag reports whether tag is one of the preferred tags.
func (p Preferences) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

// Viewer is a consumer requesting a feed.
type Viewer struct {
	ID          string
	Preferences Preferences
	Location    *geo.Point
}

// Publisher is a content-creating business, here a restaurant.
type Publisher struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	LogoURL  string     `json:"logo_url,omitempty"`
	Tier     Tier       `json:"subscription_tier"`
	Location *geo.Point `json:"-"`
	Rating   float64    `json:"rating"`
	IsActive bool       `json:"-"`
}

// Engagement holds the per-item counters. All counters are non-negative.
type Engagement struct {
	Views       int64 `json:"views"`
	Likes       int64 `json:"likes"`
	Favorites   int64 `json:"favorites"`
	OrderClicks int64 `json:"order_clicks"`
}

// Sponsorship describes a paid placement.
type Sponsorship struct {
	IsSponsored    bool       `json:"is_sponsored"`
	SponsoredUntil *time.Time `json:"sponsored_until,omitempty"`
}

// ActiveAt reports whether the placement is still paid for at now.
// A sponsored item without an end date, or whose end date has elapsed,
// is organic.
func (s Sponsorship) ActiveAt(now time.Time) bool {
	return s.IsSponsored && s.SponsoredUntil != nil && s.SponsoredUntil.After(now)
}

// Dish is the menu entry a video advertises.
type Dish struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Item is a single short video plus its linked dish and publisher metadata.
type Item struct {
	ID           string   `json:"id"`
	PublisherID  string   `json:"publisher_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	VideoURL     string   `json:"video_url"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags"`
	Dish         Dish     `json:"dish"`

	Engagement Engagement `json:"engagement"`

	// PopularityScore is the coarse, precomputed ordering field the
	// catalog sorts by. The engine never recomputes it.
	PopularityScore float64 `json:"popularity_score"`

	Sponsorship Sponsorship `json:"sponsorship"`
	Publisher   Publisher   `json:"publisher"`

	IsActive  bool      `json:"-"`
	IsPublic  bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Visible reports whether the item may appear in any feed.
func (i *Item) Visible() bool {
	return i.IsActive && i.IsPublic
}

// ViewEvent records that a viewer watched an item. There is at most one
// event per (viewer, item) pair; a repeat view updates it in place.
type ViewEvent struct {
	ID        string     `json:"id"`
	ViewerID  string     `json:"viewer_id"`
	ItemID    string     `json:"item_id"`
	WatchTime float64    `json:"watch_time"` // seconds
	Completed bool       `json:"completed"`
	Platform  string     `json:"platform,omitempty"`
	Location  *geo.Point `json:"location,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UpsertResult reports whether an upsert inserted a new record.
type UpsertResult struct {
	Inserted bool   // True if new record was inserted
	ID       string // The UUID of the upserted record
}
