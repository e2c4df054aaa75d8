package ranking

import (
	"math"
	"time"

	"github.com/plateo/feedengine/internal/content"
	"github.com/plateo/feedengine/internal/geo"
)

// Popularity constants: counters are weighted by intent, then log-damped.
const (
	viewWeight       = 1
	likeWeight       = 3
	favoriteWeight   = 5
	orderClickWeight = 10

	// popularityOffset keeps log10 defined for all-zero counters (floor 1).
	popularityOffset = 10
)

// Personalization constants.
const (
	categoryMatchBonus = 50.0
	tagMatchBonus      = 10.0
	priceInRangeBonus  = 20.0
	priceOutOfRange    = -10.0
)

// Quality constants.
const (
	newItemQuality = 50.0
	maxQuality     = 100.0
)

// Proximity constants.
const (
	neutralProximity = 50.0
	nearRadiusKm     = 5.0
	farRadiusKm      = 10.0
	proximityPerKm   = 10.0
)

// Freshness floor: old items keep at least half their pre-decay score.
const freshnessFloor = 0.5

// Clock supplies the current time to scoring and sponsor filtering.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// PopularityScore returns log10(views + 3*likes + 5*favorites + 10*orderClicks + 10).
// It is exactly 1 for an item with no engagement.
func PopularityScore(e content.Engagement) float64 {
	weighted := float64(e.Views)*viewWeight +
		float64(e.Likes)*likeWeight +
		float64(e.Favorites)*favoriteWeight +
		float64(e.OrderClicks)*orderClickWeight
	return math.Log10(weighted + popularityOffset)
}

// PersonalizationScore rewards category and tag overlap with the viewer's
// preferences and penalizes dishes above the viewer's price ceiling.
// Tag matches are unbounded: each shared tag adds the same bonus.
func PersonalizationScore(item *content.Item, prefs content.Preferences) float64 {
	score := 0.0

	if prefs.HasCategory(item.Category) {
		score += categoryMatchBonus
	}

	for _, tag := range item.Tags {
		if prefs.HasTag(tag) {
			score += tagMatchBonus
		}
	}

	maxPrice := prefs.MaxPrice
	if maxPrice <= 0 {
		maxPrice = content.DefaultMaxPrice
	}
	if item.Dish.Price <= maxPrice {
		score += priceInRangeBonus
	} else {
		score += priceOutOfRange
	}

	return score
}

// QualityScore is the capped engagement rate. Items without views get a
// fixed opportunity score regardless of their other counters.
func QualityScore(e content.Engagement) float64 {
	if e.Views <= 0 {
		return newItemQuality
	}
	weighted := float64(e.Likes)*2 + float64(e.Favorites)*3 + float64(e.OrderClicks)*5
	rate := weighted / float64(e.Views)
	return math.Min(rate*100, maxQuality)
}

// ProximityScore converts viewer-to-publisher distance into a score:
// 100 at the door, 50 at 5 km, 0 from 10 km. Missing locations are neutral.
func ProximityScore(viewer, publisher *geo.Point) float64 {
	if viewer == nil || publisher == nil {
		return neutralProximity
	}
	return proximityForDistance(geo.Distance(*viewer, *publisher))
}

func proximityForDistance(d float64) float64 {
	switch {
	case d <= nearRadiusKm:
		return 100 - proximityPerKm*d
	case d <= farRadiusKm:
		return 50 - proximityPerKm*(d-nearRadiusKm)
	default:
		return 0
	}
}

// DaysOld returns the whole days elapsed between createdAt and now.
// Items stamped in the future (clock skew) count as brand new.
func DaysOld(createdAt, now time.Time) int {
	if !now.After(createdAt) {
		return 0
	}
	return int(math.Floor(now.Sub(createdAt).Hours() / 24))
}

// FreshnessMultiplier returns 0.5 + 0.5*exp(-daysOld/decayDays): 1 for new
// items, approaching but never below 0.5 as they age.
func FreshnessMultiplier(daysOld int, decayDays float64) float64 {
	if decayDays <= 0 {
		decayDays = DefaultCalibration().FreshnessDecayDays
	}
	freshness := math.Exp(-float64(daysOld) / decayDays)
	return freshnessFloor + (1-freshnessFloor)*freshness
}

// Breakdown is the full derivation of one item's score.
type Breakdown struct {
	Popularity      float64 `json:"popularity"`
	Personalization float64 `json:"personalization"`
	Quality         float64 `json:"quality"`
	Proximity       float64 `json:"proximity"`
	Composite       float64 `json:"composite"`
	TierMultiplier  float64 `json:"tier_multiplier"`
	DaysOld         int     `json:"days_old"`
	Freshness       float64 `json:"freshness"`
	Final           float64 `json:"final"`
}

// Scorer computes composite relevance scores. It is safe for concurrent use.
type Scorer struct {
	cal   *Calibration
	clock Clock
}

// NewScorer creates a Scorer. A nil calibration uses the defaults and a nil
// clock uses the wall clock.
func NewScorer(cal *Calibration, clock Clock) *Scorer {
	if cal == nil {
		cal = DefaultCalibration()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scorer{cal: cal, clock: clock}
}

// Score returns the final relevance score of item for viewer.
func (s *Scorer) Score(item *content.Item, viewer *content.Viewer) float64 {
	return s.Explain(item, viewer, s.clock.Now()).Final
}

// Explain derives item's score for viewer at now.
func (s *Scorer) Explain(item *content.Item, viewer *content.Viewer, now time.Time) Breakdown {
	w := s.cal.Weights

	b := Breakdown{
		Popularity:      PopularityScore(item.Engagement),
		Personalization: PersonalizationScore(item, viewer.Preferences),
		Quality:         QualityScore(item.Engagement),
		Proximity:       ProximityScore(viewer.Location, item.Publisher.Location),
		TierMultiplier:  s.cal.Tiers.For(item.Publisher.Tier),
		DaysOld:         DaysOld(item.CreatedAt, now),
	}

	b.Composite = w.Popularity*b.Popularity +
		w.Personalization*b.Personalization +
		w.Quality*b.Quality +
		w.Proximity*b.Proximity
	b.Freshness = FreshnessMultiplier(b.DaysOld, s.cal.FreshnessDecayDays)
	b.Final = b.Composite * b.TierMultiplier * b.Freshness

	if math.IsNaN(b.Final) || math.IsInf(b.Final, 0) {
		b.Final = 0
	}
	return b
}
