package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/plateo/feedengine/internal/content"
	"github.com/plateo/feedengine/internal/geo"
	"github.com/plateo/feedengine/internal/ranking"
	"github.com/plateo/feedengine/internal/tracing"
)

// Errors returned by the engine before any catalog access.
var (
	ErrInvalidPagination = errors.New("page and limit must be positive")
	ErrInvalidRadius     = errors.New("radius must be positive")
)

// Pipeline sizing.
const (
	// RecentlyViewedFloor is the exclusion window on page 1.
	RecentlyViewedFloor = 100

	// candidateMultiplier sizes the raw candidate fetch relative to limit.
	candidateMultiplier = 10

	// diversifyMultiplier sizes the diversified pool relative to limit.
	diversifyMultiplier = 3

	// trendingSupplyMultiplier sizes the trending fetch relative to the
	// number of entries needed up to the requested page.
	trendingSupplyMultiplier = 2

	// NearbyItemsPerPublisher caps how many recent items each nearby
	// publisher contributes.
	NearbyItemsPerPublisher = 5

	// nearbyFetchConcurrency bounds parallel per-publisher fetches.
	nearbyFetchConcurrency = 4
)

// ExclusionWindow returns how many of the viewer's most recent views are
// excluded from candidates for page. It grows by limit per page.
func ExclusionWindow(page, limit int) int {
	return RecentlyViewedFloor + (page-1)*limit
}

// EngineConfig configures the feed engine.
type EngineConfig struct {
	// Scorer ranks personalized candidates. Defaults to the default calibration.
	Scorer *ranking.Scorer
	// Clock supplies "now" for scoring and sponsorship checks.
	Clock ranking.Clock
	// Random drives the diversifier's tail shuffle.
	Random RandomSource
	// Metrics is optional.
	Metrics *Metrics
	// Logger for request-level debug logs.
	Logger *slog.Logger
}

// Engine generates personalized, trending and nearby feeds. It keeps no
// state between requests and is safe for concurrent use as long as the
// configured RandomSource is.
type Engine struct {
	catalog  content.CatalogRepository
	profiles content.ProfileRepository
	scorer   *ranking.Scorer
	clock    ranking.Clock
	rng      RandomSource
	metrics  *Metrics
	logger   *slog.Logger
}

// NewEngine creates a feed engine over the given accessors.
func NewEngine(config EngineConfig, catalog content.CatalogRepository, profiles content.ProfileRepository) *Engine {
	if config.Clock == nil {
		config.Clock = ranking.SystemClock{}
	}
	if config.Scorer == nil {
		config.Scorer = ranking.NewScorer(nil, config.Clock)
	}
	if config.Random == nil {
		config.Random = newLockedRand(time.Now().UnixNano())
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Engine{
		catalog:  catalog,
		profiles: profiles,
		scorer:   config.Scorer,
		clock:    config.Clock,
		rng:      config.Random,
		metrics:  config.Metrics,
		logger:   config.Logger,
	}
}

// validatePagination rejects non-positive input and any page/limit pair
// whose derived fetch sizes would not fit in an int. The largest of those
// is the trending supply, page*limit*trendingSupplyMultiplier.
func validatePagination(page, limit int) error {
	if page < 1 || limit < 1 {
		return fmt.Errorf("%w: page=%d limit=%d", ErrInvalidPagination, page, limit)
	}
	if limit > math.MaxInt/(candidateMultiplier*trendingSupplyMultiplier) ||
		page > math.MaxInt/(limit*trendingSupplyMultiplier) {
		return fmt.Errorf("%w: page=%d limit=%d is too deep", ErrInvalidPagination, page, limit)
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.metrics != nil {
		e.metrics.ObserveRequest(op, time.Since(start).Seconds(), err)
	}
}

// Personalized returns page of the viewer's ranked feed. Unknown viewers
// and viewers without candidates get the trending feed instead.
func (e *Engine) Personalized(ctx context.Context, viewerID string, page, limit int) (entries []Entry, err error) {
	if err := validatePagination(page, limit); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "feed.personalized",
		attribute.Int("feed.page", page),
		attribute.Int("feed.limit", limit),
	)
	defer func() {
		endSpan(err)
		e.observe(OpPersonalized, start, err)
	}()

	viewer, err := e.profiles.Viewer(ctx, viewerID)
	if errors.Is(err, content.ErrViewerNotFound) {
		return e.fallback(ctx, viewerID, FallbackViewerNotFound, page, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer: %w", err)
	}

	exclude := ExclusionWindow(page, limit)
	candidates, err := e.catalog.CandidatesForViewer(ctx, viewerID, limit*candidateMultiplier, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveCandidates(len(candidates))
	}
	if len(candidates) == 0 {
		return e.fallback(ctx, viewerID, FallbackNoCandidates, page, limit)
	}

	now := e.clock.Now()
	ranked := e.rank(ctx, candidates, viewer, now)

	diversified := Diversify(ranked, limit*diversifyMultiplier, e.rng)
	injected := InjectSponsored(diversified, limit, now)
	unique := Dedupe(injected)
	entries = Page(unique, page, limit)

	ads := countAds(injected)
	if e.metrics != nil {
		e.metrics.AddSponsored(ads)
	}
	tracing.SetAttributes(ctx,
		attribute.Int("feed.candidates", len(candidates)),
		attribute.Int("feed.sponsored", ads),
		attribute.Int("feed.returned", len(entries)),
	)
	e.logger.DebugContext(ctx, "personalized feed generated",
		"viewer_id", viewerID,
		"location", geo.Redact(viewer.Location),
		"page", page,
		"limit", limit,
		"exclusion_window", exclude,
		"candidates", len(candidates),
		"diversified", len(diversified),
		"sponsored", ads,
		"returned", len(entries),
	)

	return entries, nil
}

// rank scores candidates for viewer and sorts them best first. Ties keep
// catalog order.
func (e *Engine) rank(ctx context.Context, candidates []content.Item, viewer *content.Viewer, now time.Time) []Entry {
	_, endSpan := tracing.StartSpan(ctx, "feed.rank", attribute.Int("feed.candidates", len(candidates)))
	defer endSpan(nil)

	ranked := make([]Entry, len(candidates))
	for i := range candidates {
		ranked[i] = Entry{
			Item:   candidates[i],
			Score:  e.scorer.Explain(&candidates[i], viewer, now).Final,
			Scored: true,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func (e *Engine) fallback(ctx context.Context, viewerID, reason string, page, limit int) ([]Entry, error) {
	if e.metrics != nil {
		e.metrics.IncFallback(reason)
	}
	tracing.AddEvent(ctx, "feed.fallback", attribute.String("reason", reason))
	e.logger.DebugContext(ctx, "personalized feed falling back to trending",
		"viewer_id", viewerID,
		"reason", reason,
		"page", page,
		"limit", limit,
	)
	return e.trending(ctx, page, limit)
}

// Trending returns page of the popularity-ordered feed. The whole prefix up
// to the requested page is fetched from offset 0 and diversified to
// page*limit on every call. The publisher cap and the shuffled tail depend
// on that depth, so page n is not guaranteed to equal entries
// [(n-1)*limit, n*limit) of a deeper call.
func (e *Engine) Trending(ctx context.Context, page, limit int) (entries []Entry, err error) {
	if err := validatePagination(page, limit); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "feed.trending",
		attribute.Int("feed.page", page),
		attribute.Int("feed.limit", limit),
	)
	defer func() {
		endSpan(err)
		e.observe(OpTrending, start, err)
	}()

	return e.trending(ctx, page, limit)
}

func (e *Engine) trending(ctx context.Context, page, limit int) ([]Entry, error) {
	depth := page * limit
	items, err := e.catalog.Trending(ctx, 0, depth*trendingSupplyMultiplier)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trending: %w", err)
	}

	diversified := Diversify(entriesFromItems(items), depth, e.rng)
	entries := Page(Dedupe(diversified), page, limit)

	e.logger.DebugContext(ctx, "trending feed generated",
		"page", page,
		"limit", limit,
		"supply", len(items),
		"returned", len(entries),
	)
	return entries, nil
}

// Nearby returns up to limit recent items from publishers within radiusKm
// of the viewer, most popular first. Viewers that are unknown or have no
// stored location get an empty feed.
func (e *Engine) Nearby(ctx context.Context, viewerID string, radiusKm float64, limit int) (entries []Entry, err error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit=%d", ErrInvalidPagination, limit)
	}
	if !(radiusKm > 0) {
		return nil, fmt.Errorf("%w: radius=%v", ErrInvalidRadius, radiusKm)
	}

	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "feed.nearby",
		attribute.Float64("feed.radius_km", radiusKm),
		attribute.Int("feed.limit", limit),
	)
	defer func() {
		endSpan(err)
		e.observe(OpNearby, start, err)
	}()

	viewer, err := e.profiles.Viewer(ctx, viewerID)
	if errors.Is(err, content.ErrViewerNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer: %w", err)
	}
	if viewer.Location == nil {
		e.logger.DebugContext(ctx, "nearby feed skipped, viewer has no location", "viewer_id", viewerID)
		return []Entry{}, nil
	}

	publishers, err := e.catalog.PublishersWithLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch publishers: %w", err)
	}

	var near []content.Publisher
	for _, p := range publishers {
		if p.Location != nil && geo.WithinRadius(*viewer.Location, *p.Location, radiusKm) {
			near = append(near, p)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveNearbyPublishers(len(near))
	}

	items, err := e.recentByPublishers(ctx, near)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PopularityScore > items[j].PopularityScore
	})
	if len(items) > limit {
		items = items[:limit]
	}
	entries = entriesFromItems(items)

	e.logger.DebugContext(ctx, "nearby feed generated",
		"viewer_id", viewerID,
		"location", geo.Redact(viewer.Location),
		"radius_km", radiusKm,
		"publishers", len(near),
		"returned", len(entries),
	)
	return entries, nil
}

// recentByPublishers fetches each publisher's recent items concurrently and
// concatenates them in publisher order.
func (e *Engine) recentByPublishers(ctx context.Context, publishers []content.Publisher) ([]content.Item, error) {
	batches := make([][]content.Item, len(publishers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nearbyFetchConcurrency)
	for i, p := range publishers {
		g.Go(func() error {
			items, err := e.catalog.ByPublisher(gctx, p.ID, NearbyItemsPerPublisher)
			if err != nil {
				return fmt.Errorf("failed to fetch items for publisher %s: %w", p.ID, err)
			}
			batches[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []content.Item
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

func countAds(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.IsAd {
			n++
		}
	}
	return n
}

// lockedRand is a RandomSource safe for concurrent use.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand // protected by mu
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}
