package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/plateo/feedengine/internal/feed"
	"github.com/plateo/feedengine/internal/middleware"
)

// Query defaults applied when a parameter is absent.
const (
	DefaultPage     = 1
	MaxPage         = 100
	DefaultLimit    = 20
	MaxLimit        = 100
	DefaultRadiusKm = 10.0
	MaxRadiusKm     = 20000.0 // half the Earth's circumference
)

// FeedService produces the three feeds. *feed.Engine implements it.
type FeedService interface {
	Personalized(ctx context.Context, viewerID string, page, limit int) ([]feed.Entry, error)
	Trending(ctx context.Context, page, limit int) ([]feed.Entry, error)
	Nearby(ctx context.Context, viewerID string, radiusKm float64, limit int) ([]feed.Entry, error)
}

// FeedHandlersConfig configures FeedHandlers. Zero values take the
// package defaults.
type FeedHandlersConfig struct {
	DefaultLimit    int
	MaxLimit        int
	DefaultRadiusKm float64
}

// FeedHandlers serves the feed endpoints.
type FeedHandlers struct {
	service       FeedService
	defaultLimit  int
	maxLimit      int
	defaultRadius float64
}

// NewFeedHandlers creates feed handlers backed by service.
func NewFeedHandlers(service FeedService, config FeedHandlersConfig) *FeedHandlers {
	h := &FeedHandlers{
		service:       service,
		defaultLimit:  config.DefaultLimit,
		maxLimit:      config.MaxLimit,
		defaultRadius: config.DefaultRadiusKm,
	}
	if h.maxLimit <= 0 {
		h.maxLimit = MaxLimit
	}
	if h.defaultLimit <= 0 {
		h.defaultLimit = DefaultLimit
	}
	if h.defaultLimit > h.maxLimit {
		h.defaultLimit = h.maxLimit
	}
	if h.defaultRadius <= 0 {
		h.defaultRadius = DefaultRadiusKm
	}
	return h
}

// PublisherSummary is the publisher block of a video in a feed response.
type PublisherSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	LogoURL string  `json:"logo_url,omitempty"`
	Rating  float64 `json:"rating"`
	Tier    string  `json:"subscription_tier"`
}

// DishSummary is the dish block of a video in a feed response.
type DishSummary struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// VideoResponse is one feed position as served to clients.
type VideoResponse struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	VideoURL     string           `json:"video_url"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	Category     string           `json:"category"`
	Tags         []string         `json:"tags"`
	Dish         DishSummary      `json:"dish"`
	Publisher    PublisherSummary `json:"publisher"`
	Views        int64            `json:"views"`
	Likes        int64            `json:"likes"`
	Favorites    int64            `json:"favorites"`
	OrderClicks  int64            `json:"order_clicks"`
	IsAd         bool             `json:"is_ad"`
	Score        *float64         `json:"score,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// FeedResponse wraps a page of videos.
type FeedResponse struct {
	Data  []VideoResponse `json:"data"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Count int             `json:"count"`
}

func newVideoResponse(e feed.Entry, withScore bool) VideoResponse {
	it := e.Item
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	v := VideoResponse{
		ID:           it.ID,
		Title:        it.Title,
		Description:  it.Description,
		VideoURL:     it.VideoURL,
		ThumbnailURL: it.ThumbnailURL,
		Category:     it.Category,
		Tags:         tags,
		Dish:         DishSummary{ID: it.Dish.ID, Name: it.Dish.Name, Price: it.Dish.Price},
		Publisher: PublisherSummary{
			ID:      it.Publisher.ID,
			Name:    it.Publisher.Name,
			LogoURL: it.Publisher.LogoURL,
			Rating:  it.Publisher.Rating,
			Tier:    string(it.Publisher.Tier),
		},
		Views:       it.Engagement.Views,
		Likes:       it.Engagement.Likes,
		Favorites:   it.Engagement.Favorites,
		OrderClicks: it.Engagement.OrderClicks,
		IsAd:        e.IsAd,
		CreatedAt:   it.CreatedAt,
	}
	if withScore && e.Scored && !e.IsAd {
		score := e.Score
		v.Score = &score
	}
	return v
}

func newFeedResponse(entries []feed.Entry, page, limit int, withScore bool) FeedResponse {
	data := make([]VideoResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, newVideoResponse(e, withScore))
	}
	return FeedResponse{Data: data, Page: page, Limit: limit, Count: len(data)}
}

// parsePositiveInt reads an optional positive integer query parameter.
func parsePositiveInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (h *FeedHandlers) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, ok := parsePositiveInt(r, "limit", h.defaultLimit)
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
		return 0, false
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}
	return limit, true
}

// parsePage rejects pages past MaxPage instead of clamping, so a client
// never receives a different page than the one it asked for.
func parsePage(w http.ResponseWriter, r *http.Request) (int, bool) {
	page, ok := parsePositiveInt(r, "page", DefaultPage)
	if !ok || page > MaxPage {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation,
			"page must be an integer between 1 and "+strconv.Itoa(MaxPage))
		return 0, false
	}
	return page, true
}

// writeFeedError maps an engine error to the error envelope.
func writeFeedError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, feed.ErrInvalidPagination), errors.Is(err, feed.ErrInvalidRadius):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		slog.DebugContext(r.Context(), "feed request canceled", "operation", op)
	default:
		slog.ErrorContext(r.Context(), "feed generation failed", "operation", op, "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to generate feed")
	}
}

// viewerID returns the authenticated viewer or writes 401.
func viewerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetViewerID(r.Context())
	if id == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return "", false
	}
	return id, true
}

// Personalized handles GET /feed.
func (h *FeedHandlers) Personalized(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Personalized(r.Context(), viewer, page, limit)
	if err != nil {
		writeFeedError(w, r, feed.OpPersonalized, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newFeedResponse(entries, page, limit, true))
}

// Trending handles GET /feed/trending. No authentication is required.
func (h *FeedHandlers) Trending(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Trending(r.Context(), page, limit)
	if err != nil {
		writeFeedError(w, r, feed.OpTrending, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newFeedResponse(entries, page, limit, false))
}

// Nearby handles GET /feed/nearby. radius is in kilometers.
func (h *FeedHandlers) Nearby(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	radius := h.defaultRadius
	if raw := r.URL.Query().Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(parsed) || parsed <= 0 || parsed > MaxRadiusKm {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "radius must be a positive number of kilometers")
			return
		}
		radius = parsed
	}

	entries, err := h.service.Nearby(r.Context(), viewer, radius, limit)
	if err != nil {
		writeFeedError(w, r, feed.OpNearby, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newFeedResponse(entries, DefaultPage, limit, false))
}

var _ FeedService = (*feed.Engine)(nil)
