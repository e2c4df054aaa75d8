package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/plateo/feedengine/internal/content"
	"github.com/plateo/feedengine/internal/geo"
	"github.com/plateo/feedengine/internal/stats"
)

// Request limits for view registration.
const (
	maxViewBodyBytes   = 4 << 10
	maxPlatformLength  = 32
	maxWatchTimeSecond = 24 * 60 * 60
)

// ViewHandlers serves view registration.
type ViewHandlers struct {
	views content.ViewRepository
	stats *stats.UpsertStats
}

// NewViewHandlers creates view handlers. upserts may be nil.
func NewViewHandlers(views content.ViewRepository, upserts *stats.UpsertStats) *ViewHandlers {
	if upserts == nil {
		upserts = stats.NewUpsertStats()
	}
	return &ViewHandlers{views: views, stats: upserts}
}

// RegisterViewRequest is the body of POST /videos/{id}/views. All fields
// are optional.
type RegisterViewRequest struct {
	WatchTime float64    `json:"watch_time"`
	Completed bool       `json:"completed"`
	Platform  string     `json:"platform"`
	Location  *geo.Point `json:"location"`
}

// RegisterViewResponse reports the stored view event.
type RegisterViewResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

func (req RegisterViewRequest) validate() string {
	switch {
	case math.IsNaN(req.WatchTime) || req.WatchTime < 0 || req.WatchTime > maxWatchTimeSecond:
		return "watch_time must be between 0 and 86400 seconds"
	case len(req.Platform) > maxPlatformLength:
		return "platform must be at most 32 characters"
	case req.Location != nil && (math.Abs(req.Location.Lat) > 90 || math.Abs(req.Location.Lng) > 180):
		return "location is out of range"
	}
	return ""
}

// RegisterView handles POST /videos/{id}/views. A repeat view by the same
// viewer updates the existing event and returns 200; a first view returns 201.
func (h *ViewHandlers) RegisterView(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}

	itemID := r.PathValue("id")
	if itemID == "" {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Video not found")
		return
	}

	var req RegisterViewRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxViewBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
	}
	if msg := req.validate(); msg != "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	result, err := h.views.RecordView(r.Context(), content.ViewEvent{
		ViewerID:  viewer,
		ItemID:    itemID,
		WatchTime: req.WatchTime,
		Completed: req.Completed,
		Platform:  req.Platform,
		Location:  req.Location,
	})
	switch {
	case errors.Is(err, content.ErrItemNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Video not found")
		return
	case errors.Is(err, content.ErrViewerNotFound):
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Viewer profile not recognized")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to register view", "error", err, "item_id", itemID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to register view")
		return
	}

	h.stats.Record(result.Inserted)

	status := http.StatusOK
	if result.Inserted {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, RegisterViewResponse{ID: result.ID, Created: result.Inserted})
}
