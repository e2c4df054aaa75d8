package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/plateo/feedengine/internal/geo"
	"github.com/plateo/feedengine/internal/tracing"
)

// SQLSTATE codes mapped to domain errors.
const (
	pqForeignKeyViolation       = "23503"
	pqInvalidTextRepresentation = "22P02" // malformed uuid
)

// viewEventsItemFK is the foreign key from view_events.item_id to content_items.
const viewEventsItemFK = "view_events_item_id_fkey"

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// viewEventError maps a failed view upsert to a domain error. Only a
// violation of the item foreign key means the item is gone.
func viewEventError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation && pqErr.Constraint == viewEventsItemFK {
		return ErrItemNotFound
	}
	return fmt.Errorf("failed to upsert view event: %w", err)
}

// itemColumns is the projection shared by every item query. It joins the
// owning publisher so items carry their denormalized publisher data.
const itemColumns = `
	c.id, c.publisher_id, c.title, c.description, c.video_url, c.thumbnail_url,
	c.category, c.tags, c.dish_id, c.dish_name, c.dish_price,
	c.views_count, c.likes_count, c.favorites_count, c.order_clicks_count,
	c.popularity_score, c.is_sponsored, c.sponsored_until,
	c.is_active, c.is_public, c.created_at,
	p.name, p.logo_url, p.subscription_tier, p.latitude, p.longitude, p.rating, p.is_active`

// visibleItems restricts queries to feed-eligible items.
const visibleItems = `c.is_active AND c.is_public AND p.is_active`

// PostgresStore implements CatalogRepository, ProfileRepository and
// ViewRepository on PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// CandidatesForViewer implements CatalogRepository.
func (s *PostgresStore) CandidatesForViewer(ctx context.Context, viewerID string, limit, excludeRecent int) (items []Item, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT ` + itemColumns + `
		FROM content_items c
		JOIN publishers p ON p.id = c.publisher_id
		WHERE ` + visibleItems + `
		  AND c.id NOT IN (
			SELECT v.item_id FROM view_events v
			WHERE v.viewer_id = $1
			ORDER BY v.created_at DESC
			LIMIT $2
		  )
		ORDER BY c.popularity_score DESC, c.created_at DESC, c.id ASC
		LIMIT $3
	`

	items, err = s.queryItems(ctx, query, viewerID, excludeRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	return items, nil
}

// Trending implements CatalogRepository.
func (s *PostgresStore) Trending(ctx context.Context, offset, take int) (items []Item, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT ` + itemColumns + `
		FROM content_items c
		JOIN publishers p ON p.id = c.publisher_id
		WHERE ` + visibleItems + `
		ORDER BY c.popularity_score DESC, c.created_at DESC, c.id ASC
		OFFSET $1
		LIMIT $2
	`

	items, err = s.queryItems(ctx, query, offset, take)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trending: %w", err)
	}
	return items, nil
}

// ByPublisher implements CatalogRepository.
func (s *PostgresStore) ByPublisher(ctx context.Context, publisherID string, take int) (items []Item, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT ` + itemColumns + `
		FROM content_items c
		JOIN publishers p ON p.id = c.publisher_id
		WHERE ` + visibleItems + ` AND c.publisher_id = $1
		ORDER BY c.created_at DESC, c.id ASC
		LIMIT $2
	`

	items, err = s.queryItems(ctx, query, publisherID, take)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch publisher items: %w", err)
	}
	return items, nil
}

// PublishersWithLocation implements CatalogRepository.
func (s *PostgresStore) PublishersWithLocation(ctx context.Context) (pubs []Publisher, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "publishers", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, name, logo_url, subscription_tier, latitude, longitude, rating
		FROM publishers
		WHERE is_active AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch publishers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        Publisher
			logo     sql.NullString
			tier     string
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &logo, &tier, &lat, &lng, &p.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan publisher: %w", err)
		}
		p.LogoURL = logo.String
		p.Tier = ParseTier(tier)
		p.Location = pointOrNil(lat, lng)
		p.IsActive = true
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publishers: %w", err)
	}
	return pubs, nil
}

// preferencesDocument is the stored JSON shape of viewer preferences.
type preferencesDocument struct {
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	MaxPrice   float64  `json:"maxPrice"`
}

// Viewer implements ProfileRepository.
func (s *PostgresStore) Viewer(ctx context.Context, viewerID string) (v *Viewer, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "viewers", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrViewerNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	query := `
		SELECT id, preferences, latitude, longitude
		FROM viewers
		WHERE id = $1
	`

	var (
		viewer   Viewer
		prefs    []byte
		lat, lng sql.NullFloat64
	)
	err = s.db.QueryRowContext(ctx, query, viewerID).Scan(&viewer.ID, &prefs, &lat, &lng)
	if errors.Is(err, sql.ErrNoRows) || isPQCode(err, pqInvalidTextRepresentation) {
		return nil, ErrViewerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get viewer: %w", err)
	}

	viewer.Preferences, err = decodePreferences(prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode preferences for viewer %s: %w", viewerID, err)
	}
	viewer.Location = pointOrNil(lat, lng)
	return &viewer, nil
}

// decodePreferences turns the stored JSON document into typed preferences.
// NULL or empty documents yield defaults.
func decodePreferences(raw []byte) (Preferences, error) {
	if len(raw) == 0 {
		return Preferences{}.Normalize(), nil
	}
	var doc preferencesDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Preferences{}, err
	}
	return Preferences{
		Categories: doc.Categories,
		Tags:       doc.Tags,
		MaxPrice:   doc.MaxPrice,
	}.Normalize(), nil
}

// RecordView implements ViewRepository.
func (s *PostgresStore) RecordView(ctx context.Context, ev ViewEvent) (result *UpsertResult, err error) {
	// Both ids are UUID columns. Checking them up front keeps a malformed
	// viewer id from being reported as a missing item.
	if _, perr := uuid.Parse(ev.ItemID); perr != nil {
		return nil, ErrItemNotFound
	}
	if _, perr := uuid.Parse(ev.ViewerID); perr != nil {
		return nil, ErrViewerNotFound
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "view_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	now := s.now()

	var lat, lng sql.NullFloat64
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: ev.Location.Lng, Valid: true}
	}

	// xmax = 0 only for freshly inserted rows.
	query := `
		INSERT INTO view_events (
			id, viewer_id, item_id, watch_time, completed, platform,
			latitude, longitude, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (viewer_id, item_id) DO UPDATE
		SET watch_time = EXCLUDED.watch_time,
		    completed = EXCLUDED.completed,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted
	`

	result = &UpsertResult{}
	err = tx.QueryRowContext(ctx, query,
		ev.ID, ev.ViewerID, ev.ItemID, ev.WatchTime, ev.Completed,
		sql.NullString{String: ev.Platform, Valid: ev.Platform != ""},
		lat, lng, now,
	).Scan(&result.ID, &result.Inserted)
	if err != nil {
		return nil, viewEventError(err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE content_items SET views_count = views_count + 1 WHERE id = $1`,
		ev.ItemID,
	); err != nil {
		return nil, fmt.Errorf("failed to increment views: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit view event: %w", err)
	}
	return result, nil
}

// queryItems runs an item query and scans every row.
func (s *PostgresStore) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// scanItem scans one row produced by itemColumns.
func scanItem(rows *sql.Rows) (Item, error) {
	var (
		item           Item
		description    sql.NullString
		thumbnail      sql.NullString
		tags           pq.StringArray
		sponsoredUntil sql.NullTime
		logo           sql.NullString
		tier           string
		lat, lng       sql.NullFloat64
	)
	err := rows.Scan(
		&item.ID, &item.PublisherID, &item.Title, &description, &item.VideoURL, &thumbnail,
		&item.Category, &tags, &item.Dish.ID, &item.Dish.Name, &item.Dish.Price,
		&item.Engagement.Views, &item.Engagement.Likes, &item.Engagement.Favorites, &item.Engagement.OrderClicks,
		&item.PopularityScore, &item.Sponsorship.IsSponsored, &sponsoredUntil,
		&item.IsActive, &item.IsPublic, &item.CreatedAt,
		&item.Publisher.Name, &logo, &tier, &lat, &lng, &item.Publisher.Rating, &item.Publisher.IsActive,
	)
	if err != nil {
		return Item{}, fmt.Errorf("failed to scan item: %w", err)
	}

	item.Description = description.String
	item.ThumbnailURL = thumbnail.String
	item.Tags = []string(tags)
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if sponsoredUntil.Valid {
		until := sponsoredUntil.Time
		item.Sponsorship.SponsoredUntil = &until
	}
	item.Publisher.ID = item.PublisherID
	item.Publisher.LogoURL = logo.String
	item.Publisher.Tier = ParseTier(tier)
	item.Publisher.Location = pointOrNil(lat, lng)
	return item, nil
}

// pointOrNil builds a point only when both coordinates are known.
func pointOrNil(lat, lng sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
}

// Compile-time interface checks.
var (
	_ CatalogRepository = (*PostgresStore)(nil)
	_ ProfileRepository = (*PostgresStore)(nil)
	_ ViewRepository    = (*PostgresStore)(nil)
)
