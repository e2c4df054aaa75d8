package content

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for content operations.
var (
	ErrViewerNotFound = errors.New("viewer not found")
	ErrItemNotFound   = errors.New("content item not found")
)

// CatalogRepository is the read contract over the content store.
// Every method returns only active, public items from active publishers.
type CatalogRepository interface {
	// CandidatesForViewer returns up to limit items ordered by popularity
	// score then recency (both descending), skipping the viewer's
	// excludeRecent most recently viewed items.
	CandidatesForViewer(ctx context.Context, viewerID string, limit, excludeRecent int) ([]Item, error)

	// Trending returns take items starting at offset, ordered by
	// popularity score then recency (both descending).
	Trending(ctx context.Context, offset, take int) ([]Item, error)

	// ByPublisher returns a publisher's take most recent items.
	ByPublisher(ctx context.Context, publisherID string, take int) ([]Item, error)

	// PublishersWithLocation returns every active publisher with a known
	// location. Radius filtering is the caller's responsibility.
	PublishersWithLocation(ctx context.Context) ([]Publisher, error)
}

// ProfileRepository is the read contract over viewer profiles.
type ProfileRepository interface {
	// Viewer returns the viewer's profile or ErrViewerNotFound.
	Viewer(ctx context.Context, viewerID string) (*Viewer, error)
}

// ViewRepository records view events with upsert semantics.
type ViewRepository interface {
	// RecordView inserts a view event or, when the viewer already watched
	// the item, updates the existing one. Every call counts towards the
	// item's view counter. Returns ErrItemNotFound for unknown items and
	// ErrViewerNotFound for viewer ids the store cannot hold.
	RecordView(ctx context.Context, ev ViewEvent) (*UpsertResult, error)
}

// viewRecord is a stored view event plus an insertion sequence used to
// break timestamp ties.
type viewRecord struct {
	ViewEvent
	seq int64
}

// InMemoryStore is an in-memory implementation of CatalogRepository,
// ProfileRepository and ViewRepository.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	items      map[string]*Item
	publishers map[string]*Publisher
	viewers    map[string]*Viewer
	views      map[string]*viewRecord // "viewer\x00item" -> view
	seq        int64
	now        func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:      make(map[string]*Item),
		publishers: make(map[string]*Publisher),
		viewers:    make(map[string]*Viewer),
		views:      make(map[string]*viewRecord),
		now:        time.Now,
	}
}

// makeViewKey uses a null byte separator so ids containing the separator
// cannot collide.
func makeViewKey(viewerID, itemID string) string {
	return viewerID + "\x00" + itemID
}

// AddPublisher stores or replaces a publisher.
func (s *InMemoryStore) AddPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers[p.ID] = &p
}

// AddViewer stores or replaces a viewer profile.
func (s *InMemoryStore) AddViewer(v Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Preferences = v.Preferences.Normalize()
	s.viewers[v.ID] = &v
}

// AddItem stores or replaces a content item. A missing id is generated.
func (s *InMemoryStore) AddItem(item Item) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	item.Tags = append([]string(nil), item.Tags...)
	s.items[item.ID] = &item
	return item.ID
}

// hydrate returns a copy of item carrying its publisher's current data,
// or false when the publisher is unknown or inactive.
func (s *InMemoryStore) hydrate(item *Item) (Item, bool) {
	pub, ok := s.publishers[item.PublisherID]
	if !ok || !pub.IsActive {
		return Item{}, false
	}
	out := *item
	out.Tags = append([]string(nil), item.Tags...)
	out.Publisher = *pub
	return out, true
}

// visible returns every feed-eligible item, hydrated.
func (s *InMemoryStore) visible(keep func(*Item) bool) []Item {
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if !item.Visible() || (keep != nil && !keep(item)) {
			continue
		}
		if h, ok := s.hydrate(item); ok {
			out = append(out, h)
		}
	}
	return out
}

// sortByPopularity orders by popularity score, then creation time, both
// descending. Id breaks remaining ties so results are deterministic.
func sortByPopularity(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].PopularityScore != items[j].PopularityScore {
			return items[i].PopularityScore > items[j].PopularityScore
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// window returns items[offset:offset+take] clamped to bounds.
func window(items []Item, offset, take int) []Item {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) || take <= 0 {
		return []Item{}
	}
	end := offset + take
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// recentlyViewed returns the ids of the viewer's n most recent views.
func (s *InMemoryStore) recentlyViewed(viewerID string, n int) map[string]bool {
	var mine []*viewRecord
	for _, v := range s.views {
		if v.ViewerID == viewerID {
			mine = append(mine, v)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].seq > mine[j].seq
	})

	excluded := make(map[string]bool, n)
	for i := 0; i < len(mine) && i < n; i++ {
		excluded[mine[i].ItemID] = true
	}
	return excluded
}

// CandidatesForViewer implements CatalogRepository.
func (s *InMemoryStore) CandidatesForViewer(ctx context.Context, viewerID string, limit, excludeRecent int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := s.recentlyViewed(viewerID, excludeRecent)
	items := s.visible(func(item *Item) bool { return !excluded[item.ID] })
	sortByPopularity(items)
	return window(items, 0, limit), nil
}

// Trending implements CatalogRepository.
func (s *InMemoryStore) Trending(ctx context.Context, offset, take int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.visible(nil)
	sortByPopularity(items)
	return window(items, offset, take), nil
}

// ByPublisher implements CatalogRepository.
func (s *InMemoryStore) ByPublisher(ctx context.Context, publisherID string, take int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.visible(func(item *Item) bool { return item.PublisherID == publisherID })
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return window(items, 0, take), nil
}

// PublishersWithLocation implements CatalogRepository.
func (s *InMemoryStore) PublishersWithLocation(ctx context.Context) ([]Publisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Publisher, 0, len(s.publishers))
	for _, p := range s.publishers {
		if p.IsActive && p.Location != nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Viewer implements ProfileRepository.
func (s *InMemoryStore) Viewer(ctx context.Context, viewerID string) (*Viewer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.viewers[viewerID]
	if !ok {
		return nil, ErrViewerNotFound
	}
	out := *v
	if v.Location != nil {
		loc := *v.Location
		out.Location = &loc
	}
	return &out, nil
}

// RecordView implements ViewRepository.
func (s *InMemoryStore) RecordView(ctx context.Context, ev ViewEvent) (*UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[ev.ItemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	item.Engagement.Views++

	now := s.now()
	key := makeViewKey(ev.ViewerID, ev.ItemID)
	if existing, ok := s.views[key]; ok {
		existing.WatchTime = ev.WatchTime
		existing.Completed = ev.Completed
		existing.UpdatedAt = now
		return &UpsertResult{Inserted: false, ID: existing.ID}, nil
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = ev.CreatedAt
	s.seq++
	s.views[key] = &viewRecord{ViewEvent: ev, seq: s.seq}

	return &UpsertResult{Inserted: true, ID: ev.ID}, nil
}

// Compile-time interface checks.
var (
	_ CatalogRepository = (*InMemoryStore)(nil)
	_ ProfileRepository = (*InMemoryStore)(nil)
	_ ViewRepository    = (*InMemoryStore)(nil)
)

