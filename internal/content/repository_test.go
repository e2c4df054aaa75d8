package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plateo/feedengine/internal/geo"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newSeededStore(t *testing.T) *InMemoryStore {
	t.Helper()

	store := NewInMemoryStore()
	store.AddPublisher(Publisher{ID: "taqueria", Name: "Taquería El Güero", Tier: TierPremium, IsActive: true, Location: &geo.Point{Lat: 24.02, Lng: -104.65}})
	store.AddPublisher(Publisher{ID: "pizzeria", Name: "Pizza Norte", Tier: TierBasic, IsActive: true})
	store.AddPublisher(Publisher{ID: "closed", Name: "Cerrado", IsActive: false, Location: &geo.Point{Lat: 24.03, Lng: -104.66}})

	items := []Item{
		{ID: "t1", PublisherID: "taqueria", PopularityScore: 90, CreatedAt: baseTime, IsActive: true, IsPublic: true},
		{ID: "t2", PublisherID: "taqueria", PopularityScore: 50, CreatedAt: baseTime.Add(2 * time.Hour), IsActive: true, IsPublic: true},
		{ID: "t3", PublisherID: "taqueria", PopularityScore: 50, CreatedAt: baseTime.Add(time.Hour), IsActive: true, IsPublic: true},
		{ID: "p1", PublisherID: "pizzeria", PopularityScore: 70, CreatedAt: baseTime, IsActive: true, IsPublic: true},
		{ID: "hidden", PublisherID: "pizzeria", PopularityScore: 99, CreatedAt: baseTime, IsActive: true, IsPublic: false},
		{ID: "inactive", PublisherID: "pizzeria", PopularityScore: 98, CreatedAt: baseTime, IsActive: false, IsPublic: true},
		{ID: "orphan", PublisherID: "closed", PopularityScore: 97, CreatedAt: baseTime, IsActive: true, IsPublic: true},
	}
	for _, item := range items {
		store.AddItem(item)
	}
	return store
}

func itemIDs(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func sameIDs(got []Item, want ...string) bool {
	ids := itemIDs(got)
	if len(ids) != len(want) {
		return false
	}
	for i := range ids {
		if ids[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInMemoryStore_Trending(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		offset, take int
		want         []string
	}{
		{"all visible by popularity then recency", 0, 10, []string{"t1", "p1", "t2", "t3"}},
		{"offset", 1, 2, []string{"p1", "t2"}},
		{"offset past end", 10, 5, []string{}},
		{"zero take", 0, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Trending(ctx, tt.offset, tt.take)
			if err != nil {
				t.Fatalf("Trending() error = %v", err)
			}
			if !sameIDs(got, tt.want...) {
				t.Errorf("Trending() = %v, want %v", itemIDs(got), tt.want)
			}
		})
	}
}

func TestInMemoryStore_HydratesPublisher(t *testing.T) {
	store := newSeededStore(t)

	got, err := store.Trending(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("Trending() error = %v", err)
	}
	pub := got[0].Publisher
	if pub.ID != "taqueria" || pub.Tier != TierPremium || pub.Location == nil {
		t.Errorf("expected hydrated taqueria publisher, got %+v", pub)
	}
}

func TestInMemoryStore_ByPublisher(t *testing.T) {
	store := newSeededStore(t)

	got, err := store.ByPublisher(context.Background(), "taqueria", 2)
	if err != nil {
		t.Fatalf("ByPublisher() error = %v", err)
	}
	if !sameIDs(got, "t2", "t3") {
		t.Errorf("ByPublisher() = %v, want most recent first [t2 t3]", itemIDs(got))
	}

	got, err = store.ByPublisher(context.Background(), "closed", 5)
	if err != nil {
		t.Fatalf("ByPublisher() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("inactive publisher items returned: %v", itemIDs(got))
	}
}

func TestInMemoryStore_PublishersWithLocation(t *testing.T) {
	store := newSeededStore(t)

	got, err := store.PublishersWithLocation(context.Background())
	if err != nil {
		t.Fatalf("PublishersWithLocation() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "taqueria" {
		t.Errorf("expected only active located publisher, got %+v", got)
	}
}

func TestInMemoryStore_Viewer(t *testing.T) {
	store := NewInMemoryStore()
	store.AddViewer(Viewer{ID: "v1", Location: &geo.Point{Lat: 24, Lng: -104}})

	v, err := store.Viewer(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Viewer() error = %v", err)
	}
	if v.Preferences.MaxPrice != DefaultMaxPrice {
		t.Errorf("MaxPrice = %v, want default %v", v.Preferences.MaxPrice, DefaultMaxPrice)
	}
	if v.Preferences.Categories == nil || v.Preferences.Tags == nil {
		t.Error("expected normalized non-nil preference sets")
	}

	v.Location.Lat = 0
	again, _ := store.Viewer(context.Background(), "v1")
	if again.Location.Lat != 24 {
		t.Error("mutating a returned viewer changed the stored one")
	}

	if _, err := store.Viewer(context.Background(), "nobody"); !errors.Is(err, ErrViewerNotFound) {
		t.Errorf("expected ErrViewerNotFound, got %v", err)
	}
}

func TestInMemoryStore_RecordView_Upsert(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	first, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: "t1", WatchTime: 3})
	if err != nil {
		t.Fatalf("RecordView() error = %v", err)
	}
	if !first.Inserted || first.ID == "" {
		t.Errorf("expected insert with generated id, got %+v", first)
	}

	second, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: "t1", WatchTime: 12, Completed: true})
	if err != nil {
		t.Fatalf("RecordView() error = %v", err)
	}
	if second.Inserted || second.ID != first.ID {
		t.Errorf("expected update of %s, got %+v", first.ID, second)
	}

	got, _ := store.Trending(ctx, 0, 1)
	if got[0].Engagement.Views != 2 {
		t.Errorf("Views = %d, want 2 after two registered views", got[0].Engagement.Views)
	}

	if _, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: "missing"}); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestInMemoryStore_CandidatesForViewer_ExclusionWindow(t *testing.T) {
	store := newSeededStore(t)
	clock := baseTime
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	// Viewed oldest to newest: p1, t2, t1.
	for _, id := range []string{"p1", "t2", "t1"} {
		clock = clock.Add(time.Minute)
		if _, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: id}); err != nil {
			t.Fatalf("RecordView(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		name    string
		exclude int
		want    []string
	}{
		{"no exclusion", 0, []string{"t1", "p1", "t2", "t3"}},
		{"most recent only", 1, []string{"p1", "t2", "t3"}},
		{"two most recent", 2, []string{"p1", "t3"}},
		{"window larger than history", 100, []string{"t3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.CandidatesForViewer(ctx, "v1", 10, tt.exclude)
			if err != nil {
				t.Fatalf("CandidatesForViewer() error = %v", err)
			}
			if !sameIDs(got, tt.want...) {
				t.Errorf("CandidatesForViewer() = %v, want %v", itemIDs(got), tt.want)
			}
		})
	}

	other, err := store.CandidatesForViewer(ctx, "v2", 2, 100)
	if err != nil {
		t.Fatalf("CandidatesForViewer() error = %v", err)
	}
	if !sameIDs(other, "t1", "p1") {
		t.Errorf("another viewer's history leaked: %v", itemIDs(other))
	}
}

func TestInMemoryStore_SameTimestampViewsUseInsertionOrder(t *testing.T) {
	store := newSeededStore(t)
	store.now = func() time.Time { return baseTime }
	ctx := context.Background()

	for _, id := range []string{"t1", "p1"} {
		if _, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: id}); err != nil {
			t.Fatalf("RecordView(%s) error = %v", id, err)
		}
	}

	got, err := store.CandidatesForViewer(ctx, "v1", 10, 1)
	if err != nil {
		t.Fatalf("CandidatesForViewer() error = %v", err)
	}
	if !sameIDs(got, "t1", "t2", "t3") {
		t.Errorf("expected the later insert (p1) excluded, got %v", itemIDs(got))
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	store := newSeededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Trending(ctx, 0, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("Trending: expected context.Canceled, got %v", err)
	}
	if _, err := store.Viewer(ctx, "v1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Viewer: expected context.Canceled, got %v", err)
	}
	if _, err := store.RecordView(ctx, ViewEvent{ViewerID: "v1", ItemID: "t1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("RecordView: expected context.Canceled, got %v", err)
	}
}

func TestSponsorship_ActiveAt(t *testing.T) {
	future := baseTime.Add(time.Hour)
	past := baseTime.Add(-time.Hour)

	tests := []struct {
		name string
		s    Sponsorship
		want bool
	}{
		{"not sponsored", Sponsorship{SponsoredUntil: &future}, false},
		{"sponsored without end", Sponsorship{IsSponsored: true}, false},
		{"sponsored and running", Sponsorship{IsSponsored: true, SponsoredUntil: &future}, true},
		{"sponsored and elapsed", Sponsorship{IsSponsored: true, SponsoredUntil: &past}, false},
		{"ends exactly now", Sponsorship{IsSponsored: true, SponsoredUntil: &baseTime}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.ActiveAt(baseTime); got != tt.want {
				t.Errorf("ActiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := map[string]Tier{
		"FREE":    TierFree,
		"BASIC":   TierBasic,
		"PREMIUM": TierPremium,
		"premium": TierFree,
		"":        TierFree,
	}
	for in, want := range tests {
		if got := ParseTier(in); got != want {
			t.Errorf("ParseTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodePreferences(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Preferences
		wantErr bool
	}{
		{"null column", "", Preferences{Categories: []string{}, Tags: []string{}, MaxPrice: DefaultMaxPrice}, false},
		{
			name: "full document",
			raw:  `{"categories":["TACOS"],"tags":["picante"],"maxPrice":50}`,
			want: Preferences{Categories: []string{"TACOS"}, Tags: []string{"picante"}, MaxPrice: 50},
		},
		{
			name: "zero max price uses default",
			raw:  `{"categories":["SUSHI"],"maxPrice":0}`,
			want: Preferences{Categories: []string{"SUSHI"}, Tags: []string{}, MaxPrice: DefaultMaxPrice},
		},
		{"malformed", `{"categories":`, Preferences{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePreferences([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodePreferences() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.MaxPrice != tt.want.MaxPrice ||
				len(got.Categories) != len(tt.want.Categories) ||
				len(got.Tags) != len(tt.want.Tags) {
				t.Errorf("decodePreferences() = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want.Categories {
				if got.Categories[i] != tt.want.Categories[i] {
					t.Errorf("Categories[%d] = %q, want %q", i, got.Categories[i], tt.want.Categories[i])
				}
			}
		})
	}
}
