package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/plateo/feedengine/internal/geo"
)

// ErrInvalidFixture is returned when a fixture file is malformed or
// references an unknown publisher.
var ErrInvalidFixture = errors.New("invalid fixture")

// FixtureFile is the JSON document accepted by LoadFixtures. Item times
// are relative to the moment of loading so a checked-in file stays fresh.
type FixtureFile struct {
	Publishers []PublisherFixture `json:"publishers"`
	Viewers    []ViewerFixture    `json:"viewers"`
	Items      []ItemFixture      `json:"items"`
}

// PublisherFixture seeds one publisher. Publishers are active unless
// Inactive is set.
type PublisherFixture struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	LogoURL  string     `json:"logo_url"`
	Tier     string     `json:"subscription_tier"`
	Location *geo.Point `json:"location"`
	Rating   float64    `json:"rating"`
	Inactive bool       `json:"inactive"`
}

// ViewerFixture seeds one viewer profile.
type ViewerFixture struct {
	ID          string      `json:"id"`
	Preferences Preferences `json:"preferences"`
	Location    *geo.Point  `json:"location"`
}

// ItemFixture seeds one content item.
type ItemFixture struct {
	ID              string     `json:"id"`
	PublisherID     string     `json:"publisher_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	VideoURL        string     `json:"video_url"`
	ThumbnailURL    string     `json:"thumbnail_url"`
	Category        string     `json:"category"`
	Tags            []string   `json:"tags"`
	Dish            Dish       `json:"dish"`
	Engagement      Engagement `json:"engagement"`
	PopularityScore float64    `json:"popularity_score"`

	// AgeHours places CreatedAt that many hours before load time.
	AgeHours float64 `json:"age_hours"`
	// SponsoredHours > 0 sponsors the item until that many hours after
	// load time; < 0 gives it a sponsorship that has already expired.
	SponsoredHours float64 `json:"sponsored_hours"`
	// Hidden items are stored inactive and private.
	Hidden bool `json:"hidden"`
}

// FixtureCounts reports what LoadFixtures stored.
type FixtureCounts struct {
	Publishers int
	Viewers    int
	Items      int
}

// LoadFixtureFile reads path and loads it with LoadFixtures.
func (s *InMemoryStore) LoadFixtureFile(path string) (FixtureCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return FixtureCounts{}, fmt.Errorf("failed to open fixture file: %w", err)
	}
	defer f.Close()
	return s.LoadFixtures(f)
}

// LoadFixtures decodes a FixtureFile from r and adds its contents to the
// store. The whole file is validated before anything is stored.
func (s *InMemoryStore) LoadFixtures(r io.Reader) (FixtureCounts, error) {
	var file FixtureFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return FixtureCounts{}, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if err := s.validateFixtures(&file); err != nil {
		return FixtureCounts{}, err
	}

	now := s.now()
	for _, p := range file.Publishers {
		s.AddPublisher(Publisher{
			ID:       p.ID,
			Name:     p.Name,
			LogoURL:  p.LogoURL,
			Tier:     ParseTier(p.Tier),
			Location: p.Location,
			Rating:   p.Rating,
			IsActive: !p.Inactive,
		})
	}
	for _, v := range file.Viewers {
		s.AddViewer(Viewer{ID: v.ID, Preferences: v.Preferences, Location: v.Location})
	}
	for _, it := range file.Items {
		s.AddItem(it.toItem(now))
	}

	return FixtureCounts{
		Publishers: len(file.Publishers),
		Viewers:    len(file.Viewers),
		Items:      len(file.Items),
	}, nil
}

func (s *InMemoryStore) validateFixtures(file *FixtureFile) error {
	publishers := make(map[string]bool, len(file.Publishers))
	for i, p := range file.Publishers {
		if p.ID == "" {
			return fmt.Errorf("%w: publisher %d has no id", ErrInvalidFixture, i)
		}
		publishers[p.ID] = true
	}
	for i, v := range file.Viewers {
		if v.ID == "" {
			return fmt.Errorf("%w: viewer %d has no id", ErrInvalidFixture, i)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, it := range file.Items {
		if it.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidFixture, i)
		}
		if it.AgeHours < 0 {
			return fmt.Errorf("%w: item %d has negative age_hours", ErrInvalidFixture, i)
		}
		if _, stored := s.publishers[it.PublisherID]; !publishers[it.PublisherID] && !stored {
			return fmt.Errorf("%w: item %d references unknown publisher %q", ErrInvalidFixture, i, it.PublisherID)
		}
	}
	return nil
}

func (it ItemFixture) toItem(now time.Time) Item {
	item := Item{
		ID:              it.ID,
		PublisherID:     it.PublisherID,
		Title:           it.Title,
		Description:     it.Description,
		VideoURL:        it.VideoURL,
		ThumbnailURL:    it.ThumbnailURL,
		Category:        it.Category,
		Tags:            it.Tags,
		Dish:            it.Dish,
		Engagement:      it.Engagement,
		PopularityScore: it.PopularityScore,
		IsActive:        !it.Hidden,
		IsPublic:        !it.Hidden,
		CreatedAt:       now.Add(-time.Duration(it.AgeHours * float64(time.Hour))),
	}
	if it.SponsoredHours != 0 {
		until := now.Add(time.Duration(it.SponsoredHours * float64(time.Hour)))
		item.Sponsorship = Sponsorship{IsSponsored: true, SponsoredUntil: &until}
	}
	return item
}
