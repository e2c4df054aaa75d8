// Package stats tracks outcomes of upsert writes such as view registration.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// UpsertStats counts inserts and in-place updates. Safe for concurrent use.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
}

// NewUpsertStats creates a new UpsertStats instance.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// Record counts one upsert outcome.
func (s *UpsertStats) Record(inserted bool) {
	if inserted {
		s.inserted.Add(1)
		return
	}
	s.updated.Add(1)
}

// Inserted returns the total number of inserts.
func (s *UpsertStats) Inserted() int64 {
	return s.inserted.Load()
}

// Updated returns the total number of updates.
func (s *UpsertStats) Updated() int64 {
	return s.updated.Load()
}

// Total returns inserts plus updates.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

// Reset zeroes both counters.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
}

func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d total=%d", s.Inserted(), s.Updated(), s.Total())
}

// LogSummary logs the counters for entity at INFO level.
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	logger.Info("upsert statistics",
		"entity", entity,
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"total", s.Total(),
	)
}

// Collectors exposes the counters as Prometheus counters named
// <entity>_upserts_total with an outcome label of "inserted" or "updated".
func (s *UpsertStats) Collectors(entity string) []prometheus.Collector {
	name := entity + "_upserts_total"
	help := fmt.Sprintf("Upserts of %s records by outcome", entity)
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"outcome": "inserted"},
		}, func() float64 { return float64(s.Inserted()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"outcome": "updated"},
		}, func() float64 { return float64(s.Updated()) }),
	}
}
