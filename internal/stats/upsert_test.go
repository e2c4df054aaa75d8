package stats

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUpsertStats_Record(t *testing.T) {
	s := NewUpsertStats()

	s.Record(true)
	s.Record(true)
	s.Record(false)

	if s.Inserted() != 2 {
		t.Errorf("Inserted() = %d, want 2", s.Inserted())
	}
	if s.Updated() != 1 {
		t.Errorf("Updated() = %d, want 1", s.Updated())
	}
	if s.Total() != 3 {
		t.Errorf("Total() = %d, want 3", s.Total())
	}
	if got := s.String(); got != "inserted=2 updated=1 total=3" {
		t.Errorf("String() = %q", got)
	}

	s.Reset()
	if s.Total() != 0 {
		t.Errorf("Total() after Reset = %d, want 0", s.Total())
	}
}

func TestUpsertStats_Concurrent(t *testing.T) {
	s := NewUpsertStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record(i%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	if s.Inserted() != 2500 || s.Updated() != 2500 {
		t.Errorf("got inserted=%d updated=%d, want 2500 each", s.Inserted(), s.Updated())
	}
}

func TestUpsertStats_LogSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewUpsertStats()
	s.Record(true)

	s.LogSummary(logger, "view")

	out := buf.String()
	for _, want := range []string{"upsert statistics", "entity=view", "inserted=1", "updated=0", "total=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestUpsertStats_Collectors(t *testing.T) {
	s := NewUpsertStats()
	s.Record(true)
	s.Record(false)
	s.Record(false)

	reg := prometheus.NewRegistry()
	for _, c := range s.Collectors("view") {
		if err := reg.Register(c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	expected := `
# HELP view_upserts_total Upserts of view records by outcome
# TYPE view_upserts_total counter
view_upserts_total{outcome="inserted"} 1
view_upserts_total{outcome="updated"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "view_upserts_total"); err != nil {
		t.Error(err)
	}
}
