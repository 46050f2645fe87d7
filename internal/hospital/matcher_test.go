package hospital

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/vitaqr/go-eds/internal/geo"
)

// fakeDirectory serves a fixed facility list, ignoring the radius prefilter
// the way a coarse bounding-box query over-fetches.
type fakeDirectory struct {
	facilities []*Facility
	err        error
	calls      int
}

func (d *fakeDirectory) QueryNear(_ context.Context, _, _, _ float64) ([]*Facility, error) {
	d.calls++
	return d.facilities, d.err
}

var cdmx = geo.Point{Lat: 19.4326, Lng: -99.1332}

func testFacilities() []*Facility {
	return []*Facility{
		{ID: "f1", Name: "Hospital General", Lat: 19.4130, Lng: -99.1540, Specialties: []string{"trauma", "general"}, Phone: "+525550000001"},
		{ID: "f2", Name: "Instituto Respiratorio", Lat: 19.4890, Lng: -99.1000, Specialties: []string{"asthma", "pulmonology"}, Phone: "+525550000002"},
		{ID: "f3", Name: "Clinica del Valle", Lat: 19.3700, Lng: -99.1790, Specialties: []string{"general"}, Phone: "+525550000003"},
		{ID: "f4", Name: "Hospital Toluca", Lat: 19.2926, Lng: -99.6569, Specialties: []string{"asthma"}, Phone: "+525550000004"},
	}
}

func TestFindCandidatesDistanceOrder(t *testing.T) {
	m := NewMatcher(&fakeDirectory{facilities: testFacilities()}, nil)

	got, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, DefaultLimit, nil)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	// f4 is ~56km out and must be filtered by the 20km radius.
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKm < got[i-1].DistanceKm {
			t.Errorf("candidates not sorted by distance: %v before %v", got[i-1].DistanceKm, got[i].DistanceKm)
		}
	}
	for _, c := range got {
		if c.DistanceKm > DefaultRadiusKm {
			t.Errorf("candidate %s outside radius: %.2fkm", c.Facility.ID, c.DistanceKm)
		}
	}
}

func TestFindCandidatesRelevanceRanking(t *testing.T) {
	m := NewMatcher(&fakeDirectory{facilities: testFacilities()}, nil)

	got, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, DefaultLimit, []string{"asthma"})
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected candidates")
	}
	// The asthma-relevant facility ranks first even though it is not nearest.
	if got[0].Facility.ID != "f2" {
		t.Errorf("expected f2 first, got %s", got[0].Facility.ID)
	}
	if got[0].RelevanceScore != 1 {
		t.Errorf("expected relevance 1, got %v", got[0].RelevanceScore)
	}
	// Equal-relevance tail stays distance-sorted.
	for i := 2; i < len(got); i++ {
		if got[i].RelevanceScore == got[i-1].RelevanceScore && got[i].DistanceKm < got[i-1].DistanceKm {
			t.Errorf("distance tie-break violated at %d", i)
		}
	}
}

func TestFindCandidatesIdempotent(t *testing.T) {
	m := NewMatcher(&fakeDirectory{facilities: testFacilities()}, nil)

	first, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, DefaultLimit, []string{"asthma"})
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, DefaultLimit, []string{"asthma"})
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Facility.ID != second[i].Facility.ID {
			t.Errorf("ordering differs at %d: %s vs %s", i, first[i].Facility.ID, second[i].Facility.ID)
		}
	}
}

func TestFindCandidatesLimit(t *testing.T) {
	m := NewMatcher(&fakeDirectory{facilities: testFacilities()}, nil)

	got, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, 2, nil)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got))
	}
}

func TestFindNearbyEscalation(t *testing.T) {
	// Only the Toluca hospital exists: outside 20km, inside 100km.
	dir := &fakeDirectory{facilities: []*Facility{
		{ID: "f4", Name: "Hospital Toluca", Lat: 19.2926, Lng: -99.6569},
	}}
	m := NewMatcher(dir, nil)

	got, err := m.FindNearby(context.Background(), cdmx, nil)
	if err != nil {
		t.Fatalf("FindNearby failed: %v", err)
	}
	if dir.calls != 2 {
		t.Errorf("expected escalated second query, got %d calls", dir.calls)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate after escalation, got %d", len(got))
	}
	if got[0].DistanceKm > ExtendedRadiusKm {
		t.Errorf("candidate outside extended radius: %.2fkm", got[0].DistanceKm)
	}
}

func TestFindNearbyNothingAnywhere(t *testing.T) {
	m := NewMatcher(&fakeDirectory{}, nil)

	got, err := m.FindNearby(context.Background(), cdmx, nil)
	if err != nil {
		t.Fatalf("FindNearby failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestFindNearbyNoEscalationWhenFound(t *testing.T) {
	dir := &fakeDirectory{facilities: testFacilities()}
	m := NewMatcher(dir, nil)

	if _, err := m.FindNearby(context.Background(), cdmx, nil); err != nil {
		t.Fatalf("FindNearby failed: %v", err)
	}
	if dir.calls != 1 {
		t.Errorf("expected single query, got %d calls", dir.calls)
	}
}

func TestFindCandidatesDirectoryError(t *testing.T) {
	m := NewMatcher(&fakeDirectory{err: errors.New("directory down")}, nil)

	if _, err := m.FindCandidates(context.Background(), cdmx, DefaultRadiusKm, DefaultLimit, nil); err == nil {
		t.Error("expected error from directory")
	}
}

func TestBoundingDeltas(t *testing.T) {
	tests := []struct {
		name     string
		lat      float64
		radiusKm float64
	}{
		{"equator", 0, 20},
		{"mexico city", 19.4326, 20},
		{"mid latitude", 45, 100},
		{"high latitude", 65, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latDelta, lngDelta := boundingDeltas(tt.lat, tt.radiusKm)

			if latDelta <= 0 || lngDelta <= 0 {
				t.Fatalf("deltas must be positive, got %.4f / %.4f", latDelta, lngDelta)
			}
			// The box must cover the full radius along the east-west axis:
			// lngDelta degrees at this latitude spans at least radiusKm.
			spanKm := geo.HaversineKm(tt.lat, 0, tt.lat, lngDelta)
			if spanKm < tt.radiusKm-0.01 {
				t.Errorf("lngDelta spans %.2fkm at lat %.1f, under the %.0fkm radius",
					spanKm, tt.lat, tt.radiusKm)
			}
		})
	}

	// Past the cosine floor the box is capped instead of widening without
	// bound; it still has to stay positive and finite.
	latDelta, lngDelta := boundingDeltas(89, 20)
	if latDelta <= 0 || lngDelta <= 0 || math.IsInf(lngDelta, 1) {
		t.Errorf("polar deltas = %.4f / %.4f", latDelta, lngDelta)
	}
}
