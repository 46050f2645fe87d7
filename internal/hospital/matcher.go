package hospital

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/geo"
)

// Search radii and limits. A zero-candidate result at the default radius
// escalates once to the extended radius: rural areas must not get "no
// hospital" when one exists further away.
const (
	DefaultRadiusKm  = 20.0
	ExtendedRadiusKm = 100.0
	DefaultLimit     = 10
	ExtendedLimit    = 5
)

// Matcher ranks nearby facilities by distance and, when patient conditions
// are supplied, by specialty relevance.
type Matcher struct {
	dir    Directory
	logger *zap.Logger
	tracer trace.Tracer
}

// NewMatcher creates a proximity matcher over a facility directory.
func NewMatcher(dir Directory, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer("hospital-matcher"),
	}
}

// FindCandidates returns facilities within radiusKm of origin, ranked and
// truncated to limit. With conditions, ranking is relevance descending then
// distance ascending; otherwise distance ascending. An empty result is a
// valid outcome, never an error.
func (m *Matcher) FindCandidates(ctx context.Context, origin geo.Point, radiusKm float64, limit int, conditions []string) ([]*Candidate, error) {
	ctx, span := m.tracer.Start(ctx, "find_candidates",
		trace.WithAttributes(
			attribute.Float64("radius_km", radiusKm),
			attribute.Int("limit", limit),
			attribute.Int("conditions", len(conditions)),
		))
	defer span.End()

	facilities, err := m.dir.QueryNear(ctx, origin.Lat, origin.Lng, radiusKm)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(facilities))
	for _, f := range facilities {
		dist := geo.HaversineKm(origin.Lat, origin.Lng, f.Lat, f.Lng)
		if dist > radiusKm {
			continue
		}
		c := &Candidate{Facility: f, DistanceKm: dist}
		if len(conditions) > 0 {
			c.RelevanceScore = geo.RelevanceScore(conditions, f.Specialties)
		}
		candidates = append(candidates, c)
	}

	if len(conditions) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].RelevanceScore != candidates[j].RelevanceScore {
				return candidates[i].RelevanceScore > candidates[j].RelevanceScore
			}
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		})
	}

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	return candidates, nil
}

// FindNearby runs FindCandidates at the default radius, escalating once to
// the extended radius with a smaller limit if nothing was found.
func (m *Matcher) FindNearby(ctx context.Context, origin geo.Point, conditions []string) ([]*Candidate, error) {
	candidates, err := m.FindCandidates(ctx, origin, DefaultRadiusKm, DefaultLimit, conditions)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	m.logger.Info("no facilities in default radius, escalating search",
		zap.Float64("lat", origin.Lat),
		zap.Float64("lng", origin.Lng),
		zap.Float64("extended_radius_km", ExtendedRadiusKm),
	)

	return m.FindCandidates(ctx, origin, ExtendedRadiusKm, ExtendedLimit, conditions)
}
