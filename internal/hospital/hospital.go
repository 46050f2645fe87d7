// Package hospital locates medically relevant facilities near a coordinate.
package hospital

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaqr/go-eds/internal/geo"
)

// Facility is a directory entry for a hospital or clinic.
type Facility struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	Specialties    []string `json:"specialties,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	EmergencyPhone string   `json:"emergency_phone,omitempty"`
}

// Candidate is a facility annotated with query-time derived values. The
// derived values live only for the duration of one query; callers snapshot
// them if they need to keep them.
type Candidate struct {
	Facility       *Facility `json:"facility"`
	DistanceKm     float64   `json:"distance_km"`
	RelevanceScore float64   `json:"relevance_score,omitempty"`
}

// Directory is the external facility directory consumed read-only.
type Directory interface {
	QueryNear(ctx context.Context, lat, lng, radiusKm float64) ([]*Facility, error)
}

// PGDirectory reads facilities from Postgres. The radius filter here is a
// coarse bounding box; exact distance filtering happens in the Matcher.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory creates a Postgres-backed facility directory.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// QueryNear returns facilities within a bounding box around the origin.
func (d *PGDirectory) QueryNear(ctx context.Context, lat, lng, radiusKm float64) ([]*Facility, error) {
	latDelta, lngDelta := boundingDeltas(lat, radiusKm)

	query := `
		SELECT id, name, lat, lng, specialties, phone, emergency_phone
		FROM facilities
		WHERE lat BETWEEN $1 AND $2
		  AND lng BETWEEN $3 AND $4
		  AND is_active
	`

	rows, err := d.pool.Query(ctx, query, lat-latDelta, lat+latDelta, lng-lngDelta, lng+lngDelta)
	if err != nil {
		return nil, fmt.Errorf("facility query: %w", err)
	}
	defer rows.Close()

	var facilities []*Facility
	for rows.Next() {
		f := &Facility{}
		if err := rows.Scan(&f.ID, &f.Name, &f.Lat, &f.Lng, &f.Specialties, &f.Phone, &f.EmergencyPhone); err != nil {
			return nil, fmt.Errorf("facility scan: %w", err)
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}

// boundingDeltas converts a radius to coarse degree spans for the box
// prefilter. One degree of latitude is ~111km; a longitude degree shrinks
// with cos(lat), and the factor is floored so the box stays finite near
// the poles and always over-fetches rather than misses.
func boundingDeltas(lat, radiusKm float64) (latDelta, lngDelta float64) {
	latDelta = radiusKm / 111.0
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.1 {
		cosLat = 0.1
	}
	lngDelta = radiusKm / (111.0 * cosLat)
	return latDelta, lngDelta
}

var _ Directory = (*PGDirectory)(nil)

// point re-exported for callers that only import this package.
type Point = geo.Point
