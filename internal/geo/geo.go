// Package geo provides great-circle distance and condition-relevance scoring
// for facility ranking. Pure functions, no external state.
package geo

import (
	"math"
	"strings"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// ValidPoint reports whether lat/lng are finite and within WGS84 bounds.
func ValidPoint(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineKm returns the great-circle distance in kilometers between two
// points using a spherical-earth approximation. A flat-plane approximation
// produces material error beyond a few km, so it is not used here.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLng := toRadians(lng2 - lng1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// RelevanceScore scores a facility's specialty tags against a patient's
// condition list. Each overlapping tag adds one point; overlap is
// case-insensitive and matches either direction of containment so that
// "asthma" pairs with a "pediatric asthma clinic" tag.
func RelevanceScore(conditions, tags []string) float64 {
	if len(conditions) == 0 || len(tags) == 0 {
		return 0
	}

	normTags := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normTags = append(normTags, t)
		}
	}

	var score float64
	for _, c := range conditions {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, t := range normTags {
			if t == c || strings.Contains(t, c) || strings.Contains(c, t) {
				score++
				break
			}
		}
	}
	return score
}

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
