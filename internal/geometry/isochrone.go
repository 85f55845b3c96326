package geometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

var ErrEmptyGeometry = errors.New("empty geometry")

// nullTokens are the serialisations upstream tools use for a missing polygon.
var nullTokens = map[string]bool{"": true, "nan": true, "none": true, "null": true}

// ParseIsochrone decodes a WKT polygon or multipolygon. Empty input returns
// ErrEmptyGeometry; anything else that is not an areal geometry is an error.
// Callers treat both as a null isochrone.
func ParseIsochrone(s string) (orb.Geometry, error) {
	trimmed := strings.TrimSpace(s)
	if nullTokens[strings.ToLower(trimmed)] || strings.HasSuffix(strings.ToUpper(trimmed), "EMPTY") {
		return nil, ErrEmptyGeometry
	}

	g, err := wkt.Unmarshal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse isochrone: %w", err)
	}

	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, ErrEmptyGeometry
		}
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil, ErrEmptyGeometry
		}
		return v, nil
	default:
		return nil, fmt.Errorf("isochrone must be a polygon, got %s", g.GeoJSONType())
	}
}

// FormatGeometry serialises g as WKT, or "" for nil.
func FormatGeometry(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return wkt.MarshalString(g)
}

// Covers reports whether point p lies within the areal geometry g.
func Covers(g orb.Geometry, p orb.Point) bool {
	if g == nil || !g.Bound().Contains(p) {
		return false
	}
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	case orb.Ring:
		return planar.RingContains(v, p)
	default:
		return false
	}
}
