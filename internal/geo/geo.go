// Package geo holds the planar geometry helpers used for challenge bounds,
// task locations and near/area lookups. Coordinates are lon/lat degrees with
// no projection, matching the SRID 0 columns in MySQL.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// DefaultNearBuffer is the radius, in degrees, used when a near query has none.
const DefaultNearBuffer = 0.01

// DefaultLocalAreaThreshold is the square-degree area at or below which a
// challenge counts as local.
const DefaultLocalAreaThreshold = 10.0

var ErrEmptyGeometry = errors.New("geometry is empty")

// World is the default challenge polygon.
func World() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{-180, -90}, {-180, 90}, {180, 90}, {180, -90}, {-180, -90},
	}}
}

// Circle is a point with a planar radius in degrees.
type Circle struct {
	Center orb.Point
	Radius float64
}

// NewCircle validates the coordinates and applies the default buffer for radius <= 0.
func NewCircle(lon, lat, radius float64) (Circle, error) {
	if err := ValidateLonLat(lon, lat); err != nil {
		return Circle{}, err
	}
	if radius <= 0 || math.IsNaN(radius) {
		radius = DefaultNearBuffer
	}
	return Circle{Center: orb.Point{lon, lat}, Radius: radius}, nil
}

// ContainsPoint reports whether p lies within the circle.
func (c Circle) ContainsPoint(p orb.Point) bool {
	return planar.Distance(c.Center, p) <= c.Radius
}

// ValidateLonLat rejects coordinates outside [-180,180] x [-90,90].
func ValidateLonLat(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("coordinate (%v, %v) out of range", lon, lat)
	}
	return nil
}

// ParseLonLat parses the "lon|lat" form used by query parameters.
// A trailing "|radius" is accepted and returned as the third value, 0 when absent.
func ParseLonLat(raw string) (lon, lat, radius float64, err error) {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("expected lon|lat, got %q", raw)
	}
	values := make([]float64, len(parts))
	for i, part := range parts {
		values[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("parse %q: %w", raw, err)
		}
	}
	if err := ValidateLonLat(values[0], values[1]); err != nil {
		return 0, 0, 0, err
	}
	if len(values) == 3 {
		radius = values[2]
	}
	return values[0], values[1], radius, nil
}

// ParseGeoJSON decodes a GeoJSON geometry object.
func ParseGeoJSON(data []byte) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	geom := g.Geometry()
	if geom == nil || isEmpty(geom) {
		return nil, ErrEmptyGeometry
	}
	return geom, nil
}

// MarshalGeoJSON encodes a geometry as a GeoJSON geometry object.
func MarshalGeoJSON(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(g).MarshalJSON()
}

// ParseWKT decodes the text form stored in MySQL.
func ParseWKT(s string) (orb.Geometry, error) {
	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("decode wkt: %w", err)
	}
	return geom, nil
}

// WKT encodes a geometry for ST_GeomFromText.
func WKT(g orb.Geometry) string {
	return wkt.MarshalString(g)
}

// RepresentativePoint returns the point a task is located at: the point itself for
// point geometries, otherwise the planar centroid of all geometries combined.
func RepresentativePoint(geoms ...orb.Geometry) (orb.Point, error) {
	collection := make(orb.Collection, 0, len(geoms))
	for _, g := range geoms {
		if g != nil && !isEmpty(g) {
			collection = append(collection, g)
		}
	}
	switch len(collection) {
	case 0:
		return orb.Point{}, ErrEmptyGeometry
	case 1:
		if p, ok := collection[0].(orb.Point); ok {
			return p, nil
		}
	}
	centroid, _ := planar.CentroidArea(collection)
	return centroid, nil
}

// Contains reports whether a polygonal geometry contains the point.
// Non-polygonal geometries never contain anything.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch poly := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(poly, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(poly, p)
	case orb.Bound:
		return poly.Contains(p)
	default:
		return false
	}
}

// Area returns the planar area in square degrees.
func Area(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return math.Abs(planar.Area(g))
}

// IsLocal reports whether a challenge polygon is small enough to be local.
func IsLocal(g orb.Geometry, threshold float64) bool {
	if g == nil {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultLocalAreaThreshold
	}
	return Area(g) <= threshold
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	default:
		return false
	}
}
