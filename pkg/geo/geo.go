// Package geo provides geographic primitives shared across the editing core.
package geo

import (
	"fmt"
	"math"
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox defines a geographic region by its corner coordinates.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// NewBoundingBox builds a box of the given half-size (degrees) around a center.
func NewBoundingBox(center Point, halfSize float64) BoundingBox {
	return BoundingBox{
		MinLat: center.Lat - halfSize,
		MinLon: center.Lon - halfSize,
		MaxLat: center.Lat + halfSize,
		MaxLon: center.Lon + halfSize,
	}
}

// Contains reports whether p lies within the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}
}

// Expanded returns a copy of the box grown by margin degrees on every side.
func (b BoundingBox) Expanded(margin float64) BoundingBox {
	return BoundingBox{
		MinLat: b.MinLat - margin,
		MinLon: b.MinLon - margin,
		MaxLat: b.MaxLat + margin,
		MaxLon: b.MaxLon + margin,
	}
}

// Query formats the box for the OSM map endpoint: lon_min,lat_min,lon_max,lat_max.
func (b BoundingBox) Query() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Valid reports whether the box has positive extent and coordinates in range.
func (b BoundingBox) Valid() bool {
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return false
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return false
	}
	return !math.IsNaN(b.MinLat + b.MinLon + b.MaxLat + b.MaxLon)
}

// Scaled returns the box resized around its center by factor. A factor
// below 1 shrinks the box.
func (b BoundingBox) Scaled(factor float64) BoundingBox {
	c := b.Center()
	halfLat := (b.MaxLat - b.MinLat) / 2 * factor
	halfLon := (b.MaxLon - b.MinLon) / 2 * factor
	return BoundingBox{
		MinLat: c.Lat - halfLat,
		MinLon: c.Lon - halfLon,
		MaxLat: c.Lat + halfLat,
		MaxLon: c.Lon + halfLon,
	}
}

// Shifted returns the box translated by whole multiples of its own extent,
// used to address neighboring tiles in a grid.
func (b BoundingBox) Shifted(rows, cols int) BoundingBox {
	dLat := (b.MaxLat - b.MinLat) * float64(rows)
	dLon := (b.MaxLon - b.MinLon) * float64(cols)
	return BoundingBox{
		MinLat: b.MinLat + dLat,
		MinLon: b.MinLon + dLon,
		MaxLat: b.MaxLat + dLat,
		MaxLon: b.MaxLon + dLon,
	}
}

// Span returns the box extents in degrees.
func (b BoundingBox) Span() (latSpan, lonSpan float64) {
	return b.MaxLat - b.MinLat, b.MaxLon - b.MinLon
}

// Outline returns the box corners as a closed ring, first point repeated last.
func (b BoundingBox) Outline() []Point {
	return []Point{
		{Lat: b.MaxLat, Lon: b.MinLon},
		{Lat: b.MaxLat, Lon: b.MaxLon},
		{Lat: b.MinLat, Lon: b.MaxLon},
		{Lat: b.MinLat, Lon: b.MinLon},
		{Lat: b.MaxLat, Lon: b.MinLon},
	}
}
