package geo

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewBoundingBox(t *testing.T) {
	b := NewBoundingBox(Point{Lat: 52.5, Lon: 13.4}, 0.001)
	if !almostEqual(b.MinLat, 52.499) || !almostEqual(b.MaxLat, 52.501) {
		t.Errorf("lat bounds = %v..%v", b.MinLat, b.MaxLat)
	}
	if !almostEqual(b.MinLon, 13.399) || !almostEqual(b.MaxLon, 13.401) {
		t.Errorf("lon bounds = %v..%v", b.MinLon, b.MaxLon)
	}
	c := b.Center()
	if !almostEqual(c.Lat, 52.5) || !almostEqual(c.Lon, 13.4) {
		t.Errorf("center = %+v", c)
	}
}

func TestQueryOrdering(t *testing.T) {
	b := BoundingBox{MinLat: 52.1, MinLon: 13.2, MaxLat: 52.3, MaxLon: 13.4}
	got := b.Query()
	want := "13.200000,52.100000,13.400000,52.300000"
	if got != want {
		t.Errorf("Query() = %q, want %q", got, want)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		b    BoundingBox
		want bool
	}{
		{"normal", BoundingBox{52.1, 13.2, 52.3, 13.4}, true},
		{"inverted lat", BoundingBox{52.3, 13.2, 52.1, 13.4}, false},
		{"zero extent", BoundingBox{52.1, 13.2, 52.1, 13.4}, false},
		{"lat out of range", BoundingBox{52.1, 13.2, 95, 13.4}, false},
		{"nan", BoundingBox{math.NaN(), 13.2, 52.3, 13.4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaledShrinks(t *testing.T) {
	b := BoundingBox{MinLat: 0, MinLon: 0, MaxLat: 2, MaxLon: 4}
	s := b.Scaled(0.75)

	latSpan, lonSpan := s.Span()
	if !almostEqual(latSpan, 1.5) || !almostEqual(lonSpan, 3) {
		t.Errorf("spans = %v, %v; want 1.5, 3", latSpan, lonSpan)
	}
	if s.Center() != b.Center() {
		t.Errorf("center moved: %+v != %+v", s.Center(), b.Center())
	}
}

func TestShifted(t *testing.T) {
	b := BoundingBox{MinLat: 0, MinLon: 0, MaxLat: 1, MaxLon: 2}

	same := b.Shifted(0, 0)
	if same != b {
		t.Errorf("Shifted(0,0) = %+v", same)
	}
	north := b.Shifted(1, 0)
	if !almostEqual(north.MinLat, 1) || !almostEqual(north.MaxLat, 2) {
		t.Errorf("north = %+v", north)
	}
	west := b.Shifted(0, -1)
	if !almostEqual(west.MinLon, -2) || !almostEqual(west.MaxLon, 0) {
		t.Errorf("west = %+v", west)
	}
}

func TestContains(t *testing.T) {
	b := BoundingBox{MinLat: 0, MinLon: 0, MaxLat: 1, MaxLon: 1}
	if !b.Contains(Point{Lat: 0.5, Lon: 0.5}) {
		t.Error("interior point not contained")
	}
	if !b.Contains(Point{Lat: 0, Lon: 1}) {
		t.Error("boundary point not contained")
	}
	if b.Contains(Point{Lat: 1.5, Lon: 0.5}) {
		t.Error("exterior point contained")
	}
}

func TestOutline(t *testing.T) {
	b := BoundingBox{MinLat: 1, MinLon: 2, MaxLat: 3, MaxLon: 4}
	ring := b.Outline()
	if len(ring) != 5 {
		t.Fatalf("ring length = %d, want 5", len(ring))
	}
	if ring[0] != ring[4] {
		t.Error("ring does not close")
	}
}
