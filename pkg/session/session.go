// Package session implements the editing operations of a mapping session:
// finding objects at a tapped location, creating, modifying and deleting
// them. The ledger always wins over downloaded state, so the user sees
// their own pending work.
package session

import (
	"fmt"
	"log/slog"

	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/ledger"
	"github.com/osmedit/osmedit/pkg/osm"
)

// Session mediates edits between the in-memory store and the ledger.
type Session struct {
	store  *osm.Store
	ledger *ledger.Ledger
	logger *slog.Logger
}

// New wires a session over a store and a ledger.
func New(store *osm.Store, l *ledger.Ledger, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, ledger: l, logger: logger}
}

// resolve returns the editable snapshot for ref, preferring a pending edit
// over the downloaded element.
func (s *Session) resolve(ref osm.Ref) (*osm.EditObject, bool) {
	if o, ok := s.ledger.Get(ref); ok {
		return o, true
	}
	if s.ledger.Deleted(ref) {
		return nil, false
	}
	e, ok := s.store.Resolve(ref)
	if !ok {
		return nil, false
	}
	return osm.Snapshot(e, s.store), true
}

// Get returns the current editable snapshot for ref.
func (s *Session) Get(ref osm.Ref) (*osm.EditObject, bool) {
	return s.resolve(ref)
}

// ObjectsAt returns every object within radius degrees of p: nearby nodes,
// ways passing within the radius, and closed ways or pending objects whose
// area contains the point. Pending deletions are excluded and pending
// edits replace their downloaded counterparts.
func (s *Session) ObjectsAt(p geo.Point, radius float64) []*osm.EditObject {
	seen := make(map[osm.Ref]bool)
	var out []*osm.EditObject

	add := func(o *osm.EditObject) {
		ref := o.Ref()
		if seen[ref] {
			return
		}
		seen[ref] = true
		out = append(out, o)
	}

	// Pending objects first: they may exist nowhere else.
	for _, o := range s.ledger.Edits() {
		if editObjectHits(o, p, radius) {
			add(o)
		}
	}

	for _, n := range s.store.Nodes() {
		if len(n.Tags) == 0 {
			continue
		}
		if !nearby(geo.Point{Lat: n.Lat, Lon: n.Lon}, p, radius) {
			continue
		}
		ref := osm.NewRef(n)
		if o, ok := s.resolve(ref); ok {
			add(o)
		}
	}

	for _, w := range s.store.Ways() {
		o := osm.SnapshotWay(w, s.store)
		if !editObjectHits(o, p, radius) {
			continue
		}
		if resolved, ok := s.resolve(o.Ref()); ok {
			add(resolved)
		}
	}

	return out
}

func nearby(a, b geo.Point, radius float64) bool {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return dLat*dLat+dLon*dLon <= radius*radius
}

// editObjectHits tests whether p selects the object: proximity for nodes
// and open ways, containment for closed rings.
func editObjectHits(o *osm.EditObject, p geo.Point, radius float64) bool {
	switch o.Type {
	case osm.TypeNode:
		return nearby(geo.Point{Lat: o.Lat, Lon: o.Lon}, p, radius)
	case osm.TypeClosedWay:
		if pointInRing(p, o.Points) {
			return true
		}
	}
	for i := 0; i+1 < len(o.Points); i++ {
		if segmentNear(o.Points[i], o.Points[i+1], p, radius) {
			return true
		}
	}
	return false
}

// pointInRing is a ray-casting containment test over the snapshot ring.
func pointInRing(p geo.Point, ring []geo.Point) bool {
	if len(ring) < 4 {
		return false
	}
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			cross := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < cross {
				inside = !inside
			}
		}
	}
	return inside
}

// segmentNear tests whether p lies within radius of the segment ab.
func segmentNear(a, b, p geo.Point, radius float64) bool {
	abLat, abLon := b.Lat-a.Lat, b.Lon-a.Lon
	apLat, apLon := p.Lat-a.Lat, p.Lon-a.Lon
	lenSq := abLat*abLat + abLon*abLon

	t := 0.0
	if lenSq > 0 {
		t = (apLat*abLat + apLon*abLon) / lenSq
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	closest := geo.Point{Lat: a.Lat + t*abLat, Lon: a.Lon + t*abLon}
	return nearby(closest, p, radius)
}

// CreateNode mints a synthetic node at p and records it in the ledger.
func (s *Session) CreateNode(p geo.Point, tags osm.Tags) (*osm.EditObject, error) {
	id, err := s.ledger.NextSyntheticID()
	if err != nil {
		return nil, err
	}
	o := &osm.EditObject{
		Type: osm.TypeNode,
		ID:   id,
		Lat:  p.Lat,
		Lon:  p.Lon,
		Tags: tags,
	}
	if err := s.ledger.Upsert(o); err != nil {
		return nil, err
	}
	s.logger.Info("node created", "id", id)
	return o, nil
}

// CreateWay mints a way through the given points, creating a synthetic
// node for each. With closed set, the ring is closed by repeating the
// first node, and the way is classified as an area.
func (s *Session) CreateWay(points []geo.Point, tags osm.Tags, closed bool) (*osm.EditObject, error) {
	min := 2
	if closed {
		min = 3
	}
	if len(points) < min {
		return nil, core.NewError(core.ErrInvalidObject,
			fmt.Sprintf("way needs at least %d points, got %d", min, len(points)))
	}

	refs := make([]int64, 0, len(points)+1)
	snap := make([]geo.Point, 0, len(points)+1)
	for _, p := range points {
		node, err := s.CreateNode(p, nil)
		if err != nil {
			return nil, err
		}
		refs = append(refs, node.ID)
		snap = append(snap, p)
	}
	t := osm.TypeWay
	if closed {
		refs = append(refs, refs[0])
		snap = append(snap, snap[0])
		t = osm.TypeClosedWay
	}

	id, err := s.ledger.NextSyntheticID()
	if err != nil {
		return nil, err
	}
	o := &osm.EditObject{
		Type:   t,
		ID:     id,
		Tags:   tags,
		Refs:   refs,
		Points: snap,
	}
	if err := s.ledger.Upsert(o); err != nil {
		return nil, err
	}
	s.logger.Info("way created", "id", id, "nodes", len(refs), "closed", closed)
	return o, nil
}

// UpdateTags replaces the object's tags and records the edit.
func (s *Session) UpdateTags(ref osm.Ref, tags osm.Tags) (*osm.EditObject, error) {
	o, ok := s.resolve(ref)
	if !ok {
		return nil, core.NewError(core.ErrInvalidObject,
			fmt.Sprintf("no editable object %s", ref))
	}
	o.Tags = tags
	if err := s.ledger.Upsert(o); err != nil {
		return nil, err
	}
	return o, nil
}

// MoveNode relocates a node and records the edit.
func (s *Session) MoveNode(ref osm.Ref, p geo.Point) (*osm.EditObject, error) {
	if ref.Type.WireType() != osm.TypeNode {
		return nil, core.NewError(core.ErrInvalidObject,
			fmt.Sprintf("%s is not a node", ref))
	}
	o, ok := s.resolve(ref)
	if !ok {
		return nil, core.NewError(core.ErrInvalidObject,
			fmt.Sprintf("no editable object %s", ref))
	}
	o.Lat, o.Lon = p.Lat, p.Lon
	if err := s.ledger.Upsert(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Delete records a deletion for the object.
func (s *Session) Delete(ref osm.Ref) error {
	o, ok := s.resolve(ref)
	if !ok {
		return core.NewError(core.ErrInvalidObject,
			fmt.Sprintf("no editable object %s", ref))
	}
	return s.ledger.Delete(o)
}
