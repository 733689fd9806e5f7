package osm

import (
	"github.com/osmedit/osmedit/pkg/geo"
)

// Action is the osmChange section an edited object belongs to.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// EditObject is a self-contained snapshot of an edited element. It carries
// everything needed to render, persist and upload the edit without touching
// the live store, so a later re-download cannot mutate pending work out
// from under the user.
type EditObject struct {
	Type      ElementType `json:"type"`
	ID        int64       `json:"id"`
	Version   int         `json:"version"`
	Changeset int64       `json:"changeset"`
	Tags      Tags        `json:"tags,omitempty"`

	// Node fields.
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`

	// Way fields. Points mirrors Refs positionally for refs that were
	// resolvable at snapshot time.
	Refs   []int64     `json:"nds,omitempty"`
	Points []geo.Point `json:"points,omitempty"`

	// Relation fields.
	Members []Member `json:"members,omitempty"`
}

// Synthetic reports whether the object carries a locally minted id, which
// marks it as a creation not yet known to the server.
func (o *EditObject) Synthetic() bool {
	return o.ID < 0
}

// Classify returns the osmChange section the object belongs to when it sits
// in the edit set. Deletions are tracked separately by the ledger.
func (o *EditObject) Classify() Action {
	if o.Synthetic() {
		return ActionCreate
	}
	return ActionModify
}

// Ref returns the wire-level reference for the snapshot.
func (o *EditObject) Ref() Ref {
	return Ref{Type: o.Type.WireType(), ID: o.ID}
}

// Center returns a representative coordinate for the object: the node
// position, or the centroid of the snapshot points.
func (o *EditObject) Center() geo.Point {
	if o.Type == TypeNode {
		return geo.Point{Lat: o.Lat, Lon: o.Lon}
	}
	if len(o.Points) == 0 {
		return geo.Point{}
	}
	var lat, lon float64
	for _, p := range o.Points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(o.Points))
	return geo.Point{Lat: lat / n, Lon: lon / n}
}

// ToElement converts the snapshot back into a wire element for encoding.
func (o *EditObject) ToElement() Element {
	switch o.Type.WireType() {
	case TypeNode:
		return &Node{
			ID:        o.ID,
			Version:   o.Version,
			Changeset: o.Changeset,
			Lat:       o.Lat,
			Lon:       o.Lon,
			Tags:      o.Tags,
		}
	case TypeWay:
		refs := make([]NodeRef, len(o.Refs))
		for i, id := range o.Refs {
			refs[i] = NodeRef{Ref: id}
		}
		return &Way{
			ID:        o.ID,
			Version:   o.Version,
			Changeset: o.Changeset,
			Refs:      refs,
			Tags:      o.Tags,
		}
	default:
		return &Relation{
			ID:        o.ID,
			Version:   o.Version,
			Changeset: o.Changeset,
			Members:   o.Members,
			Tags:      o.Tags,
		}
	}
}

// SnapshotNode builds an edit snapshot from a node.
func SnapshotNode(n *Node) *EditObject {
	return &EditObject{
		Type:      TypeNode,
		ID:        n.ID,
		Version:   n.Version,
		Changeset: n.Changeset,
		Tags:      append(Tags(nil), n.Tags...),
		Lat:       n.Lat,
		Lon:       n.Lon,
	}
}

// SnapshotWay builds an edit snapshot from a way, resolving its node
// positions through the store. Closed rings are classified as closedway so
// the presentation layer can treat them as areas.
func SnapshotWay(w *Way, store *Store) *EditObject {
	t := TypeWay
	if w.Closed() {
		t = TypeClosedWay
	}
	o := &EditObject{
		Type:      t,
		ID:        w.ID,
		Version:   w.Version,
		Changeset: w.Changeset,
		Tags:      append(Tags(nil), w.Tags...),
		Refs:      w.RefIDs(),
	}
	if store != nil {
		nodes := store.ResolveWayNodes(w)
		o.Points = make([]geo.Point, len(nodes))
		for i, n := range nodes {
			o.Points[i] = geo.Point{Lat: n.Lat, Lon: n.Lon}
		}
	}
	return o
}

// SnapshotRelation builds an edit snapshot from a relation.
func SnapshotRelation(r *Relation) *EditObject {
	return &EditObject{
		Type:      TypeRelation,
		ID:        r.ID,
		Version:   r.Version,
		Changeset: r.Changeset,
		Tags:      append(Tags(nil), r.Tags...),
		Members:   append([]Member(nil), r.Members...),
	}
}

// Snapshot dispatches on the concrete element type.
func Snapshot(e Element, store *Store) *EditObject {
	switch v := e.(type) {
	case *Node:
		return SnapshotNode(v)
	case *Way:
		return SnapshotWay(v, store)
	case *Relation:
		return SnapshotRelation(v)
	}
	return nil
}
