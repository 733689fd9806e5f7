// Package osm defines the typed element model shared by the codec, the
// in-memory store, and the upload pipeline. Elements follow the OSM API 0.6
// data model: nodes carry coordinates, ways carry ordered node references,
// and relations carry typed members.
package osm

import (
	"encoding/xml"
	"fmt"
)

// ElementType identifies the concrete kind of an element. Closed ways are a
// presentation-level refinement of ways: the wire format only knows node,
// way and relation.
type ElementType string

const (
	TypeNode      ElementType = "node"
	TypeWay       ElementType = "way"
	TypeClosedWay ElementType = "closedway"
	TypeRelation  ElementType = "relation"
)

// WireType collapses presentation refinements back to the three element
// kinds the OSM API understands.
func (t ElementType) WireType() ElementType {
	if t == TypeClosedWay {
		return TypeWay
	}
	return t
}

// Tag is a single key/value annotation. Order is preserved so re-encoded
// documents stay close to what the server sent.
type Tag struct {
	Key   string `xml:"k,attr" json:"k"`
	Value string `xml:"v,attr" json:"v"`
}

// Tags is an ordered tag list with map-style accessors.
type Tags []Tag

// Find returns the value for key and whether it was present.
func (t Tags) Find(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Map converts the list to a lookup map. Later duplicates win, matching
// server behavior for malformed input.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// Set replaces the value for key in place, appending when absent.
func (t Tags) Set(key, value string) Tags {
	for i := range t {
		if t[i].Key == key {
			t[i].Value = value
			return t
		}
	}
	return append(t, Tag{Key: key, Value: value})
}

// Node is a single point with coordinates in decimal degrees.
type Node struct {
	XMLName   xml.Name `xml:"node" json:"-"`
	ID        int64    `xml:"id,attr" json:"id"`
	Version   int      `xml:"version,attr" json:"version"`
	Changeset int64    `xml:"changeset,attr" json:"changeset"`
	Lat       float64  `xml:"lat,attr" json:"lat"`
	Lon       float64  `xml:"lon,attr" json:"lon"`
	Tags      Tags     `xml:"tag" json:"tags,omitempty"`
}

// NodeRef is a single entry in a way's ordered node list.
type NodeRef struct {
	Ref int64 `xml:"ref,attr" json:"ref"`
}

// Way is an ordered sequence of node references.
type Way struct {
	XMLName   xml.Name  `xml:"way" json:"-"`
	ID        int64     `xml:"id,attr" json:"id"`
	Version   int       `xml:"version,attr" json:"version"`
	Changeset int64     `xml:"changeset,attr" json:"changeset"`
	Refs      []NodeRef `xml:"nd" json:"nds"`
	Tags      Tags      `xml:"tag" json:"tags,omitempty"`
}

// Closed reports whether the way forms a ring: at least four references
// with the first and last identical.
func (w *Way) Closed() bool {
	n := len(w.Refs)
	return n >= 4 && w.Refs[0].Ref == w.Refs[n-1].Ref
}

// RefIDs returns the node references as a plain id slice.
func (w *Way) RefIDs() []int64 {
	ids := make([]int64, len(w.Refs))
	for i, r := range w.Refs {
		ids[i] = r.Ref
	}
	return ids
}

// Member is a single relation member.
type Member struct {
	Type ElementType `xml:"type,attr" json:"type"`
	Ref  int64       `xml:"ref,attr" json:"ref"`
	Role string      `xml:"role,attr" json:"role"`
}

// Relation groups elements into a composite object such as a multipolygon.
type Relation struct {
	XMLName   xml.Name `xml:"relation" json:"-"`
	ID        int64    `xml:"id,attr" json:"id"`
	Version   int      `xml:"version,attr" json:"version"`
	Changeset int64    `xml:"changeset,attr" json:"changeset"`
	Members   []Member `xml:"member" json:"members"`
	Tags      Tags     `xml:"tag" json:"tags,omitempty"`
}

// Multipolygon reports whether the relation carries type=multipolygon.
func (r *Relation) Multipolygon() bool {
	v, ok := r.Tags.Find("type")
	return ok && v == "multipolygon"
}

// Element is the closed set of wire-level objects. All three concrete
// types are pointer receivers so stores can hand out shared references.
type Element interface {
	ElementID() int64
	ElementType() ElementType
	ElementVersion() int
	ElementTags() Tags
	// SetChangeset stamps the element with the changeset it will be
	// uploaded under.
	SetChangeset(id int64)
}

func (n *Node) ElementID() int64          { return n.ID }
func (n *Node) ElementType() ElementType  { return TypeNode }
func (n *Node) ElementVersion() int       { return n.Version }
func (n *Node) ElementTags() Tags         { return n.Tags }
func (n *Node) SetChangeset(id int64)     { n.Changeset = id }
func (w *Way) ElementID() int64           { return w.ID }
func (w *Way) ElementType() ElementType   { return TypeWay }
func (w *Way) ElementVersion() int        { return w.Version }
func (w *Way) ElementTags() Tags          { return w.Tags }
func (w *Way) SetChangeset(id int64)      { w.Changeset = id }
func (r *Relation) ElementID() int64      { return r.ID }
func (r *Relation) ElementType() ElementType {
	return TypeRelation
}
func (r *Relation) ElementVersion() int   { return r.Version }
func (r *Relation) ElementTags() Tags     { return r.Tags }
func (r *Relation) SetChangeset(id int64) { r.Changeset = id }

// Ref is a type-qualified element id, usable as a map key.
type Ref struct {
	Type ElementType
	ID   int64
}

// String renders the reference in the conventional "type/id" form.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// NewRef builds a wire-level reference for an element.
func NewRef(e Element) Ref {
	return Ref{Type: e.ElementType().WireType(), ID: e.ElementID()}
}
