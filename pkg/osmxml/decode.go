// Package osmxml reads and writes the OSM API 0.6 XML formats: map
// responses, osmChange upload documents, changeset creation bodies and
// upload diff results.
package osmxml

import (
	"encoding/xml"
	"io"
	"log/slog"
	"strconv"

	"github.com/osmedit/osmedit/pkg/osm"
)

// Batch holds one decoded map response.
type Batch struct {
	Nodes     []*osm.Node
	Ways      []*osm.Way
	Relations []*osm.Relation
	// Dropped counts elements discarded for missing or malformed
	// required attributes.
	Dropped int
}

// Len reports the total element count.
func (b *Batch) Len() int {
	return len(b.Nodes) + len(b.Ways) + len(b.Relations)
}

// Raw element shapes with string attributes so absent and malformed values
// are distinguishable before conversion.
type rawNode struct {
	ID        string    `xml:"id,attr"`
	Version   string    `xml:"version,attr"`
	Changeset string    `xml:"changeset,attr"`
	Lat       string    `xml:"lat,attr"`
	Lon       string    `xml:"lon,attr"`
	Tags      []osm.Tag `xml:"tag"`
}

type rawRef struct {
	Ref string `xml:"ref,attr"`
}

type rawWay struct {
	ID        string    `xml:"id,attr"`
	Version   string    `xml:"version,attr"`
	Changeset string    `xml:"changeset,attr"`
	Refs      []rawRef  `xml:"nd"`
	Tags      []osm.Tag `xml:"tag"`
}

type rawMember struct {
	Type string `xml:"type,attr"`
	Ref  string `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type rawRelation struct {
	ID        string      `xml:"id,attr"`
	Version   string      `xml:"version,attr"`
	Changeset string      `xml:"changeset,attr"`
	Members   []rawMember `xml:"member"`
	Tags      []osm.Tag   `xml:"tag"`
}

// header converts the shared required attributes, reporting ok=false when
// any is absent or unparsable.
func header(id, version, changeset string) (int64, int, int64, bool) {
	i, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, 0, 0, false
	}
	c, err := strconv.ParseInt(changeset, 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	return i, v, c, true
}

// Decode streams a map response, collecting well-formed elements and
// silently dropping the rest. Servers occasionally emit elements with
// redacted attributes; a single bad element must not fail the download.
func Decode(r io.Reader, logger *slog.Logger) (*Batch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dec := xml.NewDecoder(r)
	batch := &Batch{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "node":
			var raw rawNode
			if err := dec.DecodeElement(&raw, &se); err != nil {
				return nil, err
			}
			n, ok := convertNode(&raw)
			if !ok {
				batch.Dropped++
				continue
			}
			batch.Nodes = append(batch.Nodes, n)
		case "way":
			var raw rawWay
			if err := dec.DecodeElement(&raw, &se); err != nil {
				return nil, err
			}
			w, ok := convertWay(&raw)
			if !ok {
				batch.Dropped++
				continue
			}
			batch.Ways = append(batch.Ways, w)
		case "relation":
			var raw rawRelation
			if err := dec.DecodeElement(&raw, &se); err != nil {
				return nil, err
			}
			rel, ok := convertRelation(&raw)
			if !ok {
				batch.Dropped++
				continue
			}
			batch.Relations = append(batch.Relations, rel)
		}
	}

	if batch.Dropped > 0 {
		logger.Debug("dropped malformed elements", "count", batch.Dropped)
	}
	return batch, nil
}

func convertNode(raw *rawNode) (*osm.Node, bool) {
	id, version, changeset, ok := header(raw.ID, raw.Version, raw.Changeset)
	if !ok {
		return nil, false
	}
	lat, err := strconv.ParseFloat(raw.Lat, 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(raw.Lon, 64)
	if err != nil {
		return nil, false
	}
	return &osm.Node{
		ID:        id,
		Version:   version,
		Changeset: changeset,
		Lat:       lat,
		Lon:       lon,
		Tags:      raw.Tags,
	}, true
}

func convertWay(raw *rawWay) (*osm.Way, bool) {
	id, version, changeset, ok := header(raw.ID, raw.Version, raw.Changeset)
	if !ok {
		return nil, false
	}
	// A way needs at least two references to form a segment.
	if len(raw.Refs) < 2 {
		return nil, false
	}
	refs := make([]osm.NodeRef, 0, len(raw.Refs))
	for _, r := range raw.Refs {
		ref, err := strconv.ParseInt(r.Ref, 10, 64)
		if err != nil {
			return nil, false
		}
		refs = append(refs, osm.NodeRef{Ref: ref})
	}
	return &osm.Way{
		ID:        id,
		Version:   version,
		Changeset: changeset,
		Refs:      refs,
		Tags:      raw.Tags,
	}, true
}

func convertRelation(raw *rawRelation) (*osm.Relation, bool) {
	id, version, changeset, ok := header(raw.ID, raw.Version, raw.Changeset)
	if !ok {
		return nil, false
	}
	members := make([]osm.Member, 0, len(raw.Members))
	for _, m := range raw.Members {
		ref, err := strconv.ParseInt(m.Ref, 10, 64)
		if err != nil {
			return nil, false
		}
		members = append(members, osm.Member{
			Type: osm.ElementType(m.Type),
			Ref:  ref,
			Role: m.Role,
		})
	}
	return &osm.Relation{
		ID:        id,
		Version:   version,
		Changeset: changeset,
		Members:   members,
		Tags:      raw.Tags,
	}, true
}
