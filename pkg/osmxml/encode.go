package osmxml

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/osmedit/osmedit/pkg/osm"
)

// Generator is the value written into the generator attribute of produced
// documents and the created_by tag of new changesets.
const Generator = "osmedit"

type changeSection struct {
	Nodes     []*osm.Node     `xml:"node"`
	Ways      []*osm.Way      `xml:"way"`
	Relations []*osm.Relation `xml:"relation"`
}

func (s *changeSection) empty() bool {
	return len(s.Nodes) == 0 && len(s.Ways) == 0 && len(s.Relations) == 0
}

func toSection(objs []*osm.EditObject) *changeSection {
	s := &changeSection{}
	for _, o := range objs {
		switch e := o.ToElement().(type) {
		case *osm.Node:
			s.Nodes = append(s.Nodes, e)
		case *osm.Way:
			s.Ways = append(s.Ways, e)
		case *osm.Relation:
			s.Relations = append(s.Relations, e)
		}
	}
	if s.empty() {
		return nil
	}
	return s
}

type changeDoc struct {
	XMLName   xml.Name       `xml:"osmChange"`
	Version   string         `xml:"version,attr"`
	Generator string         `xml:"generator,attr"`
	Create    *changeSection `xml:"create"`
	Modify    *changeSection `xml:"modify"`
	Delete    *changeSection `xml:"delete"`
}

// EncodeChange writes the plan as an osmChange document. Section order is
// fixed: creations, then modifications, then deletions.
func EncodeChange(w io.Writer, plan osm.ChangePlan) error {
	doc := changeDoc{
		Version:   "0.6",
		Generator: Generator,
		Create:    toSection(plan.Create),
		Modify:    toSection(plan.Modify),
		Delete:    toSection(plan.Delete),
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding osmChange: %w", err)
	}
	return enc.Flush()
}

type changesetDoc struct {
	XMLName   xml.Name `xml:"osm"`
	Changeset struct {
		Tags []osm.Tag `xml:"tag"`
	} `xml:"changeset"`
}

// EncodeChangesetCreate writes the body for PUT changeset/create. The
// comment tag carries the user's description of the edit.
func EncodeChangesetCreate(w io.Writer, comment string) error {
	var doc changesetDoc
	doc.Changeset.Tags = osm.Tags{
		{Key: "created_by", Value: Generator},
		{Key: "comment", Value: comment},
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding changeset: %w", err)
	}
	return enc.Flush()
}

// DiffEntry is one id/version rewrite from an upload response. NewID and
// NewVersion are zero for deletions, which the server acknowledges with
// old_id only.
type DiffEntry struct {
	Type       osm.ElementType
	OldID      int64
	NewID      int64
	NewVersion int
}

type rawDiffEntry struct {
	OldID      int64 `xml:"old_id,attr"`
	NewID      int64 `xml:"new_id,attr"`
	NewVersion int   `xml:"new_version,attr"`
}

type diffDoc struct {
	XMLName   xml.Name       `xml:"diffResult"`
	Nodes     []rawDiffEntry `xml:"node"`
	Ways      []rawDiffEntry `xml:"way"`
	Relations []rawDiffEntry `xml:"relation"`
}

// DecodeDiffResult parses the response of a changeset upload into the id
// and version rewrites the server performed.
func DecodeDiffResult(r io.Reader) ([]DiffEntry, error) {
	var doc diffDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding diffResult: %w", err)
	}
	var out []DiffEntry
	add := func(t osm.ElementType, entries []rawDiffEntry) {
		for _, e := range entries {
			out = append(out, DiffEntry{
				Type:       t,
				OldID:      e.OldID,
				NewID:      e.NewID,
				NewVersion: e.NewVersion,
			})
		}
	}
	add(osm.TypeNode, doc.Nodes)
	add(osm.TypeWay, doc.Ways)
	add(osm.TypeRelation, doc.Relations)
	return out, nil
}
