package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/osm"
	"github.com/osmedit/osmedit/pkg/osmxml"
)

// NativeConverter builds feature collections in process, without an
// external converter binary.
type NativeConverter struct {
	Logger *slog.Logger
}

// Convert implements Converter: it decodes the XML file and builds
// features from the resulting batch.
func (n *NativeConverter) Convert(ctx context.Context, xmlPath string) (*geojson.FeatureCollection, error) {
	f, err := os.Open(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", xmlPath, err)
	}
	defer f.Close()

	batch, err := osmxml.Decode(f, n.Logger)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", xmlPath, err)
	}
	store := osm.NewStore(n.Logger)
	store.Index(batch.Nodes, batch.Ways, batch.Relations)
	return BuildFeatures(batch, store), nil
}

func featureID(t osm.ElementType, id int64) string {
	return fmt.Sprintf("%s/%d", t.WireType(), id)
}

func tagProperties(f *geojson.Feature, id string, tags osm.Tags) {
	f.Properties["@id"] = id
	for _, tag := range tags {
		f.Properties[tag.Key] = tag.Value
	}
}

// BuildFeatures converts a decoded batch into GeoJSON. Untagged nodes are
// treated as pure geometry and not emitted as standalone features. Closed
// ways become polygons, open ways line strings. Way geometry is resolved
// through the store so batches indexed earlier can fill gaps.
func BuildFeatures(batch *osmxml.Batch, store *osm.Store) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, n := range batch.Nodes {
		if len(n.Tags) == 0 {
			continue
		}
		f := geojson.NewFeature(orb.Point{n.Lon, n.Lat})
		tagProperties(f, featureID(osm.TypeNode, n.ID), n.Tags)
		fc.Append(f)
	}

	for _, w := range batch.Ways {
		f := wayFeature(w, store)
		if f != nil {
			fc.Append(f)
		}
	}

	return fc
}

func wayFeature(w *osm.Way, store *osm.Store) *geojson.Feature {
	nodes := store.ResolveWayNodes(w)
	if len(nodes) < 2 {
		return nil
	}
	line := make(orb.LineString, len(nodes))
	for i, n := range nodes {
		line[i] = orb.Point{n.Lon, n.Lat}
	}

	var f *geojson.Feature
	if w.Closed() && len(line) >= 4 {
		f = geojson.NewFeature(orb.Polygon{orb.Ring(line)})
	} else {
		f = geojson.NewFeature(line)
	}
	tagProperties(f, featureID(osm.TypeWay, w.ID), w.Tags)
	return f
}

// EditFeature renders a pending edit from its snapshot geometry.
func EditFeature(o *osm.EditObject) *geojson.Feature {
	var f *geojson.Feature
	switch {
	case o.Type == osm.TypeNode:
		f = geojson.NewFeature(orb.Point{o.Lon, o.Lat})
	case len(o.Points) >= 2:
		line := make(orb.LineString, len(o.Points))
		for i, p := range o.Points {
			line[i] = orb.Point{p.Lon, p.Lat}
		}
		if o.Type == osm.TypeClosedWay && len(line) >= 4 {
			f = geojson.NewFeature(orb.Polygon{orb.Ring(line)})
		} else {
			f = geojson.NewFeature(line)
		}
	default:
		center := o.Center()
		f = geojson.NewFeature(orb.Point{center.Lon, center.Lat})
	}
	tagProperties(f, featureID(o.Type, o.ID), o.Tags)
	f.Properties["@pending"] = true
	return f
}

// OverlayEdits replaces or appends pending-edit features so local changes
// always win over the downloaded state, and drops features for objects
// pending deletion.
func OverlayEdits(fc *geojson.FeatureCollection, edits, deletes []*osm.EditObject) *geojson.FeatureCollection {
	drop := make(map[string]bool, len(deletes))
	for _, o := range deletes {
		drop[featureID(o.Type, o.ID)] = true
	}
	replace := make(map[string]*geojson.Feature, len(edits))
	for _, o := range edits {
		replace[featureID(o.Type, o.ID)] = EditFeature(o)
	}

	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		id, _ := f.Properties["@id"].(string)
		if drop[id] {
			continue
		}
		if ef, ok := replace[id]; ok {
			out.Append(ef)
			delete(replace, id)
			continue
		}
		out.Append(f)
	}
	// Edits not present in the download, typically creations.
	for _, o := range edits {
		if ef, ok := replace[featureID(o.Type, o.ID)]; ok {
			out.Append(ef)
		}
	}
	return out
}

// OutlineFeature renders the loaded envelope's boundary ring so the user
// can see how far the data extends.
func OutlineFeature(b geo.BoundingBox) *geojson.Feature {
	ring := b.Outline()
	line := make(orb.LineString, len(ring))
	for i, p := range ring {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	f := geojson.NewFeature(line)
	f.Properties["@outline"] = true
	return f
}
