package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/ledger"
	"github.com/osmedit/osmedit/pkg/osm"
)

// fakeSource serves synthetic payloads and records every request.
type fakeSource struct {
	mu    sync.Mutex
	calls []geo.BoundingBox
	// limitAbove refuses any bbox with a latitude extent above the
	// threshold, mimicking the server's object cap. Zero disables it.
	limitAbove float64
	// block, when set, is closed-waited before answering.
	block chan struct{}
	// nextID gives every generated node a distinct id.
	nextID int64
}

func (f *fakeSource) MapData(ctx context.Context, bbox geo.BoundingBox) ([]byte, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bbox)

	latSpan, _ := bbox.Span()
	if f.limitAbove > 0 && latSpan > f.limitAbove {
		return nil, core.NewError(core.ErrObjectLimitCode, "too many objects")
	}

	f.nextID++
	c := bbox.Center()
	doc := fmt.Sprintf(`<osm version="0.6">
  <node id="%d" version="1" changeset="1" lat="%f" lon="%f">
    <tag k="amenity" v="bench"/>
  </node>
</osm>`, f.nextID, c.Lat, c.Lon)
	return []byte(doc), nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestCoordinator(t *testing.T, source MapSource) (*Coordinator, *osm.Store, *ledger.Ledger) {
	t.Helper()
	store := osm.NewStore(nil)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "edits.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	c, err := New(source, store, l, nil, nil, nil, Options{
		HalfSize:   0.01,
		MinSpan:    0.001,
		PayloadTTL: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, store, l
}

func TestLoadIndexesAndRenders(t *testing.T) {
	source := &fakeSource{}
	c, store, l := newTestCoordinator(t, source)

	center := geo.Point{Lat: 52.5, Lon: 13.4}
	result, err := c.Load(context.Background(), center)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), result.Generation)
	assert.Equal(t, 1, result.Objects)
	assert.Equal(t, 1, result.Features)
	assert.Zero(t, result.Shrinks)
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, c.InFlight())

	// The loaded envelope is persisted for the next session.
	saved, ok := l.LastBBox()
	require.True(t, ok)
	assert.True(t, saved.Contains(center))
}

func TestLoadShrinksOnObjectLimit(t *testing.T) {
	source := &fakeSource{limitAbove: 0.012}
	c, _, _ := newTestCoordinator(t, source)

	center := geo.Point{Lat: 10, Lon: 20}
	result, err := c.Load(context.Background(), center)
	require.NoError(t, err)

	assert.Greater(t, result.Shrinks, 0)
	latSpan, _ := result.BBox.Span()
	assert.Less(t, latSpan, 0.012)
	// Shrinking keeps the center in place.
	got := result.BBox.Center()
	assert.InDelta(t, center.Lat, got.Lat, 1e-9)
	assert.InDelta(t, center.Lon, got.Lon, 1e-9)

	// The shrunken extent carries over to the next load.
	c.mu.Lock()
	assert.Less(t, c.halfSize, 0.01)
	c.mu.Unlock()
}

func TestLoadAbortsAtFloor(t *testing.T) {
	// The cap refuses everything, so shrinking can never succeed.
	source := &fakeSource{limitAbove: 1e-9}
	c, _, _ := newTestCoordinator(t, source)

	_, err := c.Load(context.Background(), geo.Point{Lat: 1, Lon: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrObjectLimit)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Contains(t, coreErr.Guidance, "Zoom in")

	// Hitting the floor restores the default extent rather than pinning
	// the session to an unusable one.
	c.mu.Lock()
	assert.Equal(t, 0.01, c.halfSize)
	c.mu.Unlock()
}

func TestLoadSupersededByNewerRequest(t *testing.T) {
	source := &fakeSource{block: make(chan struct{})}
	c, _, _ := newTestCoordinator(t, source)

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), geo.Point{Lat: 1, Lon: 2})
		done <- err
	}()

	// Wait until the first load is in flight, then start a newer one.
	require.Eventually(t, func() bool { return c.InFlight() == 1 },
		time.Second, time.Millisecond)
	c.begin()
	close(source.block)

	err := <-done
	assert.ErrorIs(t, err, core.ErrSuperseded)
}

func TestLoadSkipsInsideLastEnvelope(t *testing.T) {
	source := &fakeSource{}
	c, _, _ := newTestCoordinator(t, source)

	center := geo.Point{Lat: 5, Lon: 6}
	_, err := c.Load(context.Background(), center)
	require.NoError(t, err)

	// A nudge within the loaded envelope is already on screen.
	nudged := geo.Point{Lat: 5.001, Lon: 6.001}
	result, err := c.Load(context.Background(), nudged)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, source.callCount())

	// Leaving the envelope triggers a real download again.
	result, err = c.Load(context.Background(), geo.Point{Lat: 5.1, Lon: 6.1})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, source.callCount())
}

func TestLoadServesRepeatFromCache(t *testing.T) {
	source := &fakeSource{}
	c, _, _ := newTestCoordinator(t, source)

	bbox := geo.NewBoundingBox(geo.Point{Lat: 5, Lon: 6}, 0.01)
	_, err := c.LoadBBox(context.Background(), bbox)
	require.NoError(t, err)
	_, err = c.LoadBBox(context.Background(), bbox)
	require.NoError(t, err)

	assert.Equal(t, 1, source.callCount(), "second load should hit the payload cache")
}

func TestGenerationsIncrease(t *testing.T) {
	source := &fakeSource{}
	c, _, _ := newTestCoordinator(t, source)

	r1, err := c.Load(context.Background(), geo.Point{Lat: 1, Lon: 1})
	require.NoError(t, err)
	r2, err := c.Load(context.Background(), geo.Point{Lat: 2, Lon: 2})
	require.NoError(t, err)
	assert.Greater(t, r2.Generation, r1.Generation)
}

func TestPrefetchWarmsNeighbors(t *testing.T) {
	source := &fakeSource{}
	c, store, _ := newTestCoordinator(t, source)

	bbox := geo.NewBoundingBox(geo.Point{Lat: 50, Lon: 8}, 0.01)
	c.Prefetch(context.Background(), bbox)

	assert.Equal(t, 8, source.callCount())
	assert.Equal(t, 8, store.Len())

	// Every requested tile is a neighbor, never the center.
	source.mu.Lock()
	defer source.mu.Unlock()
	for _, b := range source.calls {
		assert.NotEqual(t, bbox, b)
	}
}

func TestIngestMergesIntoStore(t *testing.T) {
	c, store, _ := newTestCoordinator(t, &fakeSource{})

	doc := `<osm version="0.6">
  <node id="1" version="1" changeset="1" lat="1.0" lon="2.0"/>
  <node id="2" version="1" changeset="1" lat="1.1" lon="2.1"/>
  <way id="10" version="1" changeset="1">
    <nd ref="1"/>
    <nd ref="2"/>
  </way>
</osm>`
	objects, err := c.Ingest(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, objects)
	assert.Equal(t, 3, store.Len())
}

func TestIngestRejectsBrokenXML(t *testing.T) {
	c, store, _ := newTestCoordinator(t, &fakeSource{})

	_, err := c.Ingest(context.Background(), strings.NewReader("<osm><node"))
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestPrefetchToleratesFailures(t *testing.T) {
	// Every neighbor is refused; prefetch still returns without error.
	source := &fakeSource{limitAbove: 1e-9}
	c, store, _ := newTestCoordinator(t, source)

	c.Prefetch(context.Background(), geo.NewBoundingBox(geo.Point{Lat: 1, Lon: 1}, 0.01))
	assert.Zero(t, store.Len())
}
