// Package fetch coordinates map downloads: it owns the download pipeline
// from bbox to rendered features, cancels superseded loads through
// generation tokens, shrinks the bbox when the server refuses on object
// count, and prefetches the surrounding tiles.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/osmedit/osmedit/pkg/cache"
	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/ledger"
	"github.com/osmedit/osmedit/pkg/osm"
	"github.com/osmedit/osmedit/pkg/osmxml"
	"github.com/osmedit/osmedit/pkg/render"
	"github.com/osmedit/osmedit/pkg/tracing"
)

// MapSource supplies raw map payloads for a bbox. *client.Client satisfies
// it; tests substitute fakes.
type MapSource interface {
	MapData(ctx context.Context, bbox geo.BoundingBox) ([]byte, error)
}

// Options tunes the coordinator.
type Options struct {
	// HalfSize is the default half-extent in degrees of a load around a
	// point.
	HalfSize float64

	// ShrinkFactor scales the bbox down after an object-limit refusal.
	ShrinkFactor float64

	// MinSpan is the floor: a bbox shrunk below this latitude extent
	// aborts the load instead of shrinking further.
	MinSpan float64

	// PayloadTTL bounds how long raw downloads are reused.
	PayloadTTL time.Duration

	// FeatureCacheSize caps the rendered-collection LRU.
	FeatureCacheSize int

	// ShowOutline appends the envelope boundary to rendered output.
	ShowOutline bool

	// TempDir receives the scratch files handed to the converter.
	// Empty means the system default.
	TempDir string
}

// DefaultOptions mirror a street-level editing session.
var DefaultOptions = Options{
	HalfSize:         0.002,
	ShrinkFactor:     0.75,
	MinSpan:          0.0002,
	PayloadTTL:       5 * time.Minute,
	FeatureCacheSize: 64,
}

// Result describes a completed load.
type Result struct {
	Generation uint64
	BBox       geo.BoundingBox
	Objects    int
	Features   int
	// Shrinks counts object-limit retries that were needed.
	Shrinks int
	// Skipped is set when the center was already covered by the last
	// loaded envelope and no download happened.
	Skipped bool
}

// Coordinator owns the download pipeline. One coordinator serves the whole
// session; Load may be called concurrently and the newest call wins.
type Coordinator struct {
	source    MapSource
	store     *osm.Store
	ledger    *ledger.Ledger
	converter render.Converter
	renderer  render.Renderer
	logger    *slog.Logger
	opts      Options

	// mu guards the generation counter, the open-operation registry and
	// the adaptive extent. It is never held across I/O.
	mu         sync.Mutex
	generation uint64
	open       map[uint64]struct{}
	// halfSize is the current load extent. Object-limit shrinks persist
	// into it so the next load starts where this one succeeded; falling
	// below the floor resets it to the configured default.
	halfSize float64
	// lastLoaded is the envelope of the most recent successful load.
	lastLoaded *geo.BoundingBox

	payloads *cache.TTLCache[[]byte]
	features *lru.Cache[string, *geojson.FeatureCollection]
}

// New wires a coordinator. A nil converter falls back to the native
// builder and a nil renderer discards output.
func New(source MapSource, store *osm.Store, l *ledger.Ledger, converter render.Converter, renderer render.Renderer, logger *slog.Logger, opts Options) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if converter == nil {
		converter = &render.NativeConverter{Logger: logger}
	}
	if renderer == nil {
		renderer = render.DiscardRenderer{}
	}
	if opts.ShrinkFactor <= 0 || opts.ShrinkFactor >= 1 {
		opts.ShrinkFactor = DefaultOptions.ShrinkFactor
	}
	if opts.HalfSize <= 0 {
		opts.HalfSize = DefaultOptions.HalfSize
	}
	if opts.MinSpan <= 0 {
		opts.MinSpan = DefaultOptions.MinSpan
	}
	if opts.PayloadTTL <= 0 {
		opts.PayloadTTL = DefaultOptions.PayloadTTL
	}
	if opts.FeatureCacheSize <= 0 {
		opts.FeatureCacheSize = DefaultOptions.FeatureCacheSize
	}
	features, err := lru.New[string, *geojson.FeatureCollection](opts.FeatureCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating feature cache: %w", err)
	}
	c := &Coordinator{
		source:    source,
		store:     store,
		ledger:    l,
		converter: converter,
		renderer:  renderer,
		logger:    logger,
		opts:      opts,
		open:      make(map[uint64]struct{}),
		halfSize:  opts.HalfSize,
		payloads:  cache.New[[]byte](opts.PayloadTTL, time.Minute, 32),
		features:  features,
	}
	if saved, ok := l.LastBBox(); ok {
		c.lastLoaded = &saved
	}
	return c, nil
}

// Close releases background resources.
func (c *Coordinator) Close() {
	c.payloads.Stop()
}

// begin registers a new operation and returns its generation token. The
// registry is cleared first: every previously issued token is stale from
// this point on and its pipeline will discard itself at the next check.
func (c *Coordinator) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.open)
	c.open[c.generation] = struct{}{}
	return c.generation
}

// stale reports whether a newer operation has taken over.
func (c *Coordinator) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation
}

func (c *Coordinator) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, gen)
}

// InFlight reports how many operations are currently registered.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// Generation returns the current generation token.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Load downloads, indexes and renders the region around center. A center
// still inside the last loaded envelope (widened by a small margin) is
// already on screen and skips the pipeline entirely.
func (c *Coordinator) Load(ctx context.Context, center geo.Point) (*Result, error) {
	c.mu.Lock()
	half := c.halfSize
	last := c.lastLoaded
	gen := c.generation
	c.mu.Unlock()

	if last != nil && last.Expanded(half/2).Contains(center) {
		c.logger.Debug("load skipped, center already covered",
			"center", fmt.Sprintf("%.6f,%.6f", center.Lat, center.Lon),
			"bbox", last.Query())
		return &Result{Generation: gen, BBox: *last, Skipped: true}, nil
	}
	return c.LoadBBox(ctx, geo.NewBoundingBox(center, half))
}

// LoadBBox runs the full pipeline for an explicit envelope. Staleness is
// checked after every I/O step: when a newer Load has started, the result
// is discarded and core.ErrSuperseded returned.
func (c *Coordinator) LoadBBox(ctx context.Context, bbox geo.BoundingBox) (*Result, error) {
	gen := c.begin()
	defer c.finish(gen)

	ctx, span := tracing.StartSpan(ctx, "fetch.load",
		trace.WithAttributes(tracing.FetchAttributes(gen, 0, bbox.Query())...))
	defer span.End()

	if !bbox.Valid() {
		return nil, core.NewError(core.ErrInvalidBbox,
			fmt.Sprintf("invalid bbox %q", bbox.Query()))
	}

	payload, bbox, shrinks, err := c.download(ctx, gen, bbox)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if c.stale(gen) {
		span.SetStatus(codes.Error, tracing.StatusSuperseded)
		return nil, core.ErrSuperseded
	}

	batch, err := osmxml.Decode(bytes.NewReader(payload), c.logger)
	if err != nil {
		return nil, core.NewError(core.ErrParseError,
			fmt.Sprintf("decoding map payload: %v", err))
	}
	if c.stale(gen) {
		span.SetStatus(codes.Error, tracing.StatusSuperseded)
		return nil, core.ErrSuperseded
	}
	c.store.Index(batch.Nodes, batch.Ways, batch.Relations)
	span.SetAttributes(attribute.Int(tracing.AttrFetchObjects, batch.Len()))

	fc, err := c.convert(ctx, bbox, payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if c.stale(gen) {
		span.SetStatus(codes.Error, tracing.StatusSuperseded)
		return nil, core.ErrSuperseded
	}

	out := render.OverlayEdits(fc, c.ledger.Edits(), c.ledger.Deletes())
	if c.opts.ShowOutline {
		out.Append(render.OutlineFeature(bbox))
	}

	if c.stale(gen) {
		span.SetStatus(codes.Error, tracing.StatusSuperseded)
		return nil, core.ErrSuperseded
	}
	if err := c.renderer.Render(ctx, out); err != nil {
		return nil, fmt.Errorf("rendering features: %w", err)
	}

	c.mu.Lock()
	loaded := bbox
	c.lastLoaded = &loaded
	if shrinks > 0 {
		latSpan, _ := bbox.Span()
		c.halfSize = latSpan / 2
	}
	c.mu.Unlock()
	if err := c.ledger.SetLastBBox(bbox); err != nil {
		c.logger.Warn("persisting last bbox", "error", err)
	}

	c.logger.Info("load complete",
		"generation", gen,
		"bbox", bbox.Query(),
		"objects", batch.Len(),
		"features", len(out.Features),
		"shrinks", shrinks)
	return &Result{
		Generation: gen,
		BBox:       bbox,
		Objects:    batch.Len(),
		Features:   len(out.Features),
		Shrinks:    shrinks,
	}, nil
}

// download fetches the payload for bbox, shrinking toward the floor while
// the server refuses on object count. It returns the bbox that finally
// succeeded.
func (c *Coordinator) download(ctx context.Context, gen uint64, bbox geo.BoundingBox) ([]byte, geo.BoundingBox, int, error) {
	shrinks := 0
	for {
		if c.stale(gen) {
			return nil, bbox, shrinks, core.ErrSuperseded
		}
		key := bbox.Query()
		if payload, ok := c.payloads.Get(key); ok {
			hookCacheHit(CachePayload)
			c.logger.Debug("payload cache hit", "bbox", key)
			return payload, bbox, shrinks, nil
		}
		hookCacheMiss(CachePayload)

		payload, err := c.source.MapData(ctx, bbox)
		if err == nil {
			c.payloads.Set(key, payload)
			return payload, bbox, shrinks, nil
		}
		if !errors.Is(err, core.ErrObjectLimit) {
			return nil, bbox, shrinks, err
		}

		latSpan, _ := bbox.Span()
		next := bbox.Scaled(c.opts.ShrinkFactor)
		nextSpan, _ := next.Span()
		if nextSpan < c.opts.MinSpan {
			// Hand the next load the default extent again instead of
			// pinning the session to an unusably small one.
			c.mu.Lock()
			c.halfSize = c.opts.HalfSize
			c.mu.Unlock()
			return nil, bbox, shrinks, core.NewError(core.ErrObjectLimitCode,
				fmt.Sprintf("bbox at floor (%0.6f deg) still over the object limit", latSpan)).
				WithGuidance("Zoom in further before loading this area")
		}
		shrinks++
		c.logger.Info("object limit hit, shrinking bbox",
			"generation", gen,
			"from", bbox.Query(),
			"to", next.Query(),
			"shrinks", shrinks)
		bbox = next
	}
}

// convert produces the display features for a payload, serving repeated
// envelopes from the LRU.
func (c *Coordinator) convert(ctx context.Context, bbox geo.BoundingBox, payload []byte) (*geojson.FeatureCollection, error) {
	key := bbox.Query()
	if fc, ok := c.features.Get(key); ok {
		hookCacheHit(CacheFeature)
		return fc, nil
	}
	hookCacheMiss(CacheFeature)

	tmp, err := os.CreateTemp(c.opts.TempDir, "osmedit-*.osm")
	if err != nil {
		return nil, core.NewError(core.ErrFilesystem,
			fmt.Sprintf("creating scratch file: %v", err))
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return nil, core.NewError(core.ErrFilesystem,
			fmt.Sprintf("writing scratch file: %v", err))
	}
	if err := tmp.Close(); err != nil {
		return nil, core.NewError(core.ErrFilesystem, err.Error())
	}

	fc, err := c.converter.Convert(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", key, err)
	}
	c.features.Add(key, fc)
	return fc, nil
}

// Prefetch warms the store and caches for the eight tiles surrounding
// bbox. Failures are advisory: a missing neighbor tile only means the next
// pan pays the download. The center tile is assumed already loaded.
func (c *Coordinator) Prefetch(ctx context.Context, bbox geo.BoundingBox) {
	ctx, span := tracing.StartSpan(ctx, "fetch.prefetch",
		trace.WithAttributes(attribute.String(tracing.AttrFetchBbox, bbox.Query())))
	defer span.End()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	tile := 0
	for rows := -1; rows <= 1; rows++ {
		for cols := -1; cols <= 1; cols++ {
			if rows == 0 && cols == 0 {
				continue
			}
			tile++
			neighbor := bbox.Shifted(rows, cols)
			tileNo := tile
			g.Go(func() error {
				if err := c.prefetchTile(ctx, tileNo, neighbor); err != nil {
					c.logger.Debug("prefetch tile failed",
						"tile", tileNo,
						"bbox", neighbor.Query(),
						"error", err)
				}
				return nil
			})
		}
	}
	g.Wait()
}

// Ingest indexes an OSM XML document from an arbitrary source, such as a
// saved extract or a custom query result. It bypasses the bbox pipeline:
// no generation token, no rendering, objects merge into the store
// last-write-wins. The object count is returned.
func (c *Coordinator) Ingest(ctx context.Context, r io.Reader) (int, error) {
	_, span := tracing.StartSpan(ctx, "fetch.ingest")
	defer span.End()

	batch, err := osmxml.Decode(r, c.logger)
	if err != nil {
		return 0, core.NewError(core.ErrParseError,
			fmt.Sprintf("decoding ingest payload: %v", err))
	}
	c.store.Index(batch.Nodes, batch.Ways, batch.Relations)
	span.SetAttributes(attribute.Int(tracing.AttrFetchObjects, batch.Len()))
	c.logger.Info("ingest complete", "objects", batch.Len(), "dropped", batch.Dropped)
	return batch.Len(), nil
}

func (c *Coordinator) prefetchTile(ctx context.Context, tile int, bbox geo.BoundingBox) error {
	key := bbox.Query()
	if _, ok := c.payloads.Get(key); ok {
		return nil
	}
	payload, err := c.source.MapData(ctx, bbox)
	if err != nil {
		// Neighbors over the object limit are simply skipped; the
		// shrink policy only applies to foreground loads.
		return err
	}
	c.payloads.Set(key, payload)

	batch, err := osmxml.Decode(bytes.NewReader(payload), c.logger)
	if err != nil {
		return err
	}
	c.store.Index(batch.Nodes, batch.Ways, batch.Relations)
	c.logger.Debug("prefetched tile",
		"tile", tile, "bbox", key, "objects", batch.Len())
	return nil
}
