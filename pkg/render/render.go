// Package render turns indexed map data into GeoJSON feature collections
// for the presentation layer. Conversion of raw downloads can run through
// an external converter process or the native builder.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/paulmach/orb/geojson"
)

// Renderer receives finished feature collections. Implementations decide
// what display means: writing a file, pushing to a UI bridge, or dropping
// the collection in tests.
type Renderer interface {
	Render(ctx context.Context, fc *geojson.FeatureCollection) error
}

// Converter produces a feature collection from a raw map download stored
// on disk.
type Converter interface {
	Convert(ctx context.Context, xmlPath string) (*geojson.FeatureCollection, error)
}

// FileRenderer writes each collection to a fixed path, replacing the
// previous one.
type FileRenderer struct {
	Path string
}

// Render implements Renderer.
func (f *FileRenderer) Render(_ context.Context, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling feature collection: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path, err)
	}
	return nil
}

// DiscardRenderer drops collections, for benchmarks and tests.
type DiscardRenderer struct{}

// Render implements Renderer.
func (DiscardRenderer) Render(context.Context, *geojson.FeatureCollection) error {
	return nil
}

// ExecConverter shells out to an external converter binary that reads OSM
// XML and writes GeoJSON to stdout.
type ExecConverter struct {
	// Command is the converter binary, with the XML path appended as the
	// final argument.
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Convert implements Converter.
func (e *ExecConverter) Convert(ctx context.Context, xmlPath string) (*geojson.FeatureCollection, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := append(append([]string(nil), e.Args...), xmlPath)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			logger.Error("converter failed",
				"command", e.Command,
				"stderr", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("running converter %s: %w", e.Command, err)
	}
	fc := geojson.NewFeatureCollection()
	if err := json.Unmarshal(out, fc); err != nil {
		return nil, fmt.Errorf("decoding converter output: %w", err)
	}
	return fc, nil
}
