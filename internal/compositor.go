package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif" // Register GIF decoder for tiles.

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"

	DefaultJPEGQuality     = 80
	DefaultTileConcurrency = 8

	// Layout limits. Canvases and tile targets beyond these are rejected before
	// any allocation.
	MaxCanvasDimension = 1 << 15
	MaxCanvasPixels    = 1 << 26
)

// TileDecoder turns an encoded tile payload into an image
type TileDecoder interface {
	Decode(ctx context.Context, payload TilePayload) (image.Image, error)
}

// StdDecoder decodes tiles with the image formats registered in the binary
type StdDecoder struct{}

// Decode decodes the payload bytes
func (StdDecoder) Decode(ctx context.Context, payload TilePayload) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, errors.New("empty payload")
	}
	img, _, err := image.Decode(bytes.NewReader(payload.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", payload.MIME, err)
	}
	return img, nil
}

// CompositorOptions configures output encoding and tile concurrency
type CompositorOptions struct {
	Format      string
	Quality     int
	Concurrency int
	Decoder     TileDecoder
}

// Compositor paints a step's tiles onto one canvas
type Compositor struct {
	format      string
	quality     int
	concurrency int
	decoder     TileDecoder
}

// NewCompositor creates a Compositor with defaults for unset options
func NewCompositor(opts CompositorOptions) *Compositor {
	c := &Compositor{
		format:      opts.Format,
		quality:     opts.Quality,
		concurrency: opts.Concurrency,
		decoder:     opts.Decoder,
	}
	if c.format != FormatPNG {
		c.format = FormatJPEG
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = DefaultJPEGQuality
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultTileConcurrency
	}
	if c.decoder == nil {
		c.decoder = StdDecoder{}
	}
	return c
}

// Composite decodes every tile concurrently and paints them in descriptor order,
// so a later tile wins where tiles overlap. Tile i paints only once tile i-1 has
// painted; the canvas is encoded only after every paint has finished.
func (c *Compositor) Composite(ctx context.Context, ref *TileReference, tiles TileSet) (*ReconstructedImage, error) {
	if ref == nil {
		return nil, errors.New("tile reference is nil")
	}
	if err := validateLayout(ref); err != nil {
		return nil, &CompositeError{StepIndex: ref.StepIndex, Err: err}
	}
	if missing := tiles.Missing(ref); len(missing) > 0 {
		return nil, &MissingTilePayloadError{StepIndex: ref.StepIndex, Hashes: missing}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, ref.CanvasWidth, ref.CanvasHeight))

	painted := make([]chan struct{}, len(ref.Tiles))
	for i := range painted {
		painted[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, tile := range ref.Tiles {
		payload, _ := tiles.Get(tile.Hash)
		g.Go(func() error {
			defer close(painted[i])

			img, err := c.decoder.Decode(gctx, payload)
			if err != nil {
				return &CompositeError{StepIndex: ref.StepIndex, Hash: tile.Hash, Err: err}
			}

			if i > 0 {
				select {
				case <-painted[i-1]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := gctx.Err(); err != nil {
				return err
			}

			paintTile(canvas, tile, img)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var compErr *CompositeError
		if errors.As(err, &compErr) {
			return nil, compErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &CompositeError{StepIndex: ref.StepIndex, Err: err}
	}

	data, err := c.encode(canvas)
	if err != nil {
		return nil, &CompositeError{StepIndex: ref.StepIndex, Err: err}
	}

	return &ReconstructedImage{
		StepIndex: ref.StepIndex,
		Format:    c.format,
		Width:     ref.CanvasWidth,
		Height:    ref.CanvasHeight,
		Data:      data,
	}, nil
}

// validateLayout rejects canvas and tile sizes that are non-positive or too large
// to allocate
func validateLayout(ref *TileReference) error {
	w, h := ref.CanvasWidth, ref.CanvasHeight
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", w, h)
	}
	if w > MaxCanvasDimension || h > MaxCanvasDimension || w*h > MaxCanvasPixels {
		return fmt.Errorf("canvas size %dx%d exceeds limit", w, h)
	}
	for _, tile := range ref.Tiles {
		if tile.Width > MaxCanvasDimension || tile.Height > MaxCanvasDimension {
			return fmt.Errorf("tile %s size %dx%d exceeds limit", tile.Hash, tile.Width, tile.Height)
		}
		if abs(tile.Left) > MaxCanvasDimension || abs(tile.Top) > MaxCanvasDimension {
			return fmt.Errorf("tile %s offset (%d,%d) exceeds limit", tile.Hash, tile.Left, tile.Top)
		}
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// paintTile draws img over the tile rectangle, scaling when sizes differ.
// Transparent tile pixels keep what is underneath. Pixels outside the canvas are
// clipped.
func paintTile(canvas *image.RGBA, tile TileDescriptor, img image.Image) {
	src := img.Bounds()
	w, h := tile.Width, tile.Height
	if w <= 0 {
		w = src.Dx()
	}
	if h <= 0 {
		h = src.Dy()
	}
	dr := image.Rect(tile.Left, tile.Top, tile.Left+w, tile.Top+h)

	if src.Dx() == w && src.Dy() == h {
		draw.Draw(canvas, dr, img, src.Min, draw.Over)
		return
	}
	draw.ApproxBiLinear.Scale(canvas, dr, img, src, draw.Over, nil)
}

func (c *Compositor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	switch c.format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for an image format
func Extension(format string) string {
	if format == FormatPNG {
		return "png"
	}
	return "jpg"
}
