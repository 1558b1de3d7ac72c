// Package watermark fits, places and blends a watermark raster onto a source image.
package watermark

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/angelmondragon/contentcms/pkg/enums"
)

// Margins are pixel offsets from each edge of the source.
type Margins struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

// Options drive a single composition.
type Options struct {
	Ratio    float64
	Position enums.WatermarkPosition
	Margins  Margins
	Opacity  int
}

type placement struct {
	sourceW, sourceH int
	markW, markH     int
	margins          Margins
}

func (p placement) centerLeft() int { return (p.sourceW - p.markW) / 2 }
func (p placement) middleTop() int  { return (p.sourceH - p.markH) / 2 }
func (p placement) rightLeft() int  { return p.sourceW - p.markW - p.margins.Right }
func (p placement) bottomTop() int  { return p.sourceH - p.markH - p.margins.Bottom }

var placements = map[enums.WatermarkPosition]func(placement) (int, int){
	enums.WatermarkTopLeft:      func(p placement) (int, int) { return p.margins.Top, p.margins.Left },
	enums.WatermarkTopCenter:    func(p placement) (int, int) { return p.margins.Top, p.centerLeft() },
	enums.WatermarkTopRight:     func(p placement) (int, int) { return p.margins.Top, p.rightLeft() },
	enums.WatermarkMiddle:       func(p placement) (int, int) { return p.middleTop(), p.centerLeft() },
	enums.WatermarkBottomLeft:   func(p placement) (int, int) { return p.bottomTop(), p.margins.Left },
	enums.WatermarkBottomCenter: func(p placement) (int, int) { return p.bottomTop(), p.centerLeft() },
	enums.WatermarkBottomRight:  func(p placement) (int, int) { return p.bottomTop(), p.rightLeft() },
}

// FitWatermark downscales mark so it is no wider than sourceWidth*ratio. A ratio <= 0
// leaves the mark untouched.
func FitWatermark(mark image.Image, sourceWidth int, ratio float64) image.Image {
	if ratio <= 0 {
		return mark
	}
	limit := int(math.Round(float64(sourceWidth) * ratio))
	if limit < 1 {
		limit = 1
	}
	if mark.Bounds().Dx() <= limit {
		return mark
	}
	return imaging.Resize(mark, limit, 0, imaging.Lanczos)
}

// Place returns the (top, left) offset of a mark of size markSize on a source of size
// sourceSize.
func Place(pos enums.WatermarkPosition, sourceSize, markSize image.Point, margins Margins) (int, int, error) {
	fn, ok := placements[pos]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported watermark position %q", pos)
	}
	top, left := fn(placement{
		sourceW: sourceSize.X,
		sourceH: sourceSize.Y,
		markW:   markSize.X,
		markH:   markSize.Y,
		margins: margins,
	})
	return top, left, nil
}

// OpacityAlpha converts a 0..100 opacity percentage into ceil(p*255/100).
func OpacityAlpha(percent int) uint8 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return uint8((percent*255 + 99) / 100)
}

// Fade scales every pixel alpha of mark by alpha/255, the destination-in rule against a
// uniform tile of that alpha.
func Fade(mark image.Image, alpha uint8) *image.NRGBA {
	out := imaging.Clone(mark)
	if alpha == math.MaxUint8 {
		return out
	}
	bounds := out.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := out.NRGBAAt(x, y)
			c.A = uint8((uint32(c.A)*uint32(alpha) + 127) / 255)
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// Compose fits, places and blends mark over source, returning one flattened raster.
func Compose(source, mark image.Image, opts Options) (*image.NRGBA, error) {
	if source == nil || mark == nil {
		return nil, fmt.Errorf("source and watermark rasters are required")
	}
	srcSize := source.Bounds().Size()
	fitted := FitWatermark(mark, srcSize.X, opts.Ratio)
	top, left, err := Place(opts.Position, srcSize, fitted.Bounds().Size(), opts.Margins)
	if err != nil {
		return nil, err
	}
	faded := Fade(fitted, OpacityAlpha(opts.Opacity))
	return imaging.Overlay(source, faded, image.Pt(left, top), 1.0), nil
}
