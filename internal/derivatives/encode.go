package derivatives

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// JPEGContentType is the content type of every derivative.
const JPEGContentType = "image/jpeg"

// Resize scales img to width, preserving the aspect ratio.
func Resize(img image.Image, width int) *image.NRGBA {
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// EncodeJPEG flattens img onto white and encodes it at quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScaledHeight is the height Resize yields for a srcW x srcH raster at width.
func ScaledHeight(srcW, srcH, width int) int {
	if srcW <= 0 {
		return 0
	}
	h := int(float64(width)*float64(srcH)/float64(srcW) + 0.5)
	if h < 1 {
		h = 1
	}
	return h
}
