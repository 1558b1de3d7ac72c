package enums

import "fmt"

// ImageSize is the size category of an image file. Originals use ImageSizeOriginal,
// derivatives use one of the fixed width buckets.
type ImageSize string

const (
	ImageSizeOriginal ImageSize = "original"
	ImageSize75       ImageSize = "size_75"
	ImageSize160      ImageSize = "size_160"
	ImageSize320      ImageSize = "size_320"
	ImageSize480      ImageSize = "size_480"
	ImageSize640      ImageSize = "size_640"
	ImageSize800      ImageSize = "size_800"
	ImageSize1200     ImageSize = "size_1200"
	ImageSize1600     ImageSize = "size_1600"
)

var imageSizeWidths = map[ImageSize]int{
	ImageSize75:   75,
	ImageSize160:  160,
	ImageSize320:  320,
	ImageSize480:  480,
	ImageSize640:  640,
	ImageSize800:  800,
	ImageSize1200: 1200,
	ImageSize1600: 1600,
}

// DerivativeSizes is the fixed bucket catalog, smallest first.
var DerivativeSizes = []ImageSize{
	ImageSize75,
	ImageSize160,
	ImageSize320,
	ImageSize480,
	ImageSize640,
	ImageSize800,
	ImageSize1200,
	ImageSize1600,
}

func (s ImageSize) String() string {
	return string(s)
}

// Width returns the target width in pixels; zero for the original category.
func (s ImageSize) Width() int {
	return imageSizeWidths[s]
}

// IsDerivative reports whether the size is one of the bucket categories.
func (s ImageSize) IsDerivative() bool {
	_, ok := imageSizeWidths[s]
	return ok
}

// IsValid reports whether the size is known.
func (s ImageSize) IsValid() bool {
	return s == ImageSizeOriginal || s.IsDerivative()
}

// ParseImageSize converts raw input into an ImageSize.
func ParseImageSize(value string) (ImageSize, error) {
	candidate := ImageSize(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid image size %q", value)
}
