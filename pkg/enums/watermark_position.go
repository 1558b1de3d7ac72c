package enums

import (
	"fmt"
	"strings"
)

// WatermarkPosition anchors the watermark on the source raster.
type WatermarkPosition string

const (
	WatermarkTopLeft      WatermarkPosition = "TOP_LEFT"
	WatermarkTopCenter    WatermarkPosition = "TOP_CENTER"
	WatermarkTopRight     WatermarkPosition = "TOP_RIGHT"
	WatermarkMiddle       WatermarkPosition = "MIDDLE"
	WatermarkBottomLeft   WatermarkPosition = "BOTTOM_LEFT"
	WatermarkBottomCenter WatermarkPosition = "BOTTOM_CENTER"
	WatermarkBottomRight  WatermarkPosition = "BOTTOM_RIGHT"
)

// WatermarkPositions lists every supported placement.
var WatermarkPositions = []WatermarkPosition{
	WatermarkTopLeft,
	WatermarkTopCenter,
	WatermarkTopRight,
	WatermarkMiddle,
	WatermarkBottomLeft,
	WatermarkBottomCenter,
	WatermarkBottomRight,
}

func (p WatermarkPosition) String() string {
	return string(p)
}

// IsValid reports whether the position is known.
func (p WatermarkPosition) IsValid() bool {
	for _, candidate := range WatermarkPositions {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseWatermarkPosition converts a settings value into a position. Matching ignores case
// and surrounding whitespace.
func ParseWatermarkPosition(value string) (WatermarkPosition, error) {
	normalized := WatermarkPosition(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid watermark position %q", value)
}
