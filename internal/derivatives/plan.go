// Package derivatives plans and writes the resized JPEG variants of an original image.
package derivatives

import (
	"strings"

	"github.com/angelmondragon/contentcms/internal/settings"
	"github.com/angelmondragon/contentcms/pkg/enums"
)

// PlanEntry is one derivative to produce.
type PlanEntry struct {
	Size      enums.ImageSize
	Label     string
	Width     int
	Watermark bool
}

// Plan lists one entry per bucket in catalog. Buckets wider than the source are still
// planned, so small sources are upscaled.
func Plan(catalog []enums.ImageSize, wm settings.WatermarkConfig, watermarkAvailable bool) []PlanEntry {
	entries := make([]PlanEntry, 0, len(catalog))
	for _, size := range catalog {
		if !size.IsDerivative() {
			continue
		}
		width := size.Width()
		entries = append(entries, PlanEntry{
			Size:      size,
			Label:     strings.ToLower(size.String()),
			Width:     width,
			Watermark: watermarkAvailable && wm.AppliesTo(width),
		})
	}
	return entries
}
