package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentcms/internal/watermark"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
)

const (
	KeyWatermarkActive       = "watermark_active"
	KeyWatermarkImageID      = "watermark_image_id"
	KeyWatermarkSizeRatio    = "watermark_size_ratio"
	KeyWatermarkPosition     = "watermark_position"
	KeyWatermarkMarginTop    = "watermark_margin_top"
	KeyWatermarkMarginRight  = "watermark_margin_right"
	KeyWatermarkMarginBottom = "watermark_margin_bottom"
	KeyWatermarkMarginLeft   = "watermark_margin_left"
	KeyWatermarkOpacity      = "watermark_opacity"
	KeyWatermarkSizes        = "watermark_sizes"
)

// WatermarkKeys lists every key read by LoadWatermarkConfig.
var WatermarkKeys = []string{
	KeyWatermarkActive,
	KeyWatermarkImageID,
	KeyWatermarkSizeRatio,
	KeyWatermarkPosition,
	KeyWatermarkMarginTop,
	KeyWatermarkMarginRight,
	KeyWatermarkMarginBottom,
	KeyWatermarkMarginLeft,
	KeyWatermarkOpacity,
	KeyWatermarkSizes,
}

const defaultOpacity = 100

// WatermarkConfig is the watermark settings snapshot used for one pipeline run.
type WatermarkConfig struct {
	Active   bool                    `json:"active"`
	ImageID  uuid.UUID               `json:"image_id"`
	Ratio    float64                 `json:"ratio"`
	Position enums.WatermarkPosition `json:"position"`
	Margins  watermark.Margins       `json:"margins"`
	Opacity  int                     `json:"opacity"`
	Sizes    []int                   `json:"sizes"`

	// Warnings lists values that were replaced by a default.
	Warnings []string `json:"-"`
}

// Options converts the snapshot into compositor options.
func (c WatermarkConfig) Options() watermark.Options {
	return watermark.Options{
		Ratio:    c.Ratio,
		Position: c.Position,
		Margins:  c.Margins,
		Opacity:  c.Opacity,
	}
}

// AppliesTo reports whether a derivative of the given width receives the watermark.
func (c WatermarkConfig) AppliesTo(width int) bool {
	if !c.Active {
		return false
	}
	for _, size := range c.Sizes {
		if size == width {
			return true
		}
	}
	return false
}

// ParseWatermarkConfig builds a config from raw settings values. An unknown position falls
// back to top-left and is noted in Warnings. A malformed ratio or size list is only an error
// when the watermark is active.
func ParseWatermarkConfig(values map[string]string) (WatermarkConfig, error) {
	cfg := WatermarkConfig{
		Active:   parseFlag(values[KeyWatermarkActive]),
		Position: enums.WatermarkTopLeft,
		Opacity:  defaultOpacity,
	}
	var problems []string

	if raw := strings.TrimSpace(values[KeyWatermarkImageID]); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			cfg.ImageID = id
		}
	}

	if raw := strings.TrimSpace(values[KeyWatermarkSizeRatio]); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a number", KeyWatermarkSizeRatio, raw))
		} else {
			cfg.Ratio = ratio
		}
	}

	if raw := strings.TrimSpace(values[KeyWatermarkPosition]); raw != "" {
		pos, err := enums.ParseWatermarkPosition(raw)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: %v; using %s", KeyWatermarkPosition, err, enums.WatermarkTopLeft))
		} else {
			cfg.Position = pos
		}
	}

	cfg.Margins = watermark.Margins{
		Top:    parseInt(values[KeyWatermarkMarginTop], 0),
		Right:  parseInt(values[KeyWatermarkMarginRight], 0),
		Bottom: parseInt(values[KeyWatermarkMarginBottom], 0),
		Left:   parseInt(values[KeyWatermarkMarginLeft], 0),
	}

	opacity := parseInt(values[KeyWatermarkOpacity], defaultOpacity)
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 100 {
		opacity = 100
	}
	cfg.Opacity = opacity

	sizes, err := parseSizes(values[KeyWatermarkSizes])
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", KeyWatermarkSizes, err))
	}
	cfg.Sizes = sizes

	if cfg.Active && len(problems) > 0 {
		return cfg, pkgerrors.New(pkgerrors.CodeValidation, "invalid watermark settings").WithDetails(problems)
	}
	return cfg, nil
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseSizes(value string) ([]int, error) {
	var sizes []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%q is not a positive width", part)
		}
		sizes = append(sizes, n)
	}
	sort.Ints(sizes)
	return sizes, nil
}
