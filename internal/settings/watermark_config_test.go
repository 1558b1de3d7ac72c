package settings

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
)

func TestParseWatermarkConfigDefaults(t *testing.T) {
	cfg, err := ParseWatermarkConfig(map[string]string{})
	require.NoError(t, err)
	assert.False(t, cfg.Active)
	assert.Equal(t, uuid.Nil, cfg.ImageID)
	assert.Equal(t, enums.WatermarkTopLeft, cfg.Position)
	assert.Equal(t, 100, cfg.Opacity)
	assert.Empty(t, cfg.Sizes)
	assert.False(t, cfg.AppliesTo(480))
}

func TestParseWatermarkConfigClampsAndTolerates(t *testing.T) {
	cfg, err := ParseWatermarkConfig(map[string]string{
		KeyWatermarkActive:     "yes",
		KeyWatermarkImageID:    "not-a-uuid",
		KeyWatermarkOpacity:    "250",
		KeyWatermarkMarginTop:  "abc",
		KeyWatermarkSizes:      " 480 ,, 800 ",
		KeyWatermarkSizeRatio:  "0.25",
		KeyWatermarkPosition:   " middle ",
		KeyWatermarkMarginLeft: "4",
	})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, cfg.ImageID)
	assert.Equal(t, 100, cfg.Opacity)
	assert.Equal(t, 0, cfg.Margins.Top)
	assert.Equal(t, 4, cfg.Margins.Left)
	assert.Equal(t, []int{480, 800}, cfg.Sizes)
	assert.Equal(t, enums.WatermarkMiddle, cfg.Position)

	opts := cfg.Options()
	assert.Equal(t, 0.25, opts.Ratio)
	assert.Equal(t, enums.WatermarkMiddle, opts.Position)
}

func TestParseWatermarkConfigFallsBackToTopLeft(t *testing.T) {
	cfg, err := ParseWatermarkConfig(map[string]string{
		KeyWatermarkActive:   "true",
		KeyWatermarkPosition: "DIAGONAL",
		KeyWatermarkSizes:    "480",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Active)
	assert.Equal(t, enums.WatermarkTopLeft, cfg.Position)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], KeyWatermarkPosition)
}

func TestParseWatermarkConfigRejectsBadSizesWhenActive(t *testing.T) {
	_, err := ParseWatermarkConfig(map[string]string{
		KeyWatermarkActive:    "true",
		KeyWatermarkSizes:     "480,big",
		KeyWatermarkSizeRatio: "wide",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestParseWatermarkConfigIgnoresBadValuesWhenInactive(t *testing.T) {
	cfg, err := ParseWatermarkConfig(map[string]string{
		KeyWatermarkActive:    "false",
		KeyWatermarkPosition:  "DIAGONAL",
		KeyWatermarkSizes:     "big",
		KeyWatermarkSizeRatio: "wide",
	})
	require.NoError(t, err)
	assert.False(t, cfg.Active)
	assert.Equal(t, enums.WatermarkTopLeft, cfg.Position)
}
