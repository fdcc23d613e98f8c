package scaler_test

import (
	"testing"

	"github.com/mantonx/avrecorder/internal/scaler"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

func TestDecideBypassesWithinTwoPercentOfAutoTarget(t *testing.T) {
	r := scaler.Decide(1930, 1082, types.ResolutionAuto)

	require.True(t, r.Bypass)
	require.Equal(t, 1930, r.OutWidth)
	require.Equal(t, 1082, r.OutHeight)
}

func TestDecideDownscalesLargeSourcePreservingAspect(t *testing.T) {
	r := scaler.Decide(3426, 2214, types.ResolutionAuto)

	require.False(t, r.Bypass)
	require.LessOrEqual(t, r.OutWidth, 1920)
	require.LessOrEqual(t, r.OutHeight, 1080)
	require.Zero(t, r.OutWidth%16)
	require.Zero(t, r.OutHeight%16)

	origAspect := 3426.0 / 2214.0
	outAspect := float64(r.OutWidth) / float64(r.OutHeight)
	require.InDelta(t, origAspect, outAspect, 0.02)
}

func TestDecideExplicitTargetBypassWhenNotLarger(t *testing.T) {
	r := scaler.Decide(1280, 720, types.Resolution1080p)

	require.True(t, r.Bypass)
}

func TestDecideSmallSourceNeverUpscales(t *testing.T) {
	r := scaler.Decide(320, 240, types.ResolutionAuto)

	require.True(t, r.Bypass)
	require.Equal(t, 320, r.OutWidth)
	require.Equal(t, 240, r.OutHeight)
}

func TestDecideDimensionsAlwaysEven(t *testing.T) {
	r := scaler.Decide(4001, 2001, types.Resolution720p)

	require.Zero(t, r.OutWidth%2)
	require.Zero(t, r.OutHeight%2)
}
