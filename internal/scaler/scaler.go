// Package scaler implements the Frame Scaler of spec.md §4.2: given the
// capture source's native dimensions and a resolution target, it decides
// the output dimensions and whether resampling can be skipped entirely.
// The arithmetic (aspect-preserving fit, even-dimension rounding, minimum
// dimension floors) is grounded on go-vod's transcoder/manager.go stream
// derivation, generalized from ABR ladder construction to a single target.
package scaler

import (
	"math"

	"github.com/mantonx/avrecorder/types"
)

const (
	nearMatchTolerance = 0.02

	minOutWidth  = 640
	minOutHeight = 360
	maxOutWidth  = 1920
	maxOutHeight = 1080

	alignment = 16
)

type dims struct{ w, h int }

var autoLadder = []dims{
	{1920, 1080},
	{1280, 720},
	{960, 540},
	{640, 360},
}

var explicitTargets = map[types.ResolutionTarget]dims{
	types.Resolution4K:    {3840, 2160},
	types.Resolution1080p: {1920, 1080},
	types.Resolution720p:  {1280, 720},
	types.Resolution540p:  {960, 540},
}

// Result is the scaler's decision for one capture source.
type Result struct {
	OutWidth  int
	OutHeight int
	Bypass    bool
}

// Decide implements spec.md §4.2's policy.
func Decide(origW, origH int, target types.ResolutionTarget) Result {
	targetW, targetH := resolveTarget(origW, origH, target)

	if nearMatch(origW, targetW) && nearMatch(origH, targetH) {
		return Result{OutWidth: origW, OutHeight: origH, Bypass: true}
	}
	// A source that already fits inside the target needs no downscale.
	if origW <= targetW && origH <= targetH {
		return Result{OutWidth: origW, OutHeight: origH, Bypass: true}
	}

	outW, outH := fitPreservingAspect(origW, origH, targetW, targetH)
	outW = alignDown(outW)
	outH = alignDown(outH)
	outW = clamp(outW, minOutWidth, maxOutWidth)
	outH = clamp(outH, minOutHeight, maxOutHeight)

	return Result{OutWidth: outW, OutHeight: outH, Bypass: false}
}

// resolveTarget picks the concrete (width, height) a ResolutionTarget maps
// to. auto walks the standard ladder and picks the largest rung the source
// is big enough to produce without upscaling; if the source is smaller
// than every rung, the source's own size is the target (so the near-match
// check below naturally bypasses).
func resolveTarget(origW, origH int, target types.ResolutionTarget) (int, int) {
	if target == types.ResolutionAuto || target == "" {
		for _, rung := range autoLadder {
			if origW >= rung.w && origH >= rung.h {
				return rung.w, rung.h
			}
		}
		return origW, origH
	}

	if d, ok := explicitTargets[target]; ok {
		return d.w, d.h
	}
	return origW, origH
}

func nearMatch(orig, target int) bool {
	if target == 0 {
		return orig == 0
	}
	diff := math.Abs(float64(orig-target)) / float64(target)
	return diff <= nearMatchTolerance
}

// fitPreservingAspect scales (origW, origH) to fit within the
// (boundW, boundH) bounding box without changing aspect ratio, never
// upscaling.
func fitPreservingAspect(origW, origH, boundW, boundH int) (int, int) {
	scale := math.Min(float64(boundW)/float64(origW), float64(boundH)/float64(origH))
	if scale > 1 {
		scale = 1
	}
	return int(math.Round(float64(origW) * scale)), int(math.Round(float64(origH) * scale))
}

func alignDown(v int) int {
	v -= v % 2
	v -= v % alignment
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
