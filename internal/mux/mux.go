// Package mux selects the concrete container writer (internal/mux/webm or
// internal/mux/mp4) for a negotiated container, matching
// Simon-Weij-wayland-recorder's muxer-selection-by-container pattern
// (webmmux/mp4mux chosen from a small dispatch table rather than a type
// switch scattered across call sites).
package mux

import (
	"github.com/mantonx/avrecorder/internal/mux/mp4"
	"github.com/mantonx/avrecorder/internal/mux/webm"
	"github.com/mantonx/avrecorder/types"
)

// New returns a fresh, unconfigured Muxer for container.
func New(container types.Container) types.Muxer {
	if container == types.ContainerWebM {
		return webm.New()
	}
	return mp4.New()
}
