package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder assembles the -vf chain used for frame extraction and
// raw frame streaming.
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// Scale adds a scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		// skip but keep the chain going
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// ScaleFit scales down to fit within width×height keeping the aspect ratio
// and never upscales.
func (fb *FilterBuilder) ScaleFit(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf(
		"scale='min(iw,%d)':'min(ih,%d)':force_original_aspect_ratio=decrease", width, height))
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps float64) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("fps=%f", fps))
	return fb
}

// Format converts to a pixel format, e.g. rgba.
func (fb *FilterBuilder) Format(pixFmt string) *FilterBuilder {
	if pixFmt == "" {
		return fb
	}
	fb.filters = append(fb.filters, "format="+pixFmt)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}
