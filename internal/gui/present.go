package gui

import (
	"image"
	"image/draw"
	"sync/atomic"
)

// frameBuffers hands composited frames to the UI thread. A buffer is only
// rewritten once the UI has swapped to the other one, so frames arriving
// while a hand-off is still queued are dropped.
type frameBuffers struct {
	buffers [2]*image.RGBA
	next    int
	pending atomic.Bool
}

// offer copies src into the free buffer and passes it to show. It returns
// false without copying while the previous buffer has not been shown yet.
// show must call done once the buffer is on screen.
func (fb *frameBuffers) offer(src *image.RGBA, show func(dst *image.RGBA, done func())) bool {
	if !fb.pending.CompareAndSwap(false, true) {
		return false
	}

	dst := fb.buffers[fb.next]
	if dst == nil || dst.Rect != src.Rect {
		dst = image.NewRGBA(src.Rect)
		fb.buffers[fb.next] = dst
	}
	draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Src)
	fb.next = 1 - fb.next

	show(dst, func() { fb.pending.Store(false) })
	return true
}
