package gui

import (
	"image"
	"image/color"
	"testing"
)

func solid(c uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func TestFrameBuffersDropWhileShowPending(t *testing.T) {
	var fb frameBuffers
	var queued []func()
	var shown []*image.RGBA
	show := func(dst *image.RGBA, done func()) {
		shown = append(shown, dst)
		queued = append(queued, done)
	}

	if !fb.offer(solid(10), show) {
		t.Fatal("expected the first frame to be handed off")
	}
	first := shown[0]

	if fb.offer(solid(20), show) {
		t.Fatal("expected a frame to be dropped while the previous one is queued")
	}
	if got := first.RGBAAt(0, 0); got != (color.RGBA{10, 10, 10, 10}) {
		t.Fatalf("queued buffer was overwritten: %v", got)
	}

	queued[0]()
	if !fb.offer(solid(30), show) {
		t.Fatal("expected a frame once the previous one was shown")
	}
	second := shown[1]
	if second == first {
		t.Fatal("expected the next frame in the other buffer")
	}
	if got := first.RGBAAt(0, 0); got != (color.RGBA{10, 10, 10, 10}) {
		t.Errorf("on-screen buffer was overwritten: %v", got)
	}
	if got := second.RGBAAt(0, 0); got != (color.RGBA{30, 30, 30, 30}) {
		t.Errorf("expected the new frame, got %v", got)
	}
}

func TestFrameBuffersResize(t *testing.T) {
	var fb frameBuffers
	show := func(dst *image.RGBA, done func()) { done() }

	fb.offer(solid(1), show)
	fb.offer(solid(1), show)
	big := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fb.offer(big, show)
	if fb.buffers[0].Rect != big.Rect {
		t.Errorf("expected the buffer to follow the frame size, got %v", fb.buffers[0].Rect)
	}
}
