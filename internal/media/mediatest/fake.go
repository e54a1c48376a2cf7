// Package mediatest provides scriptable media elements for tests.
package mediatest

import (
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/kikiluvv/previewdeck/internal/media"
)

// ErrBroken is the load failure reported for URLs listed in FailURLs.
var ErrBroken = errors.New("broken source")

// Element is an in-memory media element. Position only moves when Advance
// is called, so tests control time explicitly.
type Element struct {
	// LoadDelay postpones readiness after SetSource; zero is synchronous.
	LoadDelay time.Duration
	// SeekDelay postpones seek completion; zero is synchronous.
	SeekDelay time.Duration
	// FailURLs lists sources that fail to load.
	FailURLs map[string]bool
	// Locked makes Play fail with media.ErrAudioUnlockRequired.
	Locked bool
	// FrameSize is the size of frames returned by Frame.
	FrameSize image.Point

	mu      sync.Mutex
	source  string
	ready   media.ReadyState
	err     error
	pos     float64
	seeking bool
	paused  bool
	rate    float64
	muted   bool
	volume  float64

	seeks   int
	plays   int
	primes  int
	history []string
}

// NewVideo returns an element suitable for video decks.
func NewVideo() *Element {
	return &Element{paused: true, rate: 1, volume: 1, FrameSize: image.Pt(64, 36)}
}

// NewAudio returns an element suitable for audio channels.
func NewAudio() *Element {
	return &Element{paused: true, rate: 1, volume: 1}
}

func (e *Element) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

func (e *Element) SetSource(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.source = url
	e.ready = media.HaveNothing
	e.err = nil
	e.pos = 0
	e.seeking = false
	e.paused = true
	e.history = append(e.history, "load:"+url)
	if url == "" {
		return
	}

	if e.LoadDelay == 0 {
		e.finishLoadLocked(url)
		return
	}
	time.AfterFunc(e.LoadDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.source == url {
			e.finishLoadLocked(url)
		}
	})
}

func (e *Element) finishLoadLocked(url string) {
	if e.FailURLs[url] {
		e.err = ErrBroken
		return
	}
	e.ready = media.HaveEnoughData
}

func (e *Element) ReadyState() media.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// SetReadyState overrides the buffered state.
func (e *Element) SetReadyState(s media.ReadyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = s
}

func (e *Element) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Fail reports a decode error on the current source.
func (e *Element) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// SetPosition moves the playhead without counting as a seek.
func (e *Element) SetPosition(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos
}

// Advance moves a playing element forward by dt seconds of wall time.
func (e *Element) Advance(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused && !e.seeking {
		e.pos += dt * e.rate
	}
}

func (e *Element) Seek(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seeks++
	e.pos = pos
	e.history = append(e.history, "seek")
	if e.SeekDelay == 0 {
		return
	}
	e.seeking = true
	src := e.source
	time.AfterFunc(e.SeekDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.source == src {
			e.seeking = false
		}
	})
}

func (e *Element) Seeking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeking
}

func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Locked {
		return media.ErrAudioUnlockRequired
	}
	e.plays++
	if e.muted {
		e.primes++
	}
	e.paused = false
	e.history = append(e.history, "play")
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.history = append(e.history, "pause")
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Element) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
}

func (e *Element) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

func (e *Element) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Frame returns a solid frame whose color identifies the current source.
func (e *Element) Frame() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == "" || e.ready < media.HaveCurrentData {
		return nil
	}
	img := image.NewRGBA(image.Rectangle{Max: e.FrameSize})
	draw.Draw(img, img.Bounds(), &image.Uniform{C: ColorFor(e.source)}, image.Point{}, draw.Src)
	return img
}

// Seeks returns how many seeks were issued.
func (e *Element) Seeks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeks
}

// Plays returns how many successful Play calls were made.
func (e *Element) Plays() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays
}

// Primes returns how many Play calls happened while muted.
func (e *Element) Primes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primes
}

// History returns the recorded load/seek/play/pause calls.
func (e *Element) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...)
}

// ColorFor derives a stable opaque color from a source URL.
func ColorFor(url string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(url))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum>>16) | 0x20, A: 0xff}
}

var (
	_ media.VideoHandle = (*Element)(nil)
)
