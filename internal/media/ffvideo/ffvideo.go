// Package ffvideo implements media.VideoHandle on top of the ffmpeg
// executor. Position is kept by a software clock; frames are decoded in the
// background and Frame only ever returns the last decoded image.
//
// Handles decode picture only. Mute and volume are recorded for the deck's
// bookkeeping; a clip's own soundtrack is played by the mixer.
package ffvideo

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/ffmpeg"
	"github.com/kikiluvv/previewdeck/internal/media"
)

// Stream yields decoded frames in presentation order.
type Stream interface {
	Next() (*image.RGBA, error)
	Close() error
}

// Backend probes and decodes sources.
type Backend interface {
	Probe(ctx context.Context, url string) (*ffmpeg.MediaInfo, error)
	ExtractFrame(ctx context.Context, url string, at float64, maxW, maxH int) (image.Image, error)
	Stream(ctx context.Context, url string, at, fps float64, w, h int) (Stream, error)
}

type executorBackend struct {
	*ffmpeg.Executor
}

func (b executorBackend) Stream(ctx context.Context, url string, at, fps float64, w, h int) (Stream, error) {
	return b.OpenFrames(ctx, url, at, fps, w, h)
}

// FromExecutor adapts an ffmpeg executor to Backend.
func FromExecutor(e *ffmpeg.Executor) Backend {
	return executorBackend{e}
}

// Config bounds decoding work.
type Config struct {
	MaxWidth     int
	MaxHeight    int
	FPS          float64
	ProbeTimeout time.Duration
}

// DefaultConfig decodes at most 1280x720 at 30 fps.
func DefaultConfig() Config {
	return Config{
		MaxWidth:     1280,
		MaxHeight:    720,
		FPS:          30,
		ProbeTimeout: 15 * time.Second,
	}
}

// Handle is a video element decoded by ffmpeg.
type Handle struct {
	logger  zerolog.Logger
	backend Backend
	cfg     Config
	now     func() time.Time

	mu       sync.Mutex
	source   string
	gen      int
	info     *ffmpeg.MediaInfo
	ready    media.ReadyState
	err      error
	base     float64
	playedAt time.Time
	paused   bool
	seeking  bool
	seekGen  int
	rate     float64
	muted    bool
	volume   float64
	frame    image.Image
	cancel   context.CancelFunc
}

// New creates an empty handle.
func New(logger zerolog.Logger, backend Backend, cfg Config) *Handle {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultConfig().FPS
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Handle{
		logger:  logger.With().Str("component", "ffvideo").Logger(),
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
		paused:  true,
		rate:    1,
		volume:  1,
	}
}

func (h *Handle) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

func (h *Handle) SetSource(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	h.gen++
	h.source = url
	h.info = nil
	h.ready = media.HaveNothing
	h.err = nil
	h.base = 0
	h.paused = true
	h.seeking = false
	h.frame = nil
	if url == "" {
		return
	}
	go h.load(h.gen, url)
}

func (h *Handle) load(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ProbeTimeout)
	defer cancel()

	info, err := h.backend.Probe(ctx, url)
	if err == nil && !info.HasVideo {
		err = errors.New("no video stream")
	}
	if err != nil {
		h.fail(gen, url, err)
		return
	}

	h.mu.Lock()
	if h.gen != gen {
		h.mu.Unlock()
		return
	}
	h.info = info
	h.ready = media.HaveMetadata
	at := h.base
	h.mu.Unlock()

	img, err := h.backend.ExtractFrame(ctx, url, at, h.cfg.MaxWidth, h.cfg.MaxHeight)
	if err != nil {
		h.fail(gen, url, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return
	}
	if h.frame == nil {
		h.frame = img
	}
	h.ready = media.HaveEnoughData
	if !h.paused && !h.seeking {
		h.startLocked()
	}
	h.logger.Debug().
		Str("url", url).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("source loaded")
}

func (h *Handle) fail(gen int, url string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return
	}
	h.err = media.LoadError(url, err)
	h.logger.Warn().Err(err).Str("url", url).Msg("failed to load video")
}

func (h *Handle) ReadyState() media.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionLocked()
}

func (h *Handle) positionLocked() float64 {
	pos := h.base
	if !h.paused && !h.seeking {
		pos += h.now().Sub(h.playedAt).Seconds() * h.rate
	}
	if h.info != nil {
		if d := h.info.Seconds(); d > 0 && pos > d {
			pos = d
		}
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

func (h *Handle) Seek(pos float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	if pos < 0 {
		pos = 0
	}
	h.base = pos
	h.playedAt = h.now()
	if h.source == "" || h.info == nil {
		// applied once the first frame is extracted
		return
	}
	h.seekGen++
	h.seeking = true
	go h.seek(h.gen, h.seekGen, h.source, pos)
}

func (h *Handle) seek(gen, seekGen int, url string, pos float64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ProbeTimeout)
	defer cancel()

	img, err := h.backend.ExtractFrame(ctx, url, pos, h.cfg.MaxWidth, h.cfg.MaxHeight)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen || h.seekGen != seekGen {
		return
	}
	h.seeking = false
	h.playedAt = h.now()
	if err != nil {
		// keep the previous frame; a seek past the end has no frame
		h.logger.Debug().Err(err).Str("url", url).Float64("at", pos).Msg("seek decode failed")
	} else {
		h.frame = img
	}
	if !h.paused {
		h.startLocked()
	}
}

func (h *Handle) Seeking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seeking
}

func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}
	if !h.paused {
		return nil
	}
	h.paused = false
	h.playedAt = h.now()
	if !h.seeking && h.info != nil {
		h.startLocked()
	}
	return nil
}

func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.paused {
		return
	}
	h.base = h.positionLocked()
	h.paused = true
	h.stopLocked()
}

func (h *Handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Handle) SetRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rate <= 0 || rate == h.rate {
		return
	}
	h.base = h.positionLocked()
	h.playedAt = h.now()
	h.rate = rate
}

func (h *Handle) Rate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate
}

func (h *Handle) SetMuted(muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = muted
}

func (h *Handle) Muted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.muted
}

func (h *Handle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
}

func (h *Handle) Volume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

// Frame returns the most recently decoded frame.
func (h *Handle) Frame() image.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Info returns the probed metadata, or nil before it is known.
func (h *Handle) Info() *ffmpeg.MediaInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

// Close stops any running decoder and unloads the source.
func (h *Handle) Close() {
	h.SetSource("")
}

// frameSize fits the source into the configured bounds keeping the aspect
// ratio. ffmpeg wants even dimensions for most pixel formats.
func (h *Handle) frameSize() (int, int) {
	w, ht := h.info.Width, h.info.Height
	if w <= 0 || ht <= 0 {
		return h.cfg.MaxWidth, h.cfg.MaxHeight
	}
	scale := 1.0
	if h.cfg.MaxWidth > 0 && w > h.cfg.MaxWidth {
		scale = float64(h.cfg.MaxWidth) / float64(w)
	}
	if h.cfg.MaxHeight > 0 && float64(ht)*scale > float64(h.cfg.MaxHeight) {
		scale = float64(h.cfg.MaxHeight) / float64(ht)
	}
	fw := int(float64(w)*scale) &^ 1
	fh := int(float64(ht)*scale) &^ 1
	if fw < 2 {
		fw = 2
	}
	if fh < 2 {
		fh = 2
	}
	return fw, fh
}

func (h *Handle) startLocked() {
	h.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	w, ht := h.frameSize()
	go h.decode(ctx, h.gen, h.source, h.positionLocked(), w, ht)
}

func (h *Handle) stopLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// decode streams frames from `at` and publishes each one when its
// presentation time arrives.
func (h *Handle) decode(ctx context.Context, gen int, url string, at float64, w, ht int) {
	stream, err := h.backend.Stream(ctx, url, at, h.cfg.FPS, w, ht)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn().Err(err).Str("url", url).Msg("failed to start decoder")
		}
		return
	}
	defer stream.Close()

	interval := time.Duration(float64(time.Second) / h.cfg.FPS)
	start := h.now()
	for i := 0; ; i++ {
		img, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Warn().Err(err).Str("url", url).Msg("decode stopped")
			}
			return
		}

		if wait := start.Add(time.Duration(i) * interval).Sub(h.now()); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		h.mu.Lock()
		if h.gen != gen || ctx.Err() != nil {
			h.mu.Unlock()
			return
		}
		h.frame = img
		h.mu.Unlock()
	}
}

var _ media.VideoHandle = (*Handle)(nil)
