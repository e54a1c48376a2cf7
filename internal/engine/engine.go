package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kikiluvv/previewdeck/internal/clock"
	"github.com/kikiluvv/previewdeck/internal/compositor"
	"github.com/kikiluvv/previewdeck/internal/deck"
	"github.com/kikiluvv/previewdeck/internal/logging"
	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/mixer"
	"github.com/kikiluvv/previewdeck/internal/overlay"
	"github.com/kikiluvv/previewdeck/internal/timeline"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

// Options supplies the media backends of a session.
type Options struct {
	// VideoA and VideoB are the two interchangeable deck handles.
	VideoA, VideoB media.VideoHandle
	// NewAudio allocates one audio channel per audio clip.
	NewAudio func() media.Element
	// Hardware drives the master clock. If it also has a Resume method it
	// is resumed when audio is unlocked.
	Hardware clock.HardwareClock
	Resolver media.Resolver
	// Images is optional; a default cache is created when nil.
	Images *media.ImageCache
}

type resumer interface {
	Resume()
}

// Engine owns one preview session: the master clock, the video deck, the
// audio mixer and the canvas with its text overlays.
type Engine struct {
	logger   zerolog.Logger
	cfg      Config
	session  string
	resolver media.Resolver

	clock  *clock.MasterClock
	deck   *deck.Deck
	mixer  *mixer.Mixer
	images *media.ImageCache

	// mu serializes frame rendering with timeline swaps and seeks
	mu     sync.Mutex
	tl     *timeline.Timeline
	canvas *compositor.Canvas
	text   *overlay.Renderer
}

// New creates a paused session at t=0 with an empty timeline.
func New(logger zerolog.Logger, cfg Config, opts Options) (*Engine, error) {
	if opts.VideoA == nil || opts.VideoB == nil {
		return nil, fmt.Errorf("two video handles are required")
	}
	if opts.NewAudio == nil {
		return nil, fmt.Errorf("an audio channel factory is required")
	}
	if opts.Hardware == nil {
		return nil, fmt.Errorf("a hardware clock is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("a media resolver is required")
	}

	session := uuid.NewString()
	logger = logging.WithSession(logger, session)

	images := opts.Images
	if images == nil {
		images = media.NewImageCache(logger, nil)
	}

	e := &Engine{
		logger:   logger.With().Str("component", "engine").Logger(),
		cfg:      cfg,
		session:  session,
		resolver: opts.Resolver,
		clock:    clock.New(opts.Hardware),
		deck:     deck.New(logger, opts.VideoA, opts.VideoB, cfg.Deck),
		mixer:    mixer.New(logger, opts.Resolver, opts.NewAudio, cfg.Mixer),
		images:   images,
		tl:       &timeline.Timeline{},
		canvas:   compositor.New(cfg.Width, cfg.Height, cfg.Background),
		text:     overlay.NewRenderer(logger, cfg.Text),
	}
	if r, ok := opts.Hardware.(resumer); ok {
		e.mixer.OnUnlock(r.Resume)
	}

	e.logger.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Float64("fps", cfg.FPS).
		Msg("preview session created")
	return e, nil
}

// Session returns the unique id of this preview session.
func (e *Engine) Session() string {
	return e.session
}

// Clock exposes the master clock for read-only consumers.
func (e *Engine) Clock() *clock.MasterClock {
	return e.clock
}

// Timeline returns the current timeline.
func (e *Engine) Timeline() *timeline.Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl
}

// SetTimeline replaces the clip set. Any in-flight cue is dropped.
func (e *Engine) SetTimeline(tl *timeline.Timeline) {
	if tl == nil {
		tl = &timeline.Timeline{}
	}
	for _, issue := range tl.Validate() {
		e.logger.Warn().Str("clip", issue.ClipID).Msg(issue.Message)
	}

	e.mu.Lock()
	e.tl = tl
	e.deck.Invalidate()
	e.text.Reset()
	e.mu.Unlock()

	e.mixer.SetTimeline(tl)
	e.logger.Info().
		Int("video", len(tl.Video)).
		Int("images", len(tl.Images)).
		Int("audio", len(tl.Audio)).
		Int("text", len(tl.Text)).
		Str("duration", util.FormatSeconds(tl.Duration())).
		Msg("timeline loaded")
}

// Resize changes the canvas size.
func (e *Engine) Resize(w, h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canvas.Resize(w, h) {
		e.logger.Debug().Int("width", w).Int("height", h).Msg("canvas resized")
	}
}

// Play starts playback from the current position, restarting from zero
// when the playhead sits at the end of the timeline.
func (e *Engine) Play() {
	t := e.clock.Now()
	if d := e.Timeline().Duration(); d > 0 && t >= d {
		t = 0
	}
	e.clock.Play(t)
	e.logger.Debug().Float64("t", t).Msg("play")
}

// Pause stops playback.
func (e *Engine) Pause() {
	e.clock.Pause()
	e.logger.Debug().Float64("t", e.clock.Now()).Msg("pause")
}

// Toggle flips between play and pause.
func (e *Engine) Toggle() {
	if e.clock.Playing() {
		e.Pause()
		return
	}
	e.Play()
}

// Seek moves the playhead to t, clamped to the timeline, and drops any
// cue started for the old position.
func (e *Engine) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t = math.Max(0, t)
	if d := e.tl.Duration(); d > 0 {
		t = math.Min(t, d)
	}
	e.clock.Seek(t)
	e.deck.Invalidate()
	e.logger.Debug().Float64("t", t).Msg("seek")
}

// Unlock must be called from a user gesture. It primes the audio channels
// and starts the hardware clock.
func (e *Engine) Unlock() {
	e.mixer.Unlock()
}

// UnlockRequired reports whether audio is waiting for a user gesture.
func (e *Engine) UnlockRequired() bool {
	return e.mixer.UnlockRequired()
}

// Run drives the frame loop and the mixer tick until ctx is done. present
// receives every rendered frame; the image is reused by the next frame and
// must be copied if it is kept.
func (e *Engine) Run(ctx context.Context, present func(*image.RGBA)) error {
	fps := e.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	interval := time.Duration(float64(time.Second) / fps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.mixer.Run(ctx, e.clock)
	})
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				frame := e.RenderFrame()
				if present != nil {
					present(frame)
				}
			}
		}
	})

	e.logger.Info().Dur("frame_interval", interval).Msg("render loop started")
	err := g.Wait()
	e.deck.Active().Pause()
	e.logger.Info().Msg("render loop stopped")
	return err
}

// RenderFrame runs one iteration of the render loop at the current clock
// time and returns the canvas.
func (e *Engine) RenderFrame() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.clock.State()
	if d := e.tl.Duration(); st.Playing && d > 0 && st.T >= d {
		e.clock.Pause()
		e.clock.Seek(d)
		st = clock.State{T: d}
		e.logger.Debug().Msg("reached end of timeline")
	}
	e.render(st.T, st.Playing)
	return e.canvas.Image()
}

func (e *Engine) render(t float64, playing bool) {
	e.canvas.Clear()

	vis := e.tl.VisualAt(t)
	switch vis.Kind {
	case timeline.VisualVideo:
		logging.Guard(e.logger, "video clip "+vis.Video.ID, func() {
			e.renderVideo(vis.Video, t, playing)
		})
	case timeline.VisualImage:
		e.parkDeck()
		logging.Guard(e.logger, "image clip "+vis.Image.ID, func() {
			e.renderImage(vis.Image)
		})
	default:
		e.parkDeck()
	}

	logging.Guard(e.logger, "lookahead", func() {
		e.cueNext(vis, t)
	})

	// text always lands on top of the visual track
	logging.Guard(e.logger, "text", func() {
		e.text.Render(e.canvas.Image(), e.tl.Text, t)
	})
}

func (e *Engine) renderVideo(c *timeline.VideoClip, t float64, playing bool) {
	url, err := e.resolver.Resolve(c.Ref)
	if err != nil {
		e.logger.Debug().Err(err).Str("clip", c.ID).Msg("video clip unresolved")
		return
	}
	target := c.MediaTime(t)

	active := e.deck.Active()
	if active.Source() != url || active.Err() != nil {
		if e.deck.Ready(url) {
			e.deck.Swap()
			active = e.deck.Active()
		} else {
			e.deck.Cue(url, target)
		}
	}

	if active.Source() == url {
		e.deck.SetAudio(!c.UseAudio, c.Volume)
		e.deck.Sync(target, playing)
	}

	// mid-cue this still shows the last frame of the previous clip
	e.canvas.DrawVideo(active, e.cfg.Fit)
}

func (e *Engine) renderImage(c *timeline.ImageClip) {
	url, err := e.resolver.Resolve(c.Ref)
	if err != nil {
		e.logger.Debug().Err(err).Str("clip", c.ID).Msg("image clip unresolved")
		return
	}
	if img, ok := e.images.Get(url); ok {
		e.canvas.DrawImage(img, e.cfg.Fit)
	}
}

// parkDeck pauses the on-screen handle when no video clip is visible.
func (e *Engine) parkDeck() {
	if h := e.deck.Active(); h.Source() != "" && !h.Paused() {
		h.Pause()
	}
}

// cueNext prepares the next video clip once the current one is on screen.
func (e *Engine) cueNext(vis timeline.Visual, t float64) {
	next, ok := e.tl.NextVideo(t, e.cfg.CueLookahead)
	if !ok {
		return
	}
	if vis.Kind == timeline.VisualVideo {
		cur, err := e.resolver.Resolve(vis.Video.Ref)
		if err != nil || e.deck.Active().Source() != cur {
			return
		}
	}
	if url, _ := e.deck.Cueing(); url != "" {
		return
	}

	url, err := e.resolver.Resolve(next.Ref)
	if err != nil {
		return
	}
	if e.deck.Cue(url, next.MediaTime(next.Start)) {
		e.logger.Debug().Str("clip", next.ID).Float64("t", t).Msg("lookahead cue")
	}
}

// Settle seeks to t and renders until the visual track shows the right
// content there, for headless snapshots. It returns the last frame even
// when ctx ends first.
func (e *Engine) Settle(ctx context.Context, t float64) (*image.RGBA, error) {
	e.Pause()
	e.Seek(t)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		frame := e.RenderFrame()
		if e.settled(t) {
			return e.RenderFrame(), nil
		}
		select {
		case <-ctx.Done():
			return frame, fmt.Errorf("settle at %s: %w", util.FormatSeconds(t), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) settled(t float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	vis := e.tl.VisualAt(t)
	switch vis.Kind {
	case timeline.VisualVideo:
		url, err := e.resolver.Resolve(vis.Video.Ref)
		if err != nil {
			return true
		}
		h := e.deck.Active()
		if h.Source() != url || h.Err() != nil || h.Seeking() || h.ReadyState() < media.HaveCurrentData {
			return false
		}
		drift := math.Abs(h.Position() - vis.Video.MediaTime(t))
		return drift <= e.cfg.Deck.PausedDriftThreshold && h.Frame() != nil
	case timeline.VisualImage:
		url, err := e.resolver.Resolve(vis.Image.Ref)
		if err != nil {
			return true
		}
		_, ok := e.images.Get(url)
		return ok || e.images.Err(url) != nil
	}
	return true
}

// Report describes what is on screen and audible at one instant.
type Report struct {
	T      float64
	Visual string
	URL    string
	Text   []timeline.TextLayer
	Audio  []mixer.ChannelGain
	Issues []timeline.Issue
}

// Inspect reports the active clips at t without rendering a frame.
func (e *Engine) Inspect(t float64) Report {
	tl := e.Timeline()
	r := Report{T: t, Text: overlay.Active(tl.Text, t), Issues: tl.Validate()}

	vis := tl.VisualAt(t)
	if c, ok := vis.Clip(); ok {
		r.Visual = c.ID
		r.URL, _ = e.resolver.Resolve(c.Ref)
	}

	r.Audio = e.mixer.GainsAt(t)
	return r
}

// Background parses a config color for the canvas, defaulting to black.
func Background(s string) color.Color {
	c, err := overlay.ParseColor(s)
	if err != nil {
		return color.Black
	}
	return c
}
