package deck

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/media"
)

// Config tunes drift correction and cue timeouts.
type Config struct {
	// PlayingDriftThreshold is the drift in seconds tolerated while playing.
	PlayingDriftThreshold float64
	// PausedDriftThreshold is the drift tolerated while paused or scrubbing.
	PausedDriftThreshold float64
	// MinCorrectionInterval is the minimum wall time between hard seeks.
	MinCorrectionInterval time.Duration
	// CueTimeout bounds how long a cue may wait for load and seek.
	CueTimeout time.Duration
}

// DefaultConfig returns the standard deck tuning.
func DefaultConfig() Config {
	return Config{
		PlayingDriftThreshold: 0.2,
		PausedDriftThreshold:  0.05,
		MinCorrectionInterval: 150 * time.Millisecond,
		CueTimeout:            5 * time.Second,
	}
}

// Deck double-buffers two video handles. The active handle is on screen;
// the standby handle is loaded, primed and seeked in the background so a
// clip change is a Swap with no visible gap.
type Deck struct {
	logger zerolog.Logger
	cfg    Config
	now    func() time.Time

	mu      sync.Mutex
	handles [2]media.VideoHandle
	// swapped alone decides which handle is active
	swapped bool

	cueURL   string
	cueGen   uint64
	cueReady bool
	cancel   context.CancelFunc
	// closed when the most recent cue goroutine has returned
	cueDone chan struct{}

	lastCorrection time.Time
	muted          bool
	volume         float64
}

// New creates a deck over two interchangeable handles.
func New(logger zerolog.Logger, a, b media.VideoHandle, cfg Config) *Deck {
	d := &Deck{
		logger:  logger.With().Str("component", "deck").Logger(),
		cfg:     cfg,
		now:     time.Now,
		handles: [2]media.VideoHandle{a, b},
		volume:  1,
	}
	a.SetRate(1)
	b.SetRate(1)
	return d
}

func (d *Deck) activeIndex() int {
	if d.swapped {
		return 1
	}
	return 0
}

// Active returns the handle currently on screen.
func (d *Deck) Active() media.VideoHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[d.activeIndex()]
}

// Standby returns the hidden handle.
func (d *Deck) Standby() media.VideoHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[1-d.activeIndex()]
}

// Cue starts preparing url at media offset at on the standby handle. It
// returns false without doing anything when url is already active or
// already being cued.
func (d *Deck) Cue(url string, at float64) bool {
	if url == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	active := d.handles[d.activeIndex()]
	if active.Source() == url && active.Err() == nil {
		return false
	}
	if d.cueURL == url {
		return false
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.cueGen++
	d.cueURL = url
	d.cueReady = false

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CueTimeout)
	d.cancel = cancel
	standby := d.handles[1-d.activeIndex()]
	prev, done := d.cueDone, make(chan struct{})
	d.cueDone = done

	d.logger.Debug().Str("url", url).Float64("at", at).Uint64("gen", d.cueGen).Msg("cueing standby")
	go d.runCue(ctx, cancel, d.cueGen, standby, url, at, prev, done)
	return true
}

// stale reports whether a newer cue or an Invalidate superseded gen.
func (d *Deck) stale(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen != d.cueGen
}

// runCue prepares h for url. Cue goroutines run one after another: each
// waits for its predecessor, which was cancelled, to return before it
// touches a handle. A superseded cue stops before its next handle call.
func (d *Deck) runCue(ctx context.Context, cancel context.CancelFunc, gen uint64, h media.VideoHandle, url string, at float64, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	if prev != nil {
		<-prev
	}
	if d.stale(gen) {
		d.logger.Debug().Str("url", url).Uint64("gen", gen).Msg("cue superseded before start")
		return
	}

	d.mu.Lock()
	muted, volume := d.muted, d.volume
	d.mu.Unlock()
	h.SetMuted(muted)
	h.SetVolume(volume)

	if h.Source() != url || h.Err() != nil {
		h.SetSource(url)
	}

	loadErr := media.Await(ctx, h, media.EventCanPlay)
	var seekErr error
	if loadErr == nil && !d.stale(gen) {
		if err := media.Prime(h); err != nil {
			d.logger.Debug().Err(err).Str("url", url).Msg("standby prime failed")
		}
		if !d.stale(gen) {
			h.Seek(at)
			seekErr = media.Await(ctx, h, media.EventSeeked)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.cueGen {
		d.logger.Debug().Str("url", url).Uint64("gen", gen).Msg("ignoring stale cue")
		return
	}

	switch {
	case loadErr != nil:
		// the next frame retries from scratch
		d.cueURL = ""
		d.cueReady = false
		if !errors.Is(loadErr, context.Canceled) {
			h.SetSource("")
			d.logger.Warn().Err(loadErr).Str("url", url).Msg("cue failed")
		}
	case seekErr != nil && errors.Is(seekErr, media.ErrSeekTimeout):
		d.cueReady = true
		d.logger.Warn().Err(seekErr).Str("url", url).Msg("standby seek timed out, continuing best effort")
	case seekErr != nil:
		d.cueURL = ""
		d.cueReady = false
		if !errors.Is(seekErr, context.Canceled) {
			h.SetSource("")
			d.logger.Warn().Err(seekErr).Str("url", url).Msg("cue seek failed")
		}
	default:
		d.cueReady = true
		d.logger.Debug().Str("url", url).Float64("position", h.Position()).Msg("standby ready")
	}
}

// Cueing reports the URL being cued and whether it is ready to swap in.
func (d *Deck) Cueing() (url string, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cueURL, d.cueReady
}

// Ready reports whether url has been cued and can be swapped in.
func (d *Deck) Ready(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cueReady && d.cueURL == url
}

// Swap exchanges the active and standby roles and pauses the handle that
// just left the screen.
func (d *Deck) Swap() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.swapped = !d.swapped
	d.cueURL = ""
	d.cueReady = false
	d.cancel = nil
	d.lastCorrection = time.Time{}

	d.handles[1-d.activeIndex()].Pause()
	d.logger.Debug().Str("active", d.handles[d.activeIndex()].Source()).Msg("deck swapped")
}

// Invalidate drops any in-flight or completed cue. Completions of the
// dropped cue are ignored.
func (d *Deck) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.cueGen++
	d.cueURL = ""
	d.cueReady = false
	d.lastCorrection = time.Time{}
}

// SetAudio applies mute and volume to both handles so a pending swap never
// changes what is audible.
func (d *Deck) SetAudio(muted bool, volume float64) {
	d.mu.Lock()
	changed := d.muted != muted || d.volume != volume
	d.muted = muted
	d.volume = volume
	handles := d.handles
	d.mu.Unlock()

	if !changed {
		return
	}
	for _, h := range handles {
		h.SetMuted(muted)
		h.SetVolume(volume)
	}
}

// Sync keeps the active handle at target. Small drift is left alone; a
// hard seek is issued only above the threshold and no more often than the
// minimum correction interval. It returns true when a seek was issued.
func (d *Deck) Sync(target float64, playing bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.handles[d.activeIndex()]
	if h.Source() == "" {
		return false
	}
	if err := h.Err(); err != nil {
		// unload so the next frame cues the clip again from scratch
		d.logger.Warn().Err(err).Str("url", h.Source()).Msg("active handle failed")
		h.Pause()
		h.SetSource("")
		return false
	}
	if h.ReadyState() < media.HaveCurrentData {
		return false
	}

	if h.Rate() != 1 {
		h.SetRate(1)
	}

	if playing && h.Paused() {
		if err := h.Play(); err != nil {
			d.logger.Debug().Err(err).Msg("active play refused")
		}
	} else if !playing && !h.Paused() {
		h.Pause()
	}

	threshold := d.cfg.PausedDriftThreshold
	if playing {
		threshold = d.cfg.PlayingDriftThreshold
	}
	drift := target - h.Position()
	if math.Abs(drift) <= threshold || h.Seeking() {
		return false
	}

	now := d.now()
	if !d.lastCorrection.IsZero() && now.Sub(d.lastCorrection) < d.cfg.MinCorrectionInterval {
		return false
	}

	d.lastCorrection = now
	h.Seek(target)
	d.logger.Trace().Float64("drift", drift).Float64("target", target).Msg("video drift corrected")
	return true
}
