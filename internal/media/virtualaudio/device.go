// Package virtualaudio is a silent audio output. It keeps per-channel
// playheads and gains without producing sound. Headless commands use it,
// and previews fall back to it when no sound device can be opened.
package virtualaudio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/clock"
	"github.com/kikiluvv/previewdeck/internal/media"
)

// Device owns the output's hardware clock and its gesture lock. While
// locked the clock reports unavailable and audible playback is refused.
type Device struct {
	*clock.SystemClock

	logger  zerolog.Logger
	prober  Prober
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	unlocked bool
}

// NewDevice creates an output. A locked device waits for Resume, which the
// engine calls once the user enables audio.
func NewDevice(logger zerolog.Logger, prober Prober, locked bool) *Device {
	sys := clock.NewSystemClock()
	if locked {
		sys = clock.NewSuspendedSystemClock()
	}
	return &Device{
		SystemClock: sys,
		logger:      logger.With().Str("component", "audio").Logger(),
		prober:      prober,
		timeout:     15 * time.Second,
		now:         time.Now,
		unlocked:    !locked,
	}
}

// Resume unlocks the device and starts its clock.
func (d *Device) Resume() {
	d.mu.Lock()
	was := d.unlocked
	d.unlocked = true
	d.mu.Unlock()

	d.SystemClock.Resume()
	if !was {
		d.logger.Info().Msg("audio device unlocked")
	}
}

// Unlocked reports whether audible playback is allowed.
func (d *Device) Unlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unlocked
}

// NewChannel allocates a channel on the device.
func (d *Device) NewChannel() media.Element {
	return &Channel{dev: d, paused: true, rate: 1, volume: 1}
}

// Channel is one playback voice of a Device.
type Channel struct {
	dev *Device

	mu       sync.Mutex
	source   string
	gen      int
	meta     Metadata
	ready    media.ReadyState
	err      error
	base     float64
	playedAt time.Time
	paused   bool
	rate     float64
	muted    bool
	volume   float64
}

func (c *Channel) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

func (c *Channel) SetSource(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.source = url
	c.meta = Metadata{}
	c.ready = media.HaveNothing
	c.err = nil
	c.base = 0
	c.paused = true
	if url == "" {
		return
	}
	go c.load(c.gen, url)
}

func (c *Channel) load(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dev.timeout)
	defer cancel()

	meta, err := Inspect(ctx, c.dev.prober, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err != nil {
		c.err = media.LoadError(url, err)
		c.dev.logger.Warn().Err(err).Str("url", url).Msg("failed to load audio")
		return
	}
	c.meta = meta
	c.ready = media.HaveEnoughData
	c.dev.logger.Debug().
		Str("url", url).
		Float64("duration", meta.Duration).
		Str("title", meta.Title).
		Msg("audio source loaded")
}

func (c *Channel) ReadyState() media.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Metadata returns what is known about the current source.
func (c *Channel) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

func (c *Channel) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Channel) positionLocked() float64 {
	pos := c.base
	if !c.paused {
		pos += c.dev.now().Sub(c.playedAt).Seconds() * c.rate
	}
	if d := c.meta.Duration; d > 0 && pos > d {
		pos = d
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Seek completes immediately; there is nothing to buffer.
func (c *Channel) Seek(pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	c.base = pos
	c.playedAt = c.dev.now()
}

func (c *Channel) Seeking() bool {
	return false
}

// Play starts the playhead. Audible playback on a locked device fails with
// media.ErrAudioUnlockRequired; muted playback is always allowed.
func (c *Channel) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	if !c.muted && !c.dev.Unlocked() {
		return media.ErrAudioUnlockRequired
	}
	if !c.paused {
		return nil
	}
	c.paused = false
	c.playedAt = c.dev.now()
	return nil
}

func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.base = c.positionLocked()
	c.paused = true
}

func (c *Channel) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Channel) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate <= 0 || rate == c.rate {
		return
	}
	c.base = c.positionLocked()
	c.playedAt = c.dev.now()
	c.rate = rate
}

func (c *Channel) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

func (c *Channel) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

func (c *Channel) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Channel) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	c.volume = v
}

func (c *Channel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

var (
	_ media.Element       = (*Channel)(nil)
	_ clock.HardwareClock = (*Device)(nil)
)
