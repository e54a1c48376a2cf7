package mixer

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/logging"
	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

// Config tunes the mixer tick and drift correction.
type Config struct {
	TickInterval time.Duration
	// SeekThreshold is the drift in seconds above which a channel is seeked
	// instead of nudged.
	SeekThreshold float64
	// MinSeekInterval is the minimum wall time between seeks of one channel.
	MinSeekInterval time.Duration
	// RateGain converts drift seconds into a playback rate offset.
	RateGain float64
	// RateClamp bounds the rate offset, e.g. 0.01 for 0.99..1.01.
	RateClamp float64
	// DuckLevel is the gain multiplier applied to non-voice audio under voice.
	DuckLevel float64
	// DuckRamp is the time in seconds for a full duck swing.
	DuckRamp float64
	// RequireGesture holds playback until Unlock is called.
	RequireGesture bool
	// RetryInterval is how long a failed channel stays silent before its
	// source is reloaded.
	RetryInterval time.Duration
}

// DefaultConfig returns the standard mixer tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:    50 * time.Millisecond,
		SeekThreshold:   0.15,
		MinSeekInterval: 100 * time.Millisecond,
		RateGain:        0.5,
		RateClamp:       0.01,
		DuckLevel:       0.35,
		DuckRamp:        0.25,
		RequireGesture:  true,
		RetryInterval:   2 * time.Second,
	}
}

// Clock is the read side of the master clock.
type Clock interface {
	Now() float64
	Playing() bool
}

// channel is one pooled audio element bound to a clip id.
type channel struct {
	el       media.Element
	url      string
	active   bool
	gain     float64
	lastSeek time.Time
	lastRate float64
	failedAt time.Time
}

// Mixer keeps one audio element per audio clip in sync with the master
// clock. Channels stay pooled by clip id after their clip ends so a clip
// that comes back does not reload its source.
type Mixer struct {
	logger     zerolog.Logger
	cfg        Config
	resolver   media.Resolver
	newChannel func() media.Element
	now        func() time.Time

	mu             sync.Mutex
	tl             *timeline.Timeline
	pool           map[string]*channel
	unlocked       bool
	unlockRequired bool
	onUnlock       func()
	duck           float64
	lastTick       time.Time
}

// New creates a mixer. newChannel allocates a fresh audio element whenever
// a clip is heard for the first time.
func New(logger zerolog.Logger, resolver media.Resolver, newChannel func() media.Element, cfg Config) *Mixer {
	return &Mixer{
		logger:     logger.With().Str("component", "mixer").Logger(),
		cfg:        cfg,
		resolver:   resolver,
		newChannel: newChannel,
		now:        time.Now,
		pool:       make(map[string]*channel),
		unlocked:   !cfg.RequireGesture,
		duck:       1,
	}
}

// OnUnlock registers fn to run once audio has been unlocked.
func (m *Mixer) OnUnlock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnlock = fn
}

// SetTimeline swaps the clip list. Channels of clips that no longer exist
// are unloaded and dropped from the pool.
func (m *Mixer) SetTimeline(tl *timeline.Timeline) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tl = tl
	keep := make(map[string]bool)
	if tl != nil {
		for _, c := range tl.Audio {
			keep[c.ID] = true
		}
		for _, c := range tl.Video {
			if c.UseAudio {
				keep[c.ID] = true
			}
		}
	}
	for id, ch := range m.pool {
		if keep[id] {
			continue
		}
		ch.el.Pause()
		ch.el.SetSource("")
		delete(m.pool, id)
	}
}

// Gain returns the fade law of c at timeline time t: volume scaled by a
// linear fade-in from the clip start and a linear fade-out to its end.
func Gain(c timeline.AudioClip, t float64) float64 {
	local := c.Local(t)
	if local < 0 || local > c.Duration {
		return 0
	}

	g := c.Volume
	if c.FadeIn > 0 && local < c.FadeIn {
		g *= local / c.FadeIn
	}
	if rem := c.Duration - local; c.FadeOut > 0 && rem < c.FadeOut {
		g *= rem / c.FadeOut
	}
	return clamp(g, 0, 1)
}

// Soundtrack is the audio clip that carries a video clip's own audio
// track. It shares the video's id, timing and source and is ducked like
// music.
func Soundtrack(v timeline.VideoClip) timeline.AudioClip {
	return timeline.AudioClip{Clip: v.Clip, Volume: v.Volume, Role: timeline.RoleMusic}
}

// Tick runs one mixer step for timeline time t.
func (m *Mixer) Tick(t float64, playing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dt := 0.0
	if !m.lastTick.IsZero() {
		dt = clamp(now.Sub(m.lastTick).Seconds(), 0, 0.5)
	}
	m.lastTick = now

	clips := m.clipsAt(t)
	m.stepDuck(voiceActive(clips, t), dt)

	seen := make(map[string]bool, len(clips))
	for _, c := range clips {
		seen[c.ID] = true
		logging.Guard(m.logger, "mix clip "+c.ID, func() {
			m.syncClip(c, t, playing, now)
		})
	}

	for id, ch := range m.pool {
		if seen[id] || !ch.active {
			continue
		}
		ch.el.Pause()
		ch.el.SetVolume(0)
		ch.gain = 0
		ch.active = false
		m.logger.Debug().Str("clip", id).Msg("channel silenced")
	}
}

// clipsAt returns every audible clip at t, including the soundtrack of the
// video on screen.
func (m *Mixer) clipsAt(t float64) []timeline.AudioClip {
	if m.tl == nil {
		return nil
	}
	clips := m.tl.AudioAt(t)
	if v, ok := m.tl.VideoAudioAt(t); ok {
		clips = append(clips, Soundtrack(*v))
	}
	return clips
}

func voiceActive(clips []timeline.AudioClip, t float64) bool {
	for _, c := range clips {
		if c.Role == timeline.RoleVoice && Gain(c, t) > 0 {
			return true
		}
	}
	return false
}

func (m *Mixer) stepDuck(voice bool, dt float64) {
	target := 1.0
	if voice {
		target = m.cfg.DuckLevel
	}
	if m.cfg.DuckRamp <= 0 {
		m.duck = target
		return
	}
	step := dt * (1 - m.cfg.DuckLevel) / m.cfg.DuckRamp
	if m.duck < target {
		m.duck = math.Min(target, m.duck+step)
	} else {
		m.duck = math.Max(target, m.duck-step)
	}
}

func (m *Mixer) syncClip(c timeline.AudioClip, t float64, playing bool, now time.Time) {
	ch, ok := m.pool[c.ID]
	if !ok {
		ch = &channel{el: m.newChannel()}
		m.pool[c.ID] = ch
	}
	ch.active = true

	url, err := m.resolver.Resolve(c.Ref)
	if err != nil {
		m.silence(ch)
		m.logger.Debug().Err(err).Str("clip", c.ID).Msg("audio clip unresolved")
		return
	}
	if ch.url != url {
		ch.el.SetSource(url)
		ch.url = url
		ch.lastSeek = time.Time{}
		ch.lastRate = 0
		ch.failedAt = time.Time{}
	}

	if err := ch.el.Err(); err != nil {
		m.silence(ch)
		if ch.failedAt.IsZero() {
			ch.failedAt = now
			m.logger.Warn().Err(media.LoadError(url, err)).Str("clip", c.ID).Msg("audio channel failed")
		} else if now.Sub(ch.failedAt) >= m.cfg.RetryInterval {
			// reloaded on the next tick
			ch.url = ""
		}
		return
	}

	gain := Gain(c, t)
	if c.Role != timeline.RoleVoice {
		gain *= m.duck
	}
	ch.gain = gain
	if ch.el.Volume() != gain {
		ch.el.SetVolume(gain)
	}

	if ch.el.ReadyState() < media.HaveCurrentData {
		return
	}

	speed := c.Speed
	if speed <= 0 {
		speed = 1
	}
	target := c.MediaTime(t)
	drift := target - ch.el.Position()

	switch {
	case math.Abs(drift) > m.cfg.SeekThreshold:
		if ch.lastSeek.IsZero() || now.Sub(ch.lastSeek) >= m.cfg.MinSeekInterval {
			ch.el.Seek(target)
			ch.lastSeek = now
			m.setRate(ch, speed)
			m.logger.Trace().Str("clip", c.ID).Float64("drift", drift).Msg("audio drift seek")
		}
	case playing && !c.Reverse:
		// behind the target (positive drift) plays slightly faster
		nudge := clamp(m.cfg.RateGain*drift, -m.cfg.RateClamp, m.cfg.RateClamp)
		m.setRate(ch, speed*(1+nudge))
	}

	switch {
	case playing && ch.el.Paused():
		m.play(ch, c.ID)
	case !playing && !ch.el.Paused():
		ch.el.Pause()
	}
}

func (m *Mixer) setRate(ch *channel, rate float64) {
	if math.Abs(rate-ch.lastRate) < 1e-4 {
		return
	}
	ch.el.SetRate(rate)
	ch.lastRate = rate
}

func (m *Mixer) silence(ch *channel) {
	ch.gain = 0
	ch.el.SetVolume(0)
	if !ch.el.Paused() {
		ch.el.Pause()
	}
}

func (m *Mixer) play(ch *channel, id string) {
	if !m.unlocked {
		m.requireUnlock()
		return
	}
	if err := ch.el.Play(); err != nil {
		if errors.Is(err, media.ErrAudioUnlockRequired) {
			m.unlocked = false
			m.requireUnlock()
			return
		}
		m.logger.Debug().Err(err).Str("clip", id).Msg("audio play refused")
	}
}

func (m *Mixer) requireUnlock() {
	if m.unlockRequired {
		return
	}
	m.unlockRequired = true
	m.logger.Warn().Err(media.ErrAudioUnlockRequired).Msg("audio is locked until the user enables it")
}

// UnlockRequired reports whether playback was held back waiting for Unlock.
func (m *Mixer) UnlockRequired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockRequired && !m.unlocked
}

// Unlock is called from a user gesture. It primes every pooled channel
// silently once and then runs the unlock hook.
func (m *Mixer) Unlock() {
	m.mu.Lock()
	if m.unlocked && !m.unlockRequired {
		m.mu.Unlock()
		return
	}
	m.unlocked = true
	m.unlockRequired = false
	for id, ch := range m.pool {
		if ch.url == "" {
			continue
		}
		if err := media.Prime(ch.el); err != nil {
			m.logger.Debug().Err(err).Str("clip", id).Msg("channel prime failed")
		}
	}
	hook := m.onUnlock
	m.mu.Unlock()

	m.logger.Info().Msg("audio unlocked")
	if hook != nil {
		hook()
	}
}

// Unlocked reports whether audio playback is allowed.
func (m *Mixer) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// ChannelGain is a snapshot of one active channel.
type ChannelGain struct {
	ClipID string
	Gain   float64
	Rate   float64
}

// Gains returns the gains of the active channels ordered by clip id.
func (m *Mixer) Gains() []ChannelGain {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ChannelGain, 0, len(m.pool))
	for id, ch := range m.pool {
		if !ch.active {
			continue
		}
		out = append(out, ChannelGain{ClipID: id, Gain: ch.gain, Rate: ch.el.Rate()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClipID < out[j].ClipID })
	return out
}

// GainsAt computes the gains the channels would settle on at t, with the
// duck fully applied. It does not touch any channel or the tick state.
func (m *Mixer) GainsAt(t float64) []ChannelGain {
	m.mu.Lock()
	defer m.mu.Unlock()

	clips := m.clipsAt(t)
	duck := 1.0
	if voiceActive(clips, t) {
		duck = m.cfg.DuckLevel
	}

	out := make([]ChannelGain, 0, len(clips))
	for _, c := range clips {
		gain := Gain(c, t)
		if c.Role != timeline.RoleVoice {
			gain *= duck
		}
		rate := c.Speed
		if rate <= 0 {
			rate = 1
		}
		out = append(out, ChannelGain{ClipID: c.ID, Gain: gain, Rate: rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClipID < out[j].ClipID })
	return out
}

// Run ticks the mixer against clk until ctx is done.
func (m *Mixer) Run(ctx context.Context, clk Clock) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-ticker.C:
			m.Tick(clk.Now(), clk.Playing())
		}
	}
}

// Close pauses every channel.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.pool {
		ch.el.Pause()
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
