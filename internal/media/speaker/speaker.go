// Package speaker plays mixer channels through the system audio device.
// Sources are decoded to PCM by ffmpeg once, then every channel is a
// player on a shared oto context that resamples its buffer at the channel
// rate and applies its volume.
package speaker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/clock"
	"github.com/kikiluvv/previewdeck/internal/ffmpeg"
	"github.com/kikiluvv/previewdeck/internal/media"
)

// Decoder turns a source into interleaved float32 PCM.
type Decoder interface {
	DecodePCM(ctx context.Context, url string, format ffmpeg.PCMFormat) ([]float32, error)
}

// Config selects the output format and latency.
type Config struct {
	SampleRate int
	Channels   int
	// Buffer is the device buffer; it bounds the latency of seeks and
	// volume changes.
	Buffer      time.Duration
	LoadTimeout time.Duration
}

// DefaultConfig returns 48 kHz stereo with a 50 ms buffer.
func DefaultConfig() Config {
	return Config{
		SampleRate:  48000,
		Channels:    2,
		Buffer:      50 * time.Millisecond,
		LoadTimeout: 60 * time.Second,
	}
}

// player is the part of *oto.Player a channel drives.
type player interface {
	Play()
	BufferedSize() int
	Close() error
}

// Output owns the oto context, the hardware clock and the gesture lock.
type Output struct {
	*clock.SystemClock

	logger    zerolog.Logger
	decoder   Decoder
	cfg       Config
	format    ffmpeg.PCMFormat
	ctx       *oto.Context
	newPlayer func(io.Reader) player

	mu       sync.Mutex
	unlocked bool
	channels []*Channel
}

// Open creates the oto context. A locked output keeps the device and its
// clock suspended until Resume.
func Open(logger zerolog.Logger, decoder Decoder, cfg Config, locked bool) (*Output, error) {
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.Buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	o := newOutput(logger, decoder, cfg, locked, func(r io.Reader) player {
		return octx.NewPlayer(r)
	})
	o.ctx = octx
	if locked {
		if err := octx.Suspend(); err != nil {
			o.logger.Debug().Err(err).Msg("failed to suspend audio device")
		}
	}
	o.logger.Info().
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Dur("buffer", cfg.Buffer).
		Msg("audio device opened")
	return o, nil
}

func newOutput(logger zerolog.Logger, decoder Decoder, cfg Config, locked bool, newPlayer func(io.Reader) player) *Output {
	sys := clock.NewSystemClock()
	if locked {
		sys = clock.NewSuspendedSystemClock()
	}
	return &Output{
		SystemClock: sys,
		logger:      logger.With().Str("component", "speaker").Logger(),
		decoder:     decoder,
		cfg:         cfg,
		format:      ffmpeg.PCMFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		newPlayer:   newPlayer,
		unlocked:    !locked,
	}
}

// Resume unlocks the output, starts the device and the clock.
func (o *Output) Resume() {
	o.mu.Lock()
	was := o.unlocked
	o.unlocked = true
	o.mu.Unlock()

	if o.ctx != nil {
		if err := o.ctx.Resume(); err != nil {
			o.logger.Warn().Err(err).Msg("failed to resume audio device")
		}
	}
	o.SystemClock.Resume()
	if !was {
		o.logger.Info().Msg("audio output unlocked")
	}
}

// Unlocked reports whether audible playback is allowed.
func (o *Output) Unlocked() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unlocked
}

// NewChannel allocates a player on the device.
func (o *Output) NewChannel() media.Element {
	c := &Channel{out: o, paused: true, rate: 1, volume: 1}
	c.player = o.newPlayer(voice{c})
	// the player runs for the channel's lifetime and reads silence while
	// the channel is paused
	c.player.Play()

	o.mu.Lock()
	o.channels = append(o.channels, c)
	o.mu.Unlock()
	return c
}

// Close stops every player and suspends the device.
func (o *Output) Close() error {
	o.mu.Lock()
	channels := o.channels
	o.channels = nil
	o.mu.Unlock()

	for _, c := range channels {
		if err := c.player.Close(); err != nil {
			o.logger.Debug().Err(err).Msg("failed to close player")
		}
	}
	if o.ctx != nil {
		return o.ctx.Suspend()
	}
	return nil
}

var (
	_ clock.HardwareClock = (*Output)(nil)
	_ player              = (*oto.Player)(nil)
)
