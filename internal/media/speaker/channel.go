package speaker

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

// Channel is one voice of an Output. Its playhead is a cursor into the
// decoded buffer in source frames; the device pulls samples from it.
type Channel struct {
	out    *Output
	player player

	mu     sync.Mutex
	source string
	gen    int
	ready  media.ReadyState
	err    error
	pcm    []float32
	cursor float64
	paused bool
	rate   float64
	muted  bool
	volume float64
}

// voice adapts a channel to the io.Reader the player pulls from. The
// player calls Read while holding its own lock, so the channel never calls
// into the player with c.mu held.
type voice struct {
	c *Channel
}

func (v voice) Read(p []byte) (int, error) {
	return v.c.fill(p), nil
}

// fill writes as many whole frames as fit in p and advances the cursor
// when playing.
func (c *Channel) fill(p []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := c.out.format.Channels
	frames := len(p) / c.out.format.BytesPerFrame()
	total := len(c.pcm) / channels

	gain := float32(c.volume)
	if c.muted {
		gain = 0
	}

	for i := 0; i < frames; i++ {
		pos := int(c.cursor)
		audible := !c.paused && c.ready >= media.HaveCurrentData && pos < total
		frac := float32(c.cursor - float64(pos))
		for k := 0; k < channels; k++ {
			var s float32
			if audible {
				s = c.pcm[pos*channels+k]
				if pos+1 < total {
					s += (c.pcm[(pos+1)*channels+k] - s) * frac
				}
				s *= gain
			}
			binary.LittleEndian.PutUint32(p[(i*channels+k)*4:], math.Float32bits(s))
		}
		if audible {
			c.cursor += c.rate
		}
	}
	return frames * c.out.format.BytesPerFrame()
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
	c.ready = media.HaveNothing
	c.err = nil
	c.pcm = nil
	c.cursor = 0
	c.paused = true
	if url == "" {
		return
	}
	go c.load(c.gen, url)
}

func (c *Channel) load(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.out.cfg.LoadTimeout)
	defer cancel()

	pcm, err := c.out.decoder.DecodePCM(ctx, url, c.out.format)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err != nil {
		c.err = media.LoadError(url, err)
		c.out.logger.Warn().Err(err).Str("url", url).Msg("failed to decode audio")
		return
	}
	c.pcm = pcm
	c.ready = media.HaveEnoughData

	seconds := float64(len(pcm)/c.out.format.Channels) / float64(c.out.format.SampleRate)
	c.out.logger.Debug().
		Str("url", url).
		Str("duration", util.FormatDuration(time.Duration(seconds*float64(time.Second)))).
		Msg("audio source decoded")
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

// Position is the cursor minus what the device has buffered but not yet
// played.
func (c *Channel) Position() float64 {
	buffered := c.player.BufferedSize() / c.out.format.BytesPerFrame()

	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.cursor
	if !c.paused {
		pos -= float64(buffered) * c.rate
	}
	if pos < 0 {
		pos = 0
	}
	return pos / float64(c.out.format.SampleRate)
}

// Seek moves the cursor; decoded sources need no buffering.
func (c *Channel) Seek(pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	c.cursor = pos * float64(c.out.format.SampleRate)
}

func (c *Channel) Seeking() bool {
	return false
}

// Play fails with media.ErrAudioUnlockRequired while the output is locked,
// unless the channel is muted.
func (c *Channel) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	if !c.muted && !c.out.Unlocked() {
		return media.ErrAudioUnlockRequired
	}
	c.paused = false
	return nil
}

func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
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
	if rate > 0 {
		c.rate = rate
	}
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
	c.volume = math.Max(0, math.Min(1, v))
}

func (c *Channel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

var _ media.Element = (*Channel)(nil)
