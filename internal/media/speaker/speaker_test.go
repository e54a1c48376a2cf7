package speaker

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/ffmpeg"
	"github.com/kikiluvv/previewdeck/internal/media"
)

// rampDecoder returns 10 frames of mono PCM with sample i = i/10.
type rampDecoder struct{}

func (rampDecoder) DecodePCM(ctx context.Context, url string, format ffmpeg.PCMFormat) ([]float32, error) {
	if url == "broken.mp3" {
		return nil, errors.New("invalid data found when processing input")
	}
	pcm := make([]float32, 10*format.Channels)
	for i := range pcm {
		pcm[i] = float32(i/format.Channels) / 10
	}
	return pcm, nil
}

type fakePlayer struct {
	mu       sync.Mutex
	r        io.Reader
	playing  bool
	buffered int
	closed   bool
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

func (p *fakePlayer) BufferedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// pull reads n frames of mono samples from the player's source.
func (p *fakePlayer) pull(t *testing.T, n int) []float32 {
	t.Helper()
	buf := make([]byte, 4*n)
	got, err := p.r.Read(buf)
	if err != nil || got != len(buf) {
		t.Fatalf("read %d bytes, err %v", got, err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func newTestOutput(locked bool) (*Output, *[]*fakePlayer) {
	cfg := DefaultConfig()
	cfg.SampleRate = 10
	cfg.Channels = 1
	cfg.LoadTimeout = time.Second

	var players []*fakePlayer
	o := newOutput(zerolog.Nop(), rampDecoder{}, cfg, locked, func(r io.Reader) player {
		p := &fakePlayer{r: r}
		players = append(players, p)
		return p
	})
	return o, &players
}

func loaded(t *testing.T, el media.Element, url string) {
	t.Helper()
	el.SetSource(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := media.Await(ctx, el, media.EventCanPlay); err != nil {
		t.Fatalf("load %s: %v", url, err)
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestChannelPlaysDecodedSamples(t *testing.T) {
	o, players := newTestOutput(false)
	ch := o.NewChannel()
	p := (*players)[0]
	if !p.playing {
		t.Fatal("player must start with the channel")
	}

	loaded(t, ch, "tone.mp3")
	ch.SetVolume(0.5)
	if err := ch.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	got := p.pull(t, 4)
	want := []float32{0, 0.05, 0.1, 0.15}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("sample %d: got %v want %v", i, got[i], want[i])
		}
	}
	if pos := ch.Position(); math.Abs(pos-0.4) > 1e-9 {
		t.Fatalf("expected position 0.4, got %v", pos)
	}
}

func TestPausedChannelIsSilent(t *testing.T) {
	o, players := newTestOutput(false)
	ch := o.NewChannel()
	loaded(t, ch, "tone.mp3")
	ch.Seek(0.5)

	for _, s := range (*players)[0].pull(t, 3) {
		if s != 0 {
			t.Fatalf("paused channel produced %v", s)
		}
	}
	if ch.Position() != 0.5 {
		t.Fatalf("paused cursor moved to %v", ch.Position())
	}
}

func TestRateResamples(t *testing.T) {
	o, players := newTestOutput(false)
	ch := o.NewChannel()
	loaded(t, ch, "tone.mp3")
	ch.SetRate(1.5)
	ch.Play()

	got := (*players)[0].pull(t, 3)
	want := []float32{0, 0.15, 0.3}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("sample %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestPositionExcludesBufferedAudio(t *testing.T) {
	o, players := newTestOutput(false)
	ch := o.NewChannel()
	p := (*players)[0]
	loaded(t, ch, "tone.mp3")
	ch.Play()

	p.pull(t, 6)
	p.buffered = 2 * 4
	if pos := ch.Position(); math.Abs(pos-0.4) > 1e-9 {
		t.Fatalf("expected 0.4s heard, got %v", pos)
	}
}

func TestLockedOutput(t *testing.T) {
	o, _ := newTestOutput(true)
	if _, ok := o.Now(); ok {
		t.Fatal("locked output clock must be unavailable")
	}

	ch := o.NewChannel()
	loaded(t, ch, "tone.mp3")
	if err := ch.Play(); !errors.Is(err, media.ErrAudioUnlockRequired) {
		t.Fatalf("expected unlock error, got %v", err)
	}
	if err := media.Prime(ch); err != nil {
		t.Fatalf("muted prime must succeed while locked: %v", err)
	}

	o.Resume()
	if _, ok := o.Now(); !ok || !o.Unlocked() {
		t.Fatal("resume must unlock the output and start its clock")
	}
	if err := ch.Play(); err != nil {
		t.Fatalf("Play after resume: %v", err)
	}
}

func TestDecodeFailure(t *testing.T) {
	o, _ := newTestOutput(false)
	ch := o.NewChannel()
	ch.SetSource("broken.mp3")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := media.Await(ctx, ch, media.EventCanPlay)
	if !errors.Is(err, media.ErrMediaLoad) {
		t.Fatalf("expected a load error, got %v", err)
	}
	if ch.Play() == nil {
		t.Fatal("a failed channel must refuse to play")
	}
}

func TestCloseStopsPlayers(t *testing.T) {
	o, players := newTestOutput(false)
	o.NewChannel()
	o.NewChannel()

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, p := range *players {
		if !p.closed {
			t.Fatalf("player %d not closed", i)
		}
	}
}
