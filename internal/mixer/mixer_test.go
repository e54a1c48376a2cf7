package mixer

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/media/mediatest"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

type harness struct {
	m     *Mixer
	els   []*mediatest.Element
	setup func(*mediatest.Element)
	clock time.Time
}

func newHarness(t *testing.T, cfg Config, clips ...timeline.AudioClip) *harness {
	t.Helper()
	h := &harness{clock: time.Unix(1000, 0)}
	resolver := media.ResolverFunc(func(ref timeline.MediaRef) (string, error) {
		return ref.URL, nil
	})
	h.m = New(zerolog.Nop(), resolver, func() media.Element {
		el := mediatest.NewAudio()
		if h.setup != nil {
			h.setup(el)
		}
		h.els = append(h.els, el)
		return el
	}, cfg)
	h.m.now = func() time.Time { return h.clock }
	h.m.SetTimeline(&timeline.Timeline{Audio: clips})
	return h
}

// tick advances the wall clock by one tick interval and runs the mixer.
func (h *harness) tick(t float64, playing bool) {
	h.clock = h.clock.Add(50 * time.Millisecond)
	h.m.Tick(t, playing)
}

func unlockedConfig() Config {
	cfg := DefaultConfig()
	cfg.RequireGesture = false
	return cfg
}

func audioClip(id string, start, dur float64) timeline.AudioClip {
	return timeline.AudioClip{
		Clip:   timeline.Clip{ID: id, Ref: timeline.MediaRef{URL: id + ".mp3"}, Start: start, Duration: dur, Speed: 1},
		Volume: 1,
		Role:   timeline.RoleMusic,
	}
}

func gainOf(m *Mixer, id string) (float64, bool) {
	for _, g := range m.Gains() {
		if g.ClipID == id {
			return g.Gain, true
		}
	}
	return 0, false
}

func TestGainFadeLaws(t *testing.T) {
	c := audioClip("a", 10, 5)
	c.FadeIn = 1
	c.FadeOut = 1

	tests := []struct {
		t    float64
		want float64
	}{
		{10, 0},
		{10.5, 0.5},
		{11, 1},
		{12.5, 1},
		{14.5, 0.5},
		{15, 0},
		{9, 0},
		{16, 0},
	}
	for _, tt := range tests {
		if got := Gain(c, tt.t); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Gain(t=%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestGainClampsVolume(t *testing.T) {
	c := audioClip("a", 0, 5)
	c.Volume = 3
	if got := Gain(c, 1); got != 1 {
		t.Errorf("expected gain clamped to 1, got %v", got)
	}
}

func TestDriftCorrectionIsIdempotent(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))

	h.tick(1.0, true)
	if len(h.els) != 1 {
		t.Fatalf("expected one channel, got %d", len(h.els))
	}
	el := h.els[0]
	if el.Seeks() != 1 || el.Position() != 1.0 {
		t.Fatalf("expected initial seek to 1.0, got pos=%v seeks=%d", el.Position(), el.Seeks())
	}
	if el.Paused() {
		t.Fatal("channel should be playing")
	}

	for i := 0; i < 10; i++ {
		h.tick(1.0, true)
	}
	if el.Seeks() != 1 {
		t.Fatalf("repeated ticks at the same time must not seek again, got %d seeks", el.Seeks())
	}
	if el.Rate() != 1 {
		t.Fatalf("zero drift must leave rate at 1, got %v", el.Rate())
	}
}

func TestSmallDriftNudgesRate(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.tick(1.0, true)
	el := h.els[0]
	seeks := el.Seeks()

	el.SetPosition(0.9)
	h.tick(1.0, true)
	if math.Abs(el.Rate()-1.01) > 1e-9 {
		t.Errorf("a lagging channel should speed up to 1.01, got %v", el.Rate())
	}

	el.SetPosition(1.1)
	h.tick(1.0, true)
	if math.Abs(el.Rate()-0.99) > 1e-9 {
		t.Errorf("a leading channel should slow down to 0.99, got %v", el.Rate())
	}
	if el.Seeks() != seeks {
		t.Errorf("drift below the threshold must not seek")
	}
}

func TestSeekRateLimited(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.tick(1.0, true)
	el := h.els[0]

	el.SetPosition(3)
	h.m.Tick(1.0, true) // same wall time as the first seek
	if el.Seeks() != 1 {
		t.Fatalf("seek inside the minimum interval, got %d seeks", el.Seeks())
	}
	h.tick(1.0, true)
	h.tick(1.0, true)
	if el.Seeks() != 2 || el.Position() != 1.0 {
		t.Fatalf("expected a second seek once the interval passed, got pos=%v seeks=%d", el.Position(), el.Seeks())
	}
}

func TestOverlappingAudio(t *testing.T) {
	a := audioClip("a", 0, 4)
	a.FadeOut = 2
	b := audioClip("b", 2, 4)
	b.FadeIn = 2
	h := newHarness(t, unlockedConfig(), a, b)

	h.tick(3, true)
	if len(h.els) != 2 {
		t.Fatalf("expected two independent channels, got %d", len(h.els))
	}
	ga, okA := gainOf(h.m, "a")
	gb, okB := gainOf(h.m, "b")
	if !okA || !okB {
		t.Fatalf("both channels must be active: %+v", h.m.Gains())
	}
	if math.Abs(ga-0.5) > 1e-9 || math.Abs(gb-0.5) > 1e-9 {
		t.Errorf("expected gains 0.5/0.5, got %v/%v", ga, gb)
	}
	if h.els[0].Position() != 3 || h.els[1].Position() != 1 {
		t.Errorf("channels must seek to their own media time, got %v and %v",
			h.els[0].Position(), h.els[1].Position())
	}
}

func TestInactiveChannelSilencedAndPooled(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 2))

	h.tick(1, true)
	el := h.els[0]
	if el.Paused() {
		t.Fatal("expected channel playing")
	}

	h.tick(3, true)
	if !el.Paused() || el.Volume() != 0 {
		t.Fatalf("inactive channel must be paused and silent, paused=%v vol=%v", el.Paused(), el.Volume())
	}
	if len(h.m.Gains()) != 0 {
		t.Fatalf("no channel should be reported active, got %+v", h.m.Gains())
	}

	h.tick(1, true)
	if len(h.els) != 1 {
		t.Fatalf("returning clip must reuse its pooled channel, got %d channels", len(h.els))
	}
	if el.Paused() {
		t.Fatal("pooled channel should resume")
	}
}

func TestAutoDucking(t *testing.T) {
	music := audioClip("music", 0, 10)
	voice := audioClip("voice", 0, 1)
	voice.Role = timeline.RoleVoice
	h := newHarness(t, unlockedConfig(), music, voice)

	for i := 0; i < 20; i++ {
		h.tick(0.5, true)
	}
	gm, _ := gainOf(h.m, "music")
	gv, _ := gainOf(h.m, "voice")
	if math.Abs(gm-h.m.cfg.DuckLevel) > 1e-9 {
		t.Errorf("music should be ducked to %v, got %v", h.m.cfg.DuckLevel, gm)
	}
	if gv != 1 {
		t.Errorf("voice must not be ducked, got %v", gv)
	}

	for i := 0; i < 20; i++ {
		h.tick(2, true)
	}
	if gm, _ := gainOf(h.m, "music"); math.Abs(gm-1) > 1e-9 {
		t.Errorf("music should recover after the voice ends, got %v", gm)
	}
}

func TestUnlockRequiredAndPrime(t *testing.T) {
	h := newHarness(t, DefaultConfig(), audioClip("a", 0, 10))
	hooks := 0
	h.m.OnUnlock(func() { hooks++ })

	h.tick(1, true)
	el := h.els[0]
	if !el.Paused() {
		t.Fatal("channel must not play before unlock")
	}
	if !h.m.UnlockRequired() {
		t.Fatal("expected unlock to be required")
	}

	h.m.Unlock()
	if hooks != 1 {
		t.Fatalf("expected unlock hook once, got %d", hooks)
	}
	if el.Primes() != 1 || !el.Paused() || el.Muted() {
		t.Fatalf("expected one silent prime, primes=%d paused=%v muted=%v", el.Primes(), el.Paused(), el.Muted())
	}
	if h.m.UnlockRequired() {
		t.Fatal("unlock requirement should be cleared")
	}

	h.tick(1, true)
	if el.Paused() {
		t.Fatal("channel should play after unlock")
	}

	h.m.Unlock()
	if hooks != 1 || el.Primes() != 1 {
		t.Fatal("unlock must only prime once")
	}
}

func TestLockedDeviceSurfacesUnlock(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.setup = func(el *mediatest.Element) { el.Locked = true }

	h.tick(1, true)
	if !h.m.UnlockRequired() {
		t.Fatal("a refused play must surface the unlock requirement")
	}

	h.els[0].Locked = false
	h.m.Unlock()
	h.tick(1, true)
	if h.els[0].Paused() {
		t.Fatal("channel should play once the device is unlocked")
	}
}

func TestSkipsUnbufferedChannel(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.setup = func(el *mediatest.Element) { el.LoadDelay = time.Hour }

	h.tick(1, true)
	el := h.els[0]
	if el.Seeks() != 0 || !el.Paused() {
		t.Fatalf("unbuffered channel must be left alone, seeks=%d paused=%v", el.Seeks(), el.Paused())
	}
	if el.Volume() != 1 {
		t.Errorf("gain should still be applied, got %v", el.Volume())
	}
}

func TestFailedChannelRetries(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.setup = func(el *mediatest.Element) { el.FailURLs = map[string]bool{"a.mp3": true} }

	h.tick(1, true)
	el := h.els[0]
	if el.Volume() != 0 {
		t.Fatalf("failed channel must be silent, got %v", el.Volume())
	}

	h.clock = h.clock.Add(3 * time.Second)
	h.tick(1, true)
	h.tick(1, true)

	loads := 0
	for _, ev := range el.History() {
		if strings.HasPrefix(ev, "load:a.mp3") {
			loads++
		}
	}
	if loads != 2 {
		t.Fatalf("expected the source to be reloaded after the retry interval, got %d loads", loads)
	}
}

func TestSetTimelineDropsRemovedClips(t *testing.T) {
	h := newHarness(t, unlockedConfig(), audioClip("a", 0, 10))
	h.tick(1, true)

	h.m.SetTimeline(&timeline.Timeline{})
	if h.els[0].Source() != "" {
		t.Fatal("channel of a removed clip must be unloaded")
	}
	h.tick(1, true)
	if len(h.m.Gains()) != 0 {
		t.Fatal("no channels expected for an empty timeline")
	}
}

func videoClip(id string, start, dur, srcIn float64, useAudio bool) timeline.VideoClip {
	return timeline.VideoClip{
		Clip:     timeline.Clip{ID: id, Ref: timeline.MediaRef{URL: id + ".mp4"}, Start: start, Duration: dur, SrcIn: srcIn, Speed: 1},
		UseAudio: useAudio,
		Volume:   0.6,
	}
}

func TestVideoSoundtrack(t *testing.T) {
	h := newHarness(t, unlockedConfig())
	h.m.SetTimeline(&timeline.Timeline{Video: []timeline.VideoClip{
		videoClip("loud", 0, 5, 2, true),
		videoClip("quiet", 5, 5, 0, false),
	}})

	h.tick(1, true)
	gain, ok := gainOf(h.m, "loud")
	if !ok || math.Abs(gain-0.6) > 1e-9 {
		t.Fatalf("expected the video's own track at its volume, got %v (active=%v)", gain, ok)
	}
	el := h.els[0]
	if el.Source() != "loud.mp4" || el.Paused() {
		t.Fatalf("soundtrack channel not playing its source: src=%s paused=%v", el.Source(), el.Paused())
	}
	if el.Position() != 3 {
		t.Fatalf("soundtrack must follow the clip's media time, got %v", el.Position())
	}

	h.tick(6, true)
	if _, ok := gainOf(h.m, "quiet"); ok {
		t.Fatal("a video without useAudio must not get a channel")
	}
	if len(h.m.Gains()) != 0 || !el.Paused() {
		t.Fatalf("soundtrack must stop with its clip, gains=%+v", h.m.Gains())
	}
}

func TestVideoSoundtrackDuckedUnderVoice(t *testing.T) {
	cfg := unlockedConfig()
	cfg.DuckRamp = 0
	voice := audioClip("vo", 0, 5)
	voice.Role = timeline.RoleVoice

	h := newHarness(t, cfg)
	h.m.SetTimeline(&timeline.Timeline{
		Video: []timeline.VideoClip{videoClip("v", 0, 5, 0, true)},
		Audio: []timeline.AudioClip{voice},
	})

	h.tick(1, true)
	gain, _ := gainOf(h.m, "v")
	if math.Abs(gain-0.6*cfg.DuckLevel) > 1e-9 {
		t.Fatalf("expected ducked soundtrack %v, got %v", 0.6*cfg.DuckLevel, gain)
	}
}

func TestGainsAtLeavesChannelsAlone(t *testing.T) {
	voice := audioClip("vo", 0, 5)
	voice.Role = timeline.RoleVoice
	h := newHarness(t, unlockedConfig(), audioClip("music", 0, 5), voice)

	got := h.m.GainsAt(1)
	if len(got) != 2 || got[0].ClipID != "music" || got[1].ClipID != "vo" {
		t.Fatalf("unexpected gains %+v", got)
	}
	if math.Abs(got[0].Gain-h.m.cfg.DuckLevel) > 1e-9 || got[1].Gain != 1 {
		t.Fatalf("expected music ducked under voice, got %+v", got)
	}
	if len(h.els) != 0 || !h.m.lastTick.IsZero() || h.m.duck != 1 {
		t.Fatal("GainsAt must not allocate channels or advance the tick state")
	}
}
