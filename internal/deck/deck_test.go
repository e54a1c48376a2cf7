package deck

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/media/mediatest"
)

func newTestDeck(t *testing.T) (*Deck, *mediatest.Element, *mediatest.Element) {
	t.Helper()
	a, b := mediatest.NewVideo(), mediatest.NewVideo()
	cfg := DefaultConfig()
	cfg.CueTimeout = time.Second
	return New(zerolog.Nop(), a, b, cfg), a, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// bringUp cues url and swaps it on screen.
func bringUp(t *testing.T, d *Deck, url string, at float64) {
	t.Helper()
	if !d.Cue(url, at) {
		t.Fatalf("cue %s was not started", url)
	}
	waitFor(t, url+" ready", func() bool { return d.Ready(url) })
	d.Swap()
}

func TestCueAndSwapAtomicity(t *testing.T) {
	d, _, _ := newTestDeck(t)
	bringUp(t, d, "a.mp4", 0)
	d.Sync(0, true)

	oldActive := d.Active()
	if oldActive.Source() != "a.mp4" || oldActive.Paused() {
		t.Fatalf("expected a.mp4 playing on the active handle")
	}

	if !d.Cue("b.mp4", 1.25) {
		t.Fatal("expected cue of b.mp4 to start")
	}
	waitFor(t, "b ready", func() bool { return d.Ready("b.mp4") })

	// while cueing, the active handle keeps showing a.mp4
	if d.Active() != oldActive || d.Active().Frame() == nil {
		t.Fatal("active handle must keep presenting during the cue")
	}
	standby := d.Standby()
	if standby.Source() != "b.mp4" || standby.Position() != 1.25 || !standby.Paused() {
		t.Fatalf("standby not primed and seeked: src=%s pos=%v paused=%v",
			standby.Source(), standby.Position(), standby.Paused())
	}

	d.Swap()
	d.Sync(1.25, true)

	if d.Active() != standby {
		t.Fatal("swap did not promote the standby handle")
	}
	if d.Active().Paused() || d.Active().Position() != 1.25 {
		t.Fatalf("new active should play at 1.25, got paused=%v pos=%v", d.Active().Paused(), d.Active().Position())
	}
	if !oldActive.Paused() {
		t.Fatal("previously active handle must be paused after swap")
	}
	if d.Active().Frame() == nil {
		t.Fatal("new active handle must present a frame immediately")
	}
}

func TestCuePrimesStandby(t *testing.T) {
	d, a, b := newTestDeck(t)
	bringUp(t, d, "a.mp4", 0)

	if a.Primes()+b.Primes() == 0 {
		t.Fatal("expected a muted priming play")
	}
	if d.Active().Muted() {
		t.Fatal("prime must restore the mute state")
	}
}

func TestCueDeduplicates(t *testing.T) {
	d, _, _ := newTestDeck(t)
	bringUp(t, d, "a.mp4", 0)

	d.Standby().(*mediatest.Element).LoadDelay = 50 * time.Millisecond
	if !d.Cue("b.mp4", 0) {
		t.Fatal("expected first cue to start")
	}
	if d.Cue("b.mp4", 0) {
		t.Fatal("duplicate cue must be ignored")
	}
	if d.Cue("a.mp4", 0) {
		t.Fatal("cue of the active source must be ignored")
	}
}

func TestCueFailureClearsMarker(t *testing.T) {
	d, _, _ := newTestDeck(t)
	d.handles[0].(*mediatest.Element).FailURLs = map[string]bool{"bad.mp4": true}
	d.handles[1].(*mediatest.Element).FailURLs = map[string]bool{"bad.mp4": true}

	if !d.Cue("bad.mp4", 0) {
		t.Fatal("expected cue to start")
	}
	waitFor(t, "cue marker cleared", func() bool {
		url, _ := d.Cueing()
		return url == ""
	})
	if !d.Cue("bad.mp4", 0) {
		t.Fatal("a failed cue must not block a retry")
	}
}

func TestInvalidateIgnoresStaleCompletion(t *testing.T) {
	d, a, b := newTestDeck(t)
	a.LoadDelay = 30 * time.Millisecond
	b.LoadDelay = 30 * time.Millisecond

	d.Cue("a.mp4", 0)
	d.Invalidate()
	time.Sleep(80 * time.Millisecond)

	if d.Ready("a.mp4") {
		t.Fatal("stale cue must not become ready after invalidation")
	}
	if url, _ := d.Cueing(); url != "" {
		t.Fatalf("expected no cue, got %q", url)
	}
}

// heldSeek blocks seeks to one position until released.
type heldSeek struct {
	*mediatest.Element
	at      float64
	entered chan struct{}
	release chan struct{}
}

func (h *heldSeek) Seek(pos float64) {
	if pos == h.at {
		close(h.entered)
		<-h.release
	}
	h.Element.Seek(pos)
}

func TestSupersededCueLeavesStandbyAlone(t *testing.T) {
	newHeld := func() *heldSeek {
		return &heldSeek{Element: mediatest.NewVideo(), at: 1.0, entered: make(chan struct{}), release: make(chan struct{})}
	}
	a, b := newHeld(), newHeld()
	cfg := DefaultConfig()
	cfg.CueTimeout = time.Second
	d := New(zerolog.Nop(), a, b, cfg)

	d.Cue("old.mp4", 1.0)
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("old cue never reached its seek")
	}

	d.Invalidate()
	if !d.Cue("new.mp4", 5.0) {
		t.Fatal("expected the new cue to start")
	}

	// the new cue waits for the old one to return
	time.Sleep(30 * time.Millisecond)
	if d.Ready("new.mp4") {
		t.Fatal("new cue became ready while the old cue still held the handle")
	}

	close(b.release)
	waitFor(t, "new ready", func() bool { return d.Ready("new.mp4") })
	d.Swap()

	active := d.Active()
	if active.Source() != "new.mp4" || active.Position() != 5.0 {
		t.Fatalf("stale cue moved the standby: src=%s pos=%.2f", active.Source(), active.Position())
	}
}

func TestSeekTimeoutIsBestEffort(t *testing.T) {
	d, _, b := newTestDeck(t)
	d.cfg.CueTimeout = 40 * time.Millisecond
	b.SeekDelay = time.Hour

	d.Cue("slow.mp4", 3)
	waitFor(t, "best effort ready", func() bool { return d.Ready("slow.mp4") })
}

func TestSyncDriftCorrection(t *testing.T) {
	d, _, _ := newTestDeck(t)
	bringUp(t, d, "a.mp4", 0)

	clock := time.Unix(100, 0)
	d.now = func() time.Time { return clock }
	active := d.Active().(*mediatest.Element)
	seeks := active.Seeks()

	// micro drift is left alone
	active.SetPosition(1.9)
	if d.Sync(2.0, true) {
		t.Fatal("0.1s drift while playing must not seek")
	}

	// large drift is corrected once
	active.SetPosition(1.0)
	if !d.Sync(2.0, true) {
		t.Fatal("1s drift must seek")
	}
	if active.Seeks() != seeks+1 || active.Position() != 2.0 {
		t.Fatalf("expected a seek to 2.0, got pos=%v seeks=%d", active.Position(), active.Seeks())
	}

	// within the minimum interval no second correction
	active.SetPosition(1.0)
	if d.Sync(2.0, true) {
		t.Fatal("correction inside the minimum interval")
	}
	clock = clock.Add(200 * time.Millisecond)
	if !d.Sync(2.0, true) {
		t.Fatal("correction expected after the interval")
	}

	// the paused threshold is tighter
	clock = clock.Add(time.Second)
	active.SetPosition(1.9)
	if !d.Sync(2.0, false) {
		t.Fatal("0.1s drift while paused must seek")
	}
	if !active.Paused() {
		t.Fatal("sync must pause the active handle when not playing")
	}
}

func TestSyncRecoversFailedActive(t *testing.T) {
	d, _, _ := newTestDeck(t)
	bringUp(t, d, "a.mp4", 0)

	d.Active().(*mediatest.Element).Fail(mediatest.ErrBroken)
	d.Sync(0.5, true)

	if d.Active().Source() != "" {
		t.Fatal("failed active handle must be unloaded")
	}
	if !d.Cue("a.mp4", 0.5) {
		t.Fatal("expected a fresh cue after failure")
	}
}

func TestSetAudioIsSymmetric(t *testing.T) {
	d, a, b := newTestDeck(t)
	d.SetAudio(true, 0.4)
	if !a.Muted() || !b.Muted() || a.Volume() != 0.4 || b.Volume() != 0.4 {
		t.Fatal("mute and volume must apply to both handles")
	}
}
