package clock

import (
	"sync"
	"time"
)

// HardwareClock is a high-resolution clock owned by the audio subsystem.
// ok is false while the clock is unavailable (suspended, not yet unlocked).
type HardwareClock interface {
	Now() (seconds float64, ok bool)
}

// State is a point-in-time snapshot of playback.
type State struct {
	Playing bool
	T       float64
}

// MasterClock is the single source of truth for playback time.
//
// While playing, Now is computed as baseline + (hw - hwAtPlay) from a fixed
// epoch; nothing is ever integrated frame over frame, so polling frequency
// cannot introduce drift.
type MasterClock struct {
	hw HardwareClock

	mu       sync.RWMutex
	playing  bool
	baseline float64
	hwAtPlay float64
	// anchored is false when Play ran while hw was unavailable; the epoch
	// is captured on the first successful hw reading instead
	anchored bool
	// last value handed out while playing; returned when hw is unavailable
	last float64
}

// New creates a paused clock at t=0.
func New(hw HardwareClock) *MasterClock {
	return &MasterClock{hw: hw}
}

// Now returns the current playback time in seconds.
func (c *MasterClock) Now() float64 {
	c.mu.RLock()
	playing, anchored := c.playing, c.anchored
	baseline, hwAtPlay, last := c.baseline, c.hwAtPlay, c.last
	c.mu.RUnlock()

	if !playing {
		return baseline
	}

	hw, ok := c.hw.Now()
	if !ok {
		return last
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing || c.baseline != baseline || c.hwAtPlay != hwAtPlay {
		// a concurrent Play/Pause/Seek won; report its view
		if !c.playing {
			return c.baseline
		}
		return c.last
	}
	if !anchored {
		c.hwAtPlay = hw
		c.anchored = true
		return c.baseline
	}

	t := baseline + (hw - hwAtPlay)
	if t < c.last {
		// time never runs backwards while playing
		t = c.last
	}
	c.last = t
	return t
}

// Play starts advancing from at. If the hardware clock is unavailable the
// clock stays frozen at at until the hardware clock reports again.
func (c *MasterClock) Play(at float64) {
	hw, ok := c.hw.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at < 0 {
		at = 0
	}
	c.baseline = at
	c.last = at
	c.playing = true
	c.anchored = ok
	c.hwAtPlay = hw
}

// Pause folds elapsed time into the baseline and stops advancing.
func (c *MasterClock) Pause() {
	now := c.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseline = now
	c.last = now
	c.playing = false
	c.anchored = false
}

// Seek sets the absolute playback time. A playing clock keeps playing from
// the new position.
func (c *MasterClock) Seek(to float64) {
	c.mu.RLock()
	playing := c.playing
	c.mu.RUnlock()

	if playing {
		c.Play(to)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if to < 0 {
		to = 0
	}
	c.baseline = to
	c.last = to
}

// Playing reports whether the clock is advancing.
func (c *MasterClock) Playing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playing
}

// State returns a consistent snapshot of the clock.
func (c *MasterClock) State() State {
	return State{Playing: c.Playing(), T: c.Now()}
}

// SystemClock is a HardwareClock backed by the monotonic system clock.
// It starts suspended when created with NewSuspendedSystemClock, mirroring
// audio devices that only start after a user gesture.
type SystemClock struct {
	mu        sync.Mutex
	epoch     time.Time
	suspended bool
	// accumulated time from previous running periods
	offset float64
	now    func() time.Time
}

// NewSystemClock creates a running system clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now(), now: time.Now}
}

// NewSuspendedSystemClock creates a clock that reports unavailable until
// Resume is called.
func NewSuspendedSystemClock() *SystemClock {
	c := NewSystemClock()
	c.suspended = true
	return c
}

// Now implements HardwareClock.
func (s *SystemClock) Now() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return s.offset, false
	}
	return s.offset + s.now().Sub(s.epoch).Seconds(), true
}

// Suspend freezes the clock.
func (s *SystemClock) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	s.offset += s.now().Sub(s.epoch).Seconds()
	s.suspended = true
}

// Resume restarts a suspended clock where it left off.
func (s *SystemClock) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return
	}
	s.epoch = s.now()
	s.suspended = false
}
