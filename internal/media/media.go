package media

import (
	"context"
	"image"
	"time"
)

// ReadyState mirrors how much of a source a handle has buffered.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (s ReadyState) String() string {
	switch s {
	case HaveMetadata:
		return "metadata"
	case HaveCurrentData:
		return "current"
	case HaveFutureData:
		return "future"
	case HaveEnoughData:
		return "enough"
	}
	return "nothing"
}

// Element is a media decoder handle with its own asynchronous buffering
// and seeking. Implementations must be safe for concurrent use.
type Element interface {
	Source() string
	// SetSource assigns a new URL and starts loading it. An empty URL
	// unloads the element.
	SetSource(url string)
	ReadyState() ReadyState
	// Err returns the last load or decode failure for the current source.
	Err() error

	Position() float64
	// Seek starts an asynchronous seek; Seeking reports true until the
	// element has data at the new position.
	Seek(pos float64)
	Seeking() bool

	// Play may fail with ErrAudioUnlockRequired before a user gesture.
	Play() error
	Pause()
	Paused() bool

	SetRate(rate float64)
	Rate() float64
	SetMuted(muted bool)
	Muted() bool
	SetVolume(volume float64)
	Volume() float64
}

// VideoHandle is an Element that can present its current frame.
type VideoHandle interface {
	Element
	// Frame returns the most recently decoded frame, or nil when nothing
	// has been decoded yet. It never blocks on decoding.
	Frame() image.Image
}

// Event is a condition Await can wait for.
type Event int

const (
	// EventCanPlay fires once enough data is buffered to start playback.
	EventCanPlay Event = iota
	// EventSeeked fires once a pending seek has completed.
	EventSeeked
)

const defaultPoll = 5 * time.Millisecond

// Await blocks until el reaches ev, the element fails, or ctx ends. A
// deadline expiring is reported as ErrSeekTimeout.
func Await(ctx context.Context, el Element, ev Event) error {
	ticker := time.NewTicker(defaultPoll)
	defer ticker.Stop()

	for {
		if err := el.Err(); err != nil {
			return LoadError(el.Source(), err)
		}
		switch ev {
		case EventCanPlay:
			if el.ReadyState() >= HaveFutureData {
				return nil
			}
		case EventSeeked:
			if !el.Seeking() && el.ReadyState() >= HaveCurrentData {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &Error{Op: "await", URL: el.Source(), Kind: ErrSeekTimeout, Err: ctx.Err()}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Prime runs a muted play/pause cycle so the decoder is past any startup
// latency before the element becomes visible or audible.
func Prime(el Element) error {
	muted := el.Muted()
	el.SetMuted(true)
	defer el.SetMuted(muted)

	if err := el.Play(); err != nil {
		return err
	}
	el.Pause()
	return nil
}
