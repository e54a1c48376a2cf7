package media

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaLoad covers network and decode failures of a source.
	ErrMediaLoad = errors.New("media load failed")
	// ErrAudioUnlockRequired means playback is blocked until a user gesture.
	ErrAudioUnlockRequired = errors.New("audio playback requires a user gesture")
	// ErrSeekTimeout means a handle never became ready after a cue or seek.
	ErrSeekTimeout = errors.New("media did not become ready in time")
	// ErrLayoutOverflow means text could not fit even after truncation.
	ErrLayoutOverflow = errors.New("text does not fit the frame")
)

// Error carries the operation and source that failed. Both the taxonomy
// sentinel (Kind) and the underlying cause are reachable via errors.Is.
type Error struct {
	Op   string
	URL  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.URL != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// LoadError wraps err as an ErrMediaLoad for url, leaving already
// classified errors untouched.
func LoadError(url string, err error) error {
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return &Error{Op: "load", URL: url, Kind: ErrMediaLoad, Err: err}
}
