package engine

import (
	"image/color"

	"github.com/kikiluvv/previewdeck/internal/compositor"
	"github.com/kikiluvv/previewdeck/internal/deck"
	"github.com/kikiluvv/previewdeck/internal/mixer"
	"github.com/kikiluvv/previewdeck/internal/overlay"
)

// Config holds the tuning of one preview session
type Config struct {
	Width      int
	Height     int
	FPS        float64
	Background color.Color
	Fit        compositor.Fit
	// CueLookahead is how many seconds ahead the next video clip is cued.
	CueLookahead float64

	Deck  deck.Config
	Mixer mixer.Config
	Text  overlay.Config
}

// DefaultConfig returns a 720p, 30fps session
func DefaultConfig() Config {
	return Config{
		Width:        1280,
		Height:       720,
		FPS:          30,
		Background:   color.Black,
		Fit:          compositor.FitContain,
		CueLookahead: 1,
		Deck:         deck.DefaultConfig(),
		Mixer:        mixer.DefaultConfig(),
		Text:         overlay.DefaultConfig(),
	}
}
