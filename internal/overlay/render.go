// Package overlay lays out and draws timed text layers, including karaoke
// highlighting, on top of a composited frame.
package overlay

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/logging"
	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

// maxStroke bounds the outline radius in pixels.
const maxStroke = 8

// Config controls text layout.
type Config struct {
	// Fonts maps family names to font files.
	Fonts map[string]string
	// WidthRatio is the share of the frame width text may occupy.
	WidthRatio float64
	// PaddingRatio is the background padding relative to the font size.
	PaddingRatio float64
	// ReferenceHeight, when set, is the frame height at which font sizes
	// are given; sizes scale with the actual frame height.
	ReferenceHeight float64
}

// DefaultConfig returns the standard layout settings.
func DefaultConfig() Config {
	return Config{
		WidthRatio:   0.9,
		PaddingRatio: 0.25,
	}
}

// Renderer draws text layers. It keeps per-layer karaoke state and must be
// used from a single goroutine.
type Renderer struct {
	logger zerolog.Logger
	cfg    Config
	fonts  *Fonts
	passes map[string]*karaokePass
}

// NewRenderer creates a text renderer.
func NewRenderer(logger zerolog.Logger, cfg Config) *Renderer {
	if cfg.WidthRatio <= 0 {
		cfg.WidthRatio = 0.9
	}
	return &Renderer{
		logger: logger.With().Str("component", "overlay").Logger(),
		cfg:    cfg,
		fonts:  NewFonts(cfg.Fonts),
		passes: make(map[string]*karaokePass),
	}
}

// Reset forgets karaoke progress, e.g. after a seek.
func (r *Renderer) Reset() {
	r.passes = make(map[string]*karaokePass)
}

// Render draws every layer active at t onto dst.
func (r *Renderer) Render(dst *image.RGBA, layers []timeline.TextLayer, t float64) {
	active := Active(layers, t)

	seen := make(map[string]bool, len(active))
	for _, l := range active {
		seen[l.ID] = true
	}
	for id := range r.passes {
		if !seen[id] {
			delete(r.passes, id)
		}
	}
	if len(active) == 0 {
		return
	}

	dc := gg.NewContextForRGBA(dst)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for _, l := range active {
		logging.Guard(r.logger, "text layer "+l.ID, func() {
			if err := r.draw(dc, l, t, w, h); err != nil {
				if errors.Is(err, media.ErrLayoutOverflow) {
					r.logger.Debug().Str("layer", l.ID).Msg("text layer skipped, does not fit")
					return
				}
				r.logger.Warn().Err(err).Str("layer", l.ID).Msg("text layer failed")
			}
		})
	}
}

func (r *Renderer) draw(dc *gg.Context, l timeline.TextLayer, t float64, w, h int) error {
	lay, err := r.Layout(l, w, h)
	if err != nil {
		return err
	}

	dc.Push()
	defer dc.Pop()
	if l.Rotate != 0 {
		dc.RotateAbout(gg.Radians(l.Rotate), lay.CenterX, lay.CenterY)
	}
	dc.SetFontFace(lay.Face)

	if l.BgEnabled {
		dc.SetColor(withOpacity(colorOr(l.BgColor, color.NRGBA{A: 255}), l.BgOpacity))
		dc.DrawRectangle(lay.Left, lay.Top, lay.Width, lay.Height)
		dc.Fill()
	}

	fill := colorOr(l.Fill, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	stroke := 0
	if l.StrokeWidth > 0 && l.Stroke != "" {
		stroke = int(math.Min(maxStroke, math.Round(l.StrokeWidth*l.Scale)))
	}
	strokeColor := colorOr(l.Stroke, color.NRGBA{A: 255})

	if l.KaraokeEnabled && len(lay.Lines) == 1 {
		r.drawKaraoke(dc, l, lay, t, fill, strokeColor, stroke)
		return nil
	}

	for _, ln := range lay.Lines {
		drawText(dc, ln.Text, ln.X, ln.Baseline, fill, strokeColor, stroke)
	}
	return nil
}

func (r *Renderer) drawKaraoke(dc *gg.Context, l timeline.TextLayer, lay *Layout, t float64, fill, strokeColor color.NRGBA, stroke int) {
	ln := lay.Lines[0]
	local := t - l.Start

	pass, ok := r.passes[l.ID]
	if !ok {
		pass = &karaokePass{}
		r.passes[l.ID] = pass
	}
	boundary := pass.advance(ln.Text, local, KaraokeBoundary(ln.Text, l.WordTiming, local, l.Duration))

	runes := []rune(ln.Text)
	done, rest := string(runes[:boundary]), string(runes[boundary:])
	doneWidth := math.Round(measure(lay.Face, done))

	highlight := colorOr(l.KaraokeBg, color.NRGBA{R: 255, G: 212, A: 255})
	if boundary > 0 {
		dc.SetColor(withOpacity(highlight, l.KaraokeOpacity))
		dc.DrawRectangle(ln.X, ln.Baseline-lay.Ascent, doneWidth, lay.LineHeight)
		dc.Fill()
	}

	doneFill := contrast(highlight)
	if l.KaraokeFill != "" {
		doneFill = colorOr(l.KaraokeFill, doneFill)
	}
	drawText(dc, done, ln.X, ln.Baseline, doneFill, strokeColor, stroke)
	drawText(dc, rest, ln.X+doneWidth, ln.Baseline, fill, strokeColor, stroke)
}

// drawText draws s with its baseline at (x, y), outlined by stroke pixels.
func drawText(dc *gg.Context, s string, x, y float64, fill, strokeColor color.NRGBA, stroke int) {
	if s == "" {
		return
	}
	if stroke > 0 {
		dc.SetColor(strokeColor)
		for dy := -stroke; dy <= stroke; dy++ {
			for dx := -stroke; dx <= stroke; dx++ {
				if dx == 0 && dy == 0 || dx*dx+dy*dy > stroke*stroke {
					continue
				}
				dc.DrawString(s, x+float64(dx), y+float64(dy))
			}
		}
	}
	dc.SetColor(fill)
	dc.DrawString(s, x, y)
}
