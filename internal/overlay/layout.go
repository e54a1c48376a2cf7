package overlay

import (
	"math"
	"strings"

	"golang.org/x/image/font"

	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

const ellipsis = "…"

// Active returns the layers on screen at t in draw order. Layers scaled
// below timeline.MinTextScale are left out entirely.
func Active(layers []timeline.TextLayer, t float64) []timeline.TextLayer {
	var out []timeline.TextLayer
	for _, l := range layers {
		if l.Contains(t) && l.Visible() {
			out = append(out, l)
		}
	}
	return out
}

// Wrap breaks text into at most maxLines lines no wider than maxWidth.
// Explicit newlines always break. Words that do not fit on the last
// allowed line are joined onto it and left for Truncate.
func Wrap(text string, maxWidth float64, maxLines int, autoBreak bool, measure func(string) float64) []string {
	if maxLines < 1 {
		maxLines = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if !autoBreak {
			lines = append(lines, strings.Join(words, " "))
			continue
		}

		cur := ""
		for _, w := range words {
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if cur != "" && measure(candidate) > maxWidth {
				lines = append(lines, cur)
				cur = w
				continue
			}
			cur = candidate
		}
		lines = append(lines, cur)
	}

	if len(lines) > maxLines {
		rest := strings.Join(lines[maxLines-1:], " ")
		lines = append(lines[:maxLines-1], strings.TrimSpace(rest))
	}
	return lines
}

// Truncate drops characters from the end of line until it fits, marking
// the cut with an ellipsis. It returns false when not even the ellipsis
// fits.
func Truncate(line string, maxWidth float64, measure func(string) float64) (string, bool) {
	if measure(line) <= maxWidth {
		return line, true
	}
	runes := []rune(line)
	for n := len(runes) - 1; n >= 0; n-- {
		candidate := strings.TrimRight(string(runes[:n]), " ") + ellipsis
		if measure(candidate) <= maxWidth {
			return candidate, true
		}
	}
	return "", false
}

// Line is one laid out line of text.
type Line struct {
	Text  string
	Width float64
	// X and Baseline are pixel positions inside the frame.
	X, Baseline float64
}

// Layout is the resolved geometry of one text layer on a frame. All
// positions are snapped to whole pixels.
type Layout struct {
	Face       font.Face
	Lines      []Line
	Left, Top  float64
	Width      float64
	Height     float64
	LineHeight float64
	Ascent     float64
	// CenterX and CenterY are the rotation pivot.
	CenterX, CenterY float64
}

// Layout computes the geometry of l on a w×h frame. It returns
// media.ErrLayoutOverflow when the text cannot fit even after truncation.
func (r *Renderer) Layout(l timeline.TextLayer, w, h int) (*Layout, error) {
	size := l.FontSize * l.Scale
	if r.cfg.ReferenceHeight > 0 {
		size *= float64(h) / r.cfg.ReferenceHeight
	}
	face, err := r.fonts.Face(l.FontFamily, l.Weight, l.Style, size)
	if err != nil {
		return nil, err
	}
	measureFn := func(s string) float64 { return measure(face, s) }

	metrics := face.Metrics()
	lineHeight := math.Ceil(fixedToFloat(metrics.Height))
	ascent := math.Ceil(fixedToFloat(metrics.Ascent))
	pad := 0.0
	if l.BgEnabled {
		pad = math.Round(size * r.cfg.PaddingRatio)
	}

	maxWidth := float64(w)*r.cfg.WidthRatio - 2*pad
	wrapped := Wrap(l.Text, maxWidth, l.MaxLines, l.AutoBreak, measureFn)

	lay := &Layout{Face: face, LineHeight: lineHeight, Ascent: ascent}
	for _, text := range wrapped {
		fitted, ok := Truncate(text, maxWidth, measureFn)
		if !ok {
			return nil, &media.Error{Op: "layout", URL: l.ID, Kind: media.ErrLayoutOverflow}
		}
		width := measureFn(fitted)
		lay.Lines = append(lay.Lines, Line{Text: fitted, Width: width})
		lay.Width = math.Max(lay.Width, width)
	}

	lay.Width = math.Ceil(lay.Width + 2*pad)
	lay.Height = lineHeight*float64(len(lay.Lines)) + 2*pad
	if lay.Height > float64(h) || lay.Width > float64(w) {
		return nil, &media.Error{Op: "layout", URL: l.ID, Kind: media.ErrLayoutOverflow}
	}

	lay.Left = math.Round(clampRange(l.X*float64(w)-lay.Width/2, 0, float64(w)-lay.Width))
	lay.Top = math.Round(clampRange(l.Y*float64(h)-lay.Height/2, 0, float64(h)-lay.Height))
	lay.CenterX = math.Round(lay.Left + lay.Width/2)
	lay.CenterY = math.Round(lay.Top + lay.Height/2)

	for i := range lay.Lines {
		ln := &lay.Lines[i]
		ln.X = math.Round(lay.Left + (lay.Width-ln.Width)/2)
		ln.Baseline = math.Round(lay.Top + pad + float64(i)*lineHeight + ascent)
	}
	return lay, nil
}

func clampRange(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
