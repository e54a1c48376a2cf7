package overlay

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

var named = map[string]color.RGBA{
	"white":       {255, 255, 255, 255},
	"black":       {0, 0, 0, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and a few
// common color names. The result is not premultiplied.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[s]; ok {
		return color.NRGBA(c), nil
	}

	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgba("), strings.HasPrefix(s, "rgb("):
		return parseFunc(s)
	}
	return color.NRGBA{}, fmt.Errorf("unsupported color %q", s)
}

func parseHex(hex string) (color.NRGBA, error) {
	c := color.NRGBA{A: 255}
	var err error
	switch len(hex) {
	case 3:
		_, err = fmt.Sscanf(hex, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R *= 17
		c.G *= 17
		c.B *= 17
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return c, fmt.Errorf("invalid hex color #%s", hex)
	}
	if err != nil {
		return c, fmt.Errorf("invalid hex color #%s: %w", hex, err)
	}
	return c, nil
}

func parseFunc(s string) (color.NRGBA, error) {
	open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	parts := strings.Split(s[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}

	var v [4]float64
	v[3] = 1
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &v[i]); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
	}
	return color.NRGBA{
		R: channel(v[0]),
		G: channel(v[1]),
		B: channel(v[2]),
		A: channel(v[3] * 255),
	}, nil
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// withOpacity multiplies the alpha of c by opacity in [0,1].
func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	opacity = math.Max(0, math.Min(1, opacity))
	c.A = uint8(math.Round(float64(c.A) * opacity))
	return c
}

// contrast picks black or white text for legibility over bg.
func contrast(bg color.NRGBA) color.NRGBA {
	lum := 0.2126*float64(bg.R) + 0.7152*float64(bg.G) + 0.0722*float64(bg.B)
	if lum > 140 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
}

func colorOr(s string, fallback color.NRGBA) color.NRGBA {
	if s == "" {
		return fallback
	}
	c, err := ParseColor(s)
	if err != nil {
		return fallback
	}
	return c
}
