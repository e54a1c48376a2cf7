package overlay

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// maxFaces bounds the face cache; animated scales would otherwise grow it
// without limit.
const maxFaces = 64

type variant int

const (
	regular variant = iota
	bold
	italic
	boldItalic
)

func (v variant) suffix() string {
	switch v {
	case bold:
		return "bold"
	case italic:
		return "italic"
	case boldItalic:
		return "bolditalic"
	}
	return "regular"
}

func variantOf(weight, style string) variant {
	isBold := false
	switch w := strings.ToLower(strings.TrimSpace(weight)); w {
	case "bold", "bolder", "black", "heavy", "semibold", "extrabold":
		isBold = true
	default:
		if n, err := strconv.Atoi(w); err == nil && n >= 600 {
			isBold = true
		}
	}
	s := strings.ToLower(style)
	isItalic := s == "italic" || s == "oblique"

	switch {
	case isBold && isItalic:
		return boldItalic
	case isBold:
		return bold
	case isItalic:
		return italic
	}
	return regular
}

type faceKey struct {
	family  string
	variant variant
	size    int
}

// Fonts parses font files once and caches faces per family, variant and
// pixel size. Families without a configured file use the Go fonts.
type Fonts struct {
	files map[string]string

	mu     sync.Mutex
	parsed map[string]*opentype.Font
	faces  map[faceKey]font.Face
}

// NewFonts creates a font cache. files maps a family name, optionally
// suffixed with "-bold", "-italic" or "-bolditalic", to a TTF/OTF path.
func NewFonts(files map[string]string) *Fonts {
	normalized := make(map[string]string, len(files))
	for k, v := range files {
		normalized[strings.ToLower(k)] = v
	}
	return &Fonts{
		files:  normalized,
		parsed: make(map[string]*opentype.Font),
		faces:  make(map[faceKey]font.Face),
	}
}

// Face returns a face for the given family, weight and style at size px.
func (f *Fonts) Face(family, weight, style string, size float64) (font.Face, error) {
	px := int(math.Round(size))
	if px < 1 {
		px = 1
	}
	key := faceKey{family: strings.ToLower(family), variant: variantOf(weight, style), size: px}

	f.mu.Lock()
	defer f.mu.Unlock()

	if face, ok := f.faces[key]; ok {
		return face, nil
	}

	otf, err := f.fontLocked(key.family, key.variant)
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(otf, &opentype.FaceOptions{
		Size:    float64(px),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create face %s %dpx: %w", family, px, err)
	}

	if len(f.faces) >= maxFaces {
		f.flushLocked()
	}
	f.faces[key] = face
	return face, nil
}

// flushLocked closes and drops every cached face.
func (f *Fonts) flushLocked() {
	for _, face := range f.faces {
		face.Close()
	}
	f.faces = make(map[faceKey]font.Face)
}

func (f *Fonts) fontLocked(family string, v variant) (*opentype.Font, error) {
	path := ""
	if family != "" {
		if p, ok := f.files[family+"-"+v.suffix()]; ok {
			path = p
		} else if p, ok := f.files[family]; ok {
			path = p
		}
	}

	cacheKey := path
	if path == "" {
		cacheKey = "go:" + v.suffix()
	}
	if otf, ok := f.parsed[cacheKey]; ok {
		return otf, nil
	}

	var data []byte
	if path == "" {
		data = builtin(v)
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
		data = b
	}

	otf, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", cacheKey, err)
	}
	f.parsed[cacheKey] = otf
	return otf, nil
}

func builtin(v variant) []byte {
	switch v {
	case bold:
		return gobold.TTF
	case italic:
		return goitalic.TTF
	case boldItalic:
		return gobolditalic.TTF
	}
	return goregular.TTF
}

// measure returns the advance width of s in pixels.
func measure(face font.Face, s string) float64 {
	return fixedToFloat(font.MeasureString(face, s))
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
