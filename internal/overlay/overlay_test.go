package overlay

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"

	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

// mono measures every rune as 10px.
func mono(s string) float64 {
	return float64(len([]rune(s))) * 10
}

func helloWorld() timeline.TextLayer {
	return timeline.TextLayer{
		ID:       "t1",
		Text:     "hello world",
		Start:    0,
		Duration: 2,
		X:        0.5,
		Y:        0.5,
		FontSize: 24,
		Scale:    1,
		MaxLines: 2,
		Fill:     "#ffffff",

		AutoBreak:      true,
		KaraokeEnabled: true,
		KaraokeBg:      "#ffd400",
		KaraokeOpacity: 1,
		WordTiming: []timeline.WordTiming{
			{Word: "hello", Start: 0, End: 1},
			{Word: "world", Start: 1, End: 2},
		},
	}
}

func TestKaraokeScenario(t *testing.T) {
	l := helloWorld()

	got := KaraokeBoundary(l.Text, l.WordTiming, 0.5, l.Duration)
	if got < 2 || got > 3 {
		t.Errorf("at 0.5s expected 2-3 chars of hello, got %d", got)
	}

	got = KaraokeBoundary(l.Text, l.WordTiming, 1.5, l.Duration)
	if got <= len("hello ") || got >= len("hello world") {
		t.Errorf("at 1.5s expected hello plus part of world, got %d", got)
	}

	if got := KaraokeBoundary(l.Text, l.WordTiming, 2, l.Duration); got != len(l.Text) {
		t.Errorf("at the end everything is highlighted, got %d", got)
	}
	if got := KaraokeBoundary(l.Text, l.WordTiming, 0, l.Duration); got != 0 {
		t.Errorf("nothing highlighted at the start, got %d", got)
	}
}

func TestKaraokeUniformFallback(t *testing.T) {
	if got := KaraokeBoundary("abcdefghij", nil, 1, 2); got != 5 {
		t.Errorf("expected half of 10 chars, got %d", got)
	}
	if got := KaraokeBoundary("abcdefghij", nil, 5, 2); got != 10 {
		t.Errorf("expected full line past the end, got %d", got)
	}
}

func TestKaraokeRescalesEditedText(t *testing.T) {
	timing := []timeline.WordTiming{
		{Word: "hello", Start: 0, End: 1},
		{Word: "world", Start: 1, End: 2},
	}
	// three displayed words share the two timed words proportionally
	text := "hey there world"
	mid := KaraokeBoundary(text, timing, 1.0, 2)
	if mid < len("hey ") || mid > len("hey there") {
		t.Errorf("expected the middle word at the midpoint, got %d", mid)
	}
	if got := KaraokeBoundary(text, timing, 2, 2); got != len(text) {
		t.Errorf("expected full line at the end, got %d", got)
	}

	got := rescale(timing, 4)
	want := []timeline.WordTiming{{Start: 0, End: 0.5}, {Start: 0.5, End: 1}, {Start: 1, End: 1.5}, {Start: 1.5, End: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rescale() = %+v, want %+v", got, want)
	}
}

func TestKaraokeMonotonic(t *testing.T) {
	// imprecise timing whose words overlap and go backwards
	timing := []timeline.WordTiming{
		{Start: 0, End: 1.2},
		{Start: 0.8, End: 1.0},
		{Start: 1.0, End: 2},
	}
	text := "one two three"
	var pass karaokePass

	last := 0
	for local := 0.0; local <= 2.0; local += 0.05 {
		b := pass.advance(text, local, KaraokeBoundary(text, timing, local, 2))
		if b < last {
			t.Fatalf("boundary went backwards at %.2f: %d < %d", local, b, last)
		}
		last = b
	}

	if b := pass.advance(text, 0.1, KaraokeBoundary(text, timing, 0.1, 2)); b >= last {
		t.Errorf("seeking back must start a new pass, got %d", b)
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLines  int
		autoBreak bool
		want      []string
	}{
		{"fits", "hello world", 2, true, []string{"hello world"}},
		{"breaks", "the quick brown fox", 2, true, []string{"the quick", "brown fox"}},
		{"joins overflow into last line", "aa bb cc dd ee ff gg hh", 2, true, []string{"aa bb cc", "dd ee ff gg hh"}},
		{"explicit newline", "one\ntwo", 3, true, []string{"one", "two"}},
		{"no autobreak", "the quick brown fox", 2, false, []string{"the quick brown fox"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.text, 100, tt.maxLines, tt.autoBreak, mono)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Wrap() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	got, ok := Truncate("abcdefghijkl", 60, mono)
	if !ok || got != "abcde…" {
		t.Errorf("Truncate() = %q, %v", got, ok)
	}
	if got, ok := Truncate("short", 60, mono); !ok || got != "short" {
		t.Errorf("fitting text must be unchanged, got %q", got)
	}
	if _, ok := Truncate("abc", 5, mono); ok {
		t.Error("expected failure when nothing fits")
	}
}

func TestActiveSkipsTinyScale(t *testing.T) {
	visible := helloWorld()
	tiny := helloWorld()
	tiny.ID = "tiny"
	tiny.Scale = 0.05
	later := helloWorld()
	later.ID = "later"
	later.Start = 5

	got := Active([]timeline.TextLayer{visible, tiny, later}, 1)
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("Active() = %+v", got)
	}
}

func TestLayoutClampsAndSnaps(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), DefaultConfig())
	l := helloWorld()
	l.X, l.Y = 1.0, 1.0
	l.BgEnabled = true

	lay, err := r.Layout(l, 640, 360)
	if err != nil {
		t.Fatalf("Layout() error: %v", err)
	}
	if lay.Left+lay.Width > 640 || lay.Top+lay.Height > 360 || lay.Left < 0 || lay.Top < 0 {
		t.Errorf("box escapes the frame: %+v", lay)
	}
	for _, v := range []float64{lay.Left, lay.Top, lay.Lines[0].X, lay.Lines[0].Baseline} {
		if v != float64(int(v)) {
			t.Errorf("position %v is not snapped to a pixel", v)
		}
	}
}

func TestLayoutOverflow(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), DefaultConfig())
	l := helloWorld()
	l.FontSize = 200

	_, err := r.Layout(l, 40, 40)
	if !errors.Is(err, media.ErrLayoutOverflow) {
		t.Fatalf("expected ErrLayoutOverflow, got %v", err)
	}
}

func TestRenderDrawsBackgroundAndText(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), DefaultConfig())
	dst := image.NewRGBA(image.Rect(0, 0, 320, 180))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	l := helloWorld()
	l.KaraokeEnabled = false
	l.BgEnabled = true
	l.BgColor = "#0000ff"
	l.BgOpacity = 1

	lay, err := r.Layout(l, 320, 180)
	if err != nil {
		t.Fatalf("Layout() error: %v", err)
	}
	r.Render(dst, []timeline.TextLayer{l}, 1)

	corner := dst.RGBAAt(int(lay.Left)+1, int(lay.Top)+1)
	if corner.B != 0xff || corner.R != 0 {
		t.Errorf("expected blue background at the box corner, got %v", corner)
	}

	white := 0
	for y := int(lay.Top); y < int(lay.Top+lay.Height); y++ {
		for x := int(lay.Left); x < int(lay.Left+lay.Width); x++ {
			if c := dst.RGBAAt(x, y); c.R > 200 && c.G > 200 {
				white++
			}
		}
	}
	if white == 0 {
		t.Error("expected text pixels inside the box")
	}
}

func TestRenderKaraokeHighlight(t *testing.T) {
	r := NewRenderer(zerolog.Nop(), DefaultConfig())
	dst := image.NewRGBA(image.Rect(0, 0, 320, 180))
	l := helloWorld()

	r.Render(dst, []timeline.TextLayer{l}, 1.5)
	if pass := r.passes["t1"]; pass == nil || pass.boundary != 8 {
		t.Fatalf("expected karaoke boundary 8, got %+v", r.passes["t1"])
	}

	lay, _ := r.Layout(l, 320, 180)
	ln := lay.Lines[0]
	yellow := 0
	for x := int(ln.X); x < int(ln.X+ln.Width); x++ {
		c := dst.RGBAAt(x, int(ln.Baseline-lay.Ascent)+1)
		if c.R == 0xff && c.G == 0xd4 && c.B == 0 {
			yellow++
		}
	}
	if yellow == 0 {
		t.Error("expected a highlight rectangle behind the spoken part")
	}

	r.Render(dst, nil, 3)
	if len(r.passes) != 0 {
		t.Error("karaoke state of inactive layers must be dropped")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#fff", color.NRGBA{255, 255, 255, 255}},
		{"#ffd400", color.NRGBA{255, 212, 0, 255}},
		{"#00000080", color.NRGBA{0, 0, 0, 128}},
		{"rgba(10, 20, 30, 0.5)", color.NRGBA{10, 20, 30, 128}},
		{"rgb(1,2,3)", color.NRGBA{1, 2, 3, 255}},
		{"White", color.NRGBA{255, 255, 255, 255}},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if err != nil {
			t.Errorf("ParseColor(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseColor("#12"); err == nil {
		t.Error("expected error for a short hex color")
	}
}

// closeCounter is a face that only records Close.
type closeCounter struct {
	font.Face
	closed *int
}

func (c closeCounter) Close() error {
	*c.closed++
	return nil
}

func TestFontsClosesEvictedFaces(t *testing.T) {
	f := NewFonts(nil)
	closed := 0
	for i := 0; i < maxFaces; i++ {
		f.faces[faceKey{family: "stale", size: i + 1}] = closeCounter{closed: &closed}
	}

	face, err := f.Face("", "bold", "", 20)
	if err != nil {
		t.Fatalf("Face failed: %v", err)
	}
	if face == nil {
		t.Fatal("expected a face")
	}
	if closed != maxFaces {
		t.Errorf("expected %d evicted faces to be closed, got %d", maxFaces, closed)
	}
	if len(f.faces) != 1 {
		t.Errorf("expected only the new face to be cached, got %d", len(f.faces))
	}

	again, err := f.Face("", "bold", "", 20.2)
	if err != nil || again != face {
		t.Errorf("expected the cached face back, got %v (%v)", again, err)
	}
}
