package overlay

import (
	"math"
	"unicode"

	"github.com/kikiluvv/previewdeck/internal/timeline"
)

type word struct {
	offset, length int // in runes
}

func splitWords(line string) []word {
	var words []word
	start := -1
	i := 0
	for _, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{offset: start, length: i - start})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i++
	}
	if start >= 0 {
		words = append(words, word{offset: start, length: i - start})
	}
	return words
}

// rescale maps timing onto n displayed words. When the counts match the
// timing is used as is; otherwise each displayed word takes the matching
// fraction of the original word sequence.
func rescale(timing []timeline.WordTiming, n int) []timeline.WordTiming {
	m := len(timing)
	if m == n {
		return timing
	}

	at := func(pos float64) float64 {
		k := int(math.Floor(pos))
		if k >= m {
			return timing[m-1].End
		}
		frac := pos - float64(k)
		return timing[k].Start + frac*(timing[k].End-timing[k].Start)
	}

	out := make([]timeline.WordTiming, n)
	for i := range out {
		out[i].Start = at(float64(i) * float64(m) / float64(n))
		out[i].End = at(float64(i+1) * float64(m) / float64(n))
	}
	return out
}

// KaraokeBoundary returns how many runes of line are highlighted at local
// time (seconds since the layer started). Without timing, progress is
// uniform over duration.
func KaraokeBoundary(line string, timing []timeline.WordTiming, local, duration float64) int {
	total := len([]rune(line))
	if total == 0 || local <= 0 {
		return 0
	}

	words := splitWords(line)
	if len(timing) == 0 || len(words) == 0 {
		if duration <= 0 {
			return total
		}
		return clampInt(int(math.Floor(local/duration*float64(total))), 0, total)
	}

	timing = rescale(timing, len(words))
	boundary := 0
	for i, w := range words {
		wt := timing[i]
		switch {
		case local >= wt.End:
			boundary = w.offset + w.length
			continue
		case local >= wt.Start && wt.End > wt.Start:
			frac := (local - wt.Start) / (wt.End - wt.Start)
			boundary = w.offset + int(math.Floor(frac*float64(w.length)))
		}
		break
	}
	if boundary == words[len(words)-1].offset+words[len(words)-1].length {
		boundary = total
	}
	return clampInt(boundary, 0, total)
}

// karaokePass keeps one layer's highlight boundary from moving backwards
// while time moves forward.
type karaokePass struct {
	text     string
	local    float64
	boundary int
}

func (p *karaokePass) advance(text string, local float64, boundary int) int {
	if text != p.text || local < p.local {
		// a seek backwards or edited text starts a new pass
		p.text = text
		p.boundary = 0
	}
	p.local = local
	if boundary > p.boundary {
		p.boundary = boundary
	}
	return p.boundary
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
