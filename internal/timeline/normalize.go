package timeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Document is the loosely typed timeline shape produced by editor
// frontends and by decoding YAML/JSON into map[string]any.
type Document = map[string]any

// Normalize converts a loosely typed document into a Timeline. Clips that
// cannot satisfy the model invariants are dropped and reported as issues;
// recoverable problems (missing speed, negative trim) are repaired.
//
// Two layouts are accepted: keyed tracks ("video", "images", "audio",
// "text") or a "tracks" list of clip lists where each clip has a "type".
func Normalize(doc Document) (*Timeline, []Issue) {
	n := &normalizer{tl: &Timeline{}}

	for _, key := range []string{"video", "videos"} {
		for _, raw := range list(doc[key]) {
			n.add("video", raw)
		}
	}
	for _, key := range []string{"image", "images"} {
		for _, raw := range list(doc[key]) {
			n.add("image", raw)
		}
	}
	for _, raw := range list(doc["audio"]) {
		n.add("audio", raw)
	}
	for _, key := range []string{"text", "texts"} {
		for _, raw := range list(doc[key]) {
			n.add("text", raw)
		}
	}
	for _, track := range list(doc["tracks"]) {
		for _, raw := range list(track) {
			m, ok := raw.(map[string]any)
			if !ok {
				n.issue("", "track entry is not an object")
				continue
			}
			n.add(strings.ToLower(str(m, "type", "kind")), m)
		}
	}

	n.tl.sortByStart()
	return n.tl, n.issues
}

type normalizer struct {
	tl     *Timeline
	issues []Issue
	seq    int
}

func (n *normalizer) issue(id, format string, args ...any) {
	n.issues = append(n.issues, Issue{ClipID: id, Message: fmt.Sprintf(format, args...)})
}

func (n *normalizer) add(kind string, raw any) {
	m, ok := raw.(map[string]any)
	if !ok {
		n.issue("", "%s entry is not an object", kind)
		return
	}

	switch kind {
	case "video":
		clip, ok := n.clip(kind, m)
		if !ok {
			return
		}
		n.tl.Video = append(n.tl.Video, VideoClip{
			Clip:     clip,
			UseAudio: boolean(m, true, "useAudio", "audio", "withAudio"),
			Volume:   unit(num(m, 1, "volume", "gain")),
		})
	case "image":
		clip, ok := n.clip(kind, m)
		if !ok {
			return
		}
		n.tl.Images = append(n.tl.Images, ImageClip{Clip: clip})
	case "audio", "voice", "music", "sfx":
		clip, ok := n.clip(kind, m)
		if !ok {
			return
		}
		role := Role(strings.ToLower(str(m, "role", "category")))
		if kind != "audio" {
			role = Role(kind)
		}
		switch role {
		case RoleVoice, RoleSFX, RoleMusic:
		default:
			role = RoleMusic
		}
		n.tl.Audio = append(n.tl.Audio, AudioClip{
			Clip:    clip,
			Volume:  unit(num(m, 1, "volume", "gain")),
			FadeIn:  math.Max(0, num(m, 0, "fadeIn", "fade_in")),
			FadeOut: math.Max(0, num(m, 0, "fadeOut", "fade_out")),
			Role:    role,
		})
	case "text", "caption", "subtitle":
		if layer, ok := n.text(m); ok {
			n.tl.Text = append(n.tl.Text, layer)
		}
	default:
		n.issue(str(m, "id"), "unknown clip type %q", kind)
	}
}

func (n *normalizer) nextID(kind string) string {
	n.seq++
	return fmt.Sprintf("%s-%d", kind, n.seq)
}

func (n *normalizer) clip(kind string, m map[string]any) (Clip, bool) {
	id := str(m, "id", "clipId")
	if id == "" {
		id = n.nextID(kind)
	}

	start := num(m, 0, "start", "startTime", "offset")
	duration := num(m, math.NaN(), "duration", "dur", "length")
	if math.IsNaN(duration) {
		if end, ok := lookupNum(m, "end", "endTime"); ok {
			duration = end - start
		}
	}
	if math.IsNaN(duration) || duration <= 0 {
		n.issue(id, "dropped: duration must be positive")
		return Clip{}, false
	}
	if start < 0 {
		n.issue(id, "negative start %.3f clamped to 0", start)
		start = 0
	}

	ref := MediaRef{
		URL:     str(m, "url", "src", "source", "path"),
		AssetID: str(m, "assetId", "asset_id", "asset", "mediaId"),
	}
	if ref.Empty() {
		n.issue(id, "dropped: no media reference")
		return Clip{}, false
	}

	speed := num(m, 1, "speed", "rate", "playbackRate")
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		n.issue(id, "invalid speed %v replaced with 1", speed)
		speed = 1
	}

	srcIn := num(m, 0, "srcIn", "in", "trimStart", "trim_start")
	if srcIn < 0 {
		srcIn = 0
	}

	return Clip{
		ID:       id,
		Ref:      ref,
		Start:    start,
		Duration: duration,
		SrcIn:    srcIn,
		Speed:    speed,
		Reverse:  boolean(m, false, "reverse", "reversed"),
	}, true
}

func (n *normalizer) text(m map[string]any) (TextLayer, bool) {
	id := str(m, "id")
	if id == "" {
		id = n.nextID("text")
	}
	start := math.Max(0, num(m, 0, "start"))
	duration := num(m, math.NaN(), "duration", "dur")
	if math.IsNaN(duration) {
		if end, ok := lookupNum(m, "end"); ok {
			duration = end - start
		}
	}
	if math.IsNaN(duration) || duration <= 0 {
		n.issue(id, "dropped: duration must be positive")
		return TextLayer{}, false
	}

	layer := TextLayer{
		ID:             id,
		Text:           str(m, "text", "content"),
		Start:          start,
		Duration:       duration,
		X:              unit(num(m, 0.5, "x")),
		Y:              unit(num(m, 0.85, "y")),
		FontSize:       num(m, 48, "fontSize", "size"),
		FontFamily:     str(m, "fontFamily", "font"),
		Weight:         str(m, "weight", "fontWeight"),
		Style:          str(m, "style", "fontStyle"),
		Fill:           strDefault(m, "#ffffff", "fill", "color"),
		Stroke:         str(m, "stroke", "strokeColor"),
		StrokeWidth:    math.Max(0, num(m, 0, "strokeWidth")),
		Scale:          num(m, 1, "scale"),
		Rotate:         num(m, 0, "rotate", "rotation"),
		MaxLines:       int(num(m, 2, "maxLines")),
		AutoBreak:      boolean(m, true, "autoBreak", "wrap"),
		BgEnabled:      boolean(m, false, "bgEnabled", "background"),
		BgColor:        strDefault(m, "#000000", "bgColor", "backgroundColor"),
		BgOpacity:      unit(num(m, 0.5, "bgOpacity")),
		KaraokeEnabled: boolean(m, false, "karaokeEnabled", "karaoke"),
		KaraokeBg:      strDefault(m, "#ffd400", "karaokeBg"),
		KaraokeOpacity: unit(num(m, 1, "karaokeOpacity")),
		KaraokeFill:    str(m, "karaokeFill", "karaokeColor"),
		WordTiming:     wordTiming(m["wordTiming"]),
	}
	if layer.FontSize <= 0 {
		layer.FontSize = 48
	}
	if layer.MaxLines <= 0 {
		layer.MaxLines = 1
	}
	return layer, true
}

func wordTiming(raw any) []WordTiming {
	var words []WordTiming
	for _, entry := range list(raw) {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		start, okStart := lookupNum(m, "start")
		end, okEnd := lookupNum(m, "end")
		if !okStart || !okEnd {
			continue
		}
		if end < start {
			end = start
		}
		words = append(words, WordTiming{
			Word:  str(m, "word", "text", "punctuated_word"),
			Start: start,
			End:   end,
		})
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	return words
}

func list(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	}
	return nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case int, int64, float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func strDefault(m map[string]any, def string, keys ...string) string {
	if s := str(m, keys...); s != "" {
		return s
	}
	return def
}

func lookupNum(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case uint64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func num(m map[string]any, def float64, keys ...string) float64 {
	if v, ok := lookupNum(m, keys...); ok {
		return v
	}
	return def
}

func boolean(m map[string]any, def bool, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		case int:
			return v != 0
		case float64:
			return v != 0
		}
	}
	return def
}

func unit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
