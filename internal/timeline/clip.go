package timeline

import "math"

// MinTextScale is the scale below which a text layer is treated as hidden.
const MinTextScale = 0.1

// MediaRef points at clip media either directly or through an asset id
// that a media.Resolver turns into a streamable URL.
type MediaRef struct {
	URL     string `yaml:"url,omitempty" json:"url,omitempty"`
	AssetID string `yaml:"assetId,omitempty" json:"assetId,omitempty"`
}

// Empty reports whether the reference carries neither a URL nor an asset id.
func (r MediaRef) Empty() bool {
	return r.URL == "" && r.AssetID == ""
}

// Clip holds the fields shared by every media clip on the timeline.
// All times are seconds.
type Clip struct {
	ID       string   `yaml:"id" json:"id"`
	Ref      MediaRef `yaml:"ref" json:"ref"`
	Start    float64  `yaml:"start" json:"start"`
	Duration float64  `yaml:"duration" json:"duration"`
	SrcIn    float64  `yaml:"srcIn" json:"srcIn"`
	Speed    float64  `yaml:"speed" json:"speed"`
	Reverse  bool     `yaml:"reverse" json:"reverse"`
}

// End returns the timeline time at which the clip stops being active.
func (c Clip) End() float64 {
	return c.Start + c.Duration
}

// Contains reports whether t falls inside [Start, Start+Duration).
func (c Clip) Contains(t float64) bool {
	return t >= c.Start && t < c.End()
}

// Local returns the time elapsed since the clip started.
func (c Clip) Local(t float64) float64 {
	return t - c.Start
}

// MediaTime maps timeline time t to the position inside the source media.
// Reverse clips walk the trimmed source range backwards.
func (c Clip) MediaTime(t float64) float64 {
	local := c.Local(t)
	if c.Reverse {
		local = c.Duration - local
	}
	target := c.SrcIn + local*c.speed()
	return math.Max(0, target)
}

func (c Clip) speed() float64 {
	if c.Speed <= 0 {
		return 1
	}
	return c.Speed
}

// VideoClip is a clip on the visual track backed by a video source.
type VideoClip struct {
	Clip     `yaml:",inline"`
	UseAudio bool    `yaml:"useAudio" json:"useAudio"`
	Volume   float64 `yaml:"volume" json:"volume"`
}

// ImageClip is a still image on the visual track.
type ImageClip struct {
	Clip `yaml:",inline"`
}

// Role classifies audio clips for auto-ducking.
type Role string

const (
	RoleMusic Role = "music"
	RoleVoice Role = "voice"
	RoleSFX   Role = "sfx"
)

// AudioClip is an independently mixed audio source.
type AudioClip struct {
	Clip    `yaml:",inline"`
	Volume  float64 `yaml:"volume" json:"volume"`
	FadeIn  float64 `yaml:"fadeIn" json:"fadeIn"`
	FadeOut float64 `yaml:"fadeOut" json:"fadeOut"`
	Role    Role    `yaml:"role" json:"role"`
}

// WordTiming places one spoken word relative to its text layer's start.
type WordTiming struct {
	Word  string  `yaml:"word" json:"word"`
	Start float64 `yaml:"start" json:"start"`
	End   float64 `yaml:"end" json:"end"`
}

// TextLayer is a timed text overlay, optionally karaoke-highlighted.
type TextLayer struct {
	ID         string  `yaml:"id" json:"id"`
	Text       string  `yaml:"text" json:"text"`
	Start      float64 `yaml:"start" json:"start"`
	Duration   float64 `yaml:"duration" json:"duration"`
	X          float64 `yaml:"x" json:"x"`
	Y          float64 `yaml:"y" json:"y"`
	FontSize   float64 `yaml:"fontSize" json:"fontSize"`
	FontFamily string  `yaml:"fontFamily" json:"fontFamily"`
	Weight     string  `yaml:"weight" json:"weight"`
	Style      string  `yaml:"style" json:"style"`
	Fill       string  `yaml:"fill" json:"fill"`
	Stroke     string  `yaml:"stroke" json:"stroke"`
	// StrokeWidth is in pixels before Scale is applied.
	StrokeWidth float64 `yaml:"strokeWidth" json:"strokeWidth"`
	Scale       float64 `yaml:"scale" json:"scale"`
	Rotate      float64 `yaml:"rotate" json:"rotate"`
	MaxLines    int     `yaml:"maxLines" json:"maxLines"`
	AutoBreak   bool    `yaml:"autoBreak" json:"autoBreak"`

	BgEnabled bool    `yaml:"bgEnabled" json:"bgEnabled"`
	BgColor   string  `yaml:"bgColor" json:"bgColor"`
	BgOpacity float64 `yaml:"bgOpacity" json:"bgOpacity"`

	KaraokeEnabled bool         `yaml:"karaokeEnabled" json:"karaokeEnabled"`
	KaraokeBg      string       `yaml:"karaokeBg" json:"karaokeBg"`
	KaraokeOpacity float64      `yaml:"karaokeOpacity" json:"karaokeOpacity"`
	KaraokeFill    string       `yaml:"karaokeFill" json:"karaokeFill"`
	WordTiming     []WordTiming `yaml:"wordTiming" json:"wordTiming"`
}

// End returns the timeline time at which the layer disappears.
func (l TextLayer) End() float64 {
	return l.Start + l.Duration
}

// Visible reports whether the layer takes part in layout at all.
func (l TextLayer) Visible() bool {
	return l.Scale >= MinTextScale && l.Text != ""
}

// Contains reports whether the layer is on screen at t.
func (l TextLayer) Contains(t float64) bool {
	return t >= l.Start && t < l.End()
}

// Timeline is the declarative input of a preview session.
type Timeline struct {
	Video  []VideoClip `yaml:"video" json:"video"`
	Images []ImageClip `yaml:"images" json:"images"`
	Audio  []AudioClip `yaml:"audio" json:"audio"`
	Text   []TextLayer `yaml:"text" json:"text"`
}

// Duration returns the end of the last clip or layer.
func (tl *Timeline) Duration() float64 {
	if tl == nil {
		return 0
	}
	end := 0.0
	for _, c := range tl.Video {
		end = math.Max(end, c.End())
	}
	for _, c := range tl.Images {
		end = math.Max(end, c.End())
	}
	for _, c := range tl.Audio {
		end = math.Max(end, c.End())
	}
	for _, l := range tl.Text {
		end = math.Max(end, l.End())
	}
	return end
}
