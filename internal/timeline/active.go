package timeline

import (
	"fmt"
	"sort"
)

// VisualKind tells which visual track produced a Visual.
type VisualKind int

const (
	VisualNone VisualKind = iota
	VisualVideo
	VisualImage
)

// Visual is the single clip visible on the visual track at some instant.
type Visual struct {
	Kind  VisualKind
	Video *VideoClip
	Image *ImageClip
}

// Clip returns the common clip fields of whichever clip is visible.
func (v Visual) Clip() (Clip, bool) {
	switch v.Kind {
	case VisualVideo:
		return v.Video.Clip, true
	case VisualImage:
		return v.Image.Clip, true
	}
	return Clip{}, false
}

// VisualAt resolves the visible clip at t. Video clips take precedence over
// image clips when both cover t; among clips of one kind the earliest
// starting one wins.
func (tl *Timeline) VisualAt(t float64) Visual {
	if tl == nil {
		return Visual{}
	}
	for i := range tl.Video {
		if tl.Video[i].Contains(t) {
			return Visual{Kind: VisualVideo, Video: &tl.Video[i]}
		}
	}
	for i := range tl.Images {
		if tl.Images[i].Contains(t) {
			return Visual{Kind: VisualImage, Image: &tl.Images[i]}
		}
	}
	return Visual{}
}

// NextVideo returns the first video clip that starts after t but within
// the lookahead window, skipping any clip already active at t.
func (tl *Timeline) NextVideo(t, lookahead float64) (*VideoClip, bool) {
	if tl == nil || lookahead <= 0 {
		return nil, false
	}
	for i := range tl.Video {
		c := &tl.Video[i]
		if c.Start > t && c.Start-t <= lookahead {
			return c, true
		}
	}
	return nil, false
}

// AudioAt returns every audio clip active at t.
func (tl *Timeline) AudioAt(t float64) []AudioClip {
	if tl == nil {
		return nil
	}
	var active []AudioClip
	for _, c := range tl.Audio {
		if c.Contains(t) {
			active = append(active, c)
		}
	}
	return active
}

// VideoAudioAt returns the video clip at t when its own soundtrack is audible.
func (tl *Timeline) VideoAudioAt(t float64) (*VideoClip, bool) {
	v := tl.VisualAt(t)
	if v.Kind != VisualVideo || !v.Video.UseAudio {
		return nil, false
	}
	return v.Video, true
}

// Issue describes a clip that was dropped, repaired or conflicts with another.
type Issue struct {
	ClipID  string
	Message string
}

func (i Issue) Error() string {
	if i.ClipID == "" {
		return i.Message
	}
	return fmt.Sprintf("clip %s: %s", i.ClipID, i.Message)
}

// Validate reports overlapping clips on the visual track. Rendering still
// works with overlaps thanks to VisualAt precedence, so these are warnings.
func (tl *Timeline) Validate() []Issue {
	if tl == nil {
		return nil
	}

	type span struct {
		id         string
		start, end float64
	}
	var spans []span
	for _, c := range tl.Video {
		spans = append(spans, span{c.ID, c.Start, c.End()})
	}
	for _, c := range tl.Images {
		spans = append(spans, span{c.ID, c.Start, c.End()})
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	var issues []Issue
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start < prev.end {
			issues = append(issues, Issue{
				ClipID:  cur.id,
				Message: fmt.Sprintf("overlaps visual clip %s by %.3fs", prev.id, prev.end-cur.start),
			})
		}
	}
	return issues
}

func (tl *Timeline) sortByStart() {
	sort.SliceStable(tl.Video, func(i, j int) bool { return tl.Video[i].Start < tl.Video[j].Start })
	sort.SliceStable(tl.Images, func(i, j int) bool { return tl.Images[i].Start < tl.Images[j].Start })
	sort.SliceStable(tl.Audio, func(i, j int) bool { return tl.Audio[i].Start < tl.Audio[j].Start })
	sort.SliceStable(tl.Text, func(i, j int) bool { return tl.Text[i].Start < tl.Text[j].Start })
}
