package ffmpeg

import (
	"io"
	"time"
)

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	URL        string
	Duration   time.Duration
	Bitrate    int64
	HasVideo   bool
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	HasAudio   bool
	AudioCodec string
	SampleRate int
	Channels   int
}

// Seconds returns the duration in seconds.
func (m *MediaInfo) Seconds() float64 {
	return m.Duration.Seconds()
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
	// Stdout receives ffmpeg's standard output, e.g. an encoded frame.
	// When nil, stdout lines go to LogHandler.
	Stdout io.Writer
}
