package virtualaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"github.com/kikiluvv/previewdeck/internal/ffmpeg"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

// Prober reads stream metadata for sources the built-in readers cannot
// handle. *ffmpeg.Executor satisfies it.
type Prober interface {
	Probe(ctx context.Context, url string) (*ffmpeg.MediaInfo, error)
}

// Metadata describes an audio source.
type Metadata struct {
	// Duration in seconds; zero when unknown.
	Duration float64
	Title    string
	Artist   string
}

// Inspect reads duration and tags of url. Local mp3 files are decoded
// frame by frame; everything else goes through the prober when one is set.
func Inspect(ctx context.Context, prober Prober, url string) (Metadata, error) {
	var meta Metadata

	if !util.IsRemote(url) {
		path := util.ExpandHome(util.LocalPath(url))
		if _, err := os.Stat(path); err != nil {
			return meta, err
		}
		meta.Title, meta.Artist = readTags(path)
		if strings.EqualFold(filepath.Ext(path), ".mp3") {
			dur, err := mp3Duration(path)
			if err == nil && dur > 0 {
				meta.Duration = dur
				return meta, nil
			}
		}
	}

	if prober == nil {
		return meta, nil
	}
	info, err := prober.Probe(ctx, url)
	if err != nil {
		return meta, err
	}
	if !info.HasAudio {
		return meta, fmt.Errorf("no audio stream")
	}
	meta.Duration = info.Seconds()
	return meta, nil
}

func readTags(path string) (string, string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(m.Title()), strings.TrimSpace(m.Artist())
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}
	return total, nil
}
