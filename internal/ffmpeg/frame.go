package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/kikiluvv/previewdeck/pkg/util"
)

// ExtractFrame decodes the single frame at `at` seconds, scaled down to fit
// within maxW×maxH.
func (e *Executor) ExtractFrame(ctx context.Context, input string, at float64, maxW, maxH int) (image.Image, error) {
	if input == "" {
		return nil, fmt.Errorf("input path is required")
	}

	args := []string{
		"-ss", util.FormatSeconds(at),
		"-i", input,
		"-frames:v", "1",
		"-an",
	}
	if filter := NewFilterBuilder().ScaleFit(maxW, maxH).Build(); filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, "-f", "image2pipe", "-vcodec", "png", "pipe:1")

	var out bytes.Buffer
	err := e.Run(ctx, RunOptions{
		Args:            args,
		Stdout:          &out,
		ProgressHandler: e.traceProgress("frame extraction"),
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("frame extraction")
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("no frame at %s", util.FormatSeconds(at))
	}

	img, err := png.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// FrameReader reads raw RGBA frames from a running ffmpeg decode.
type FrameReader struct {
	r      io.ReadCloser
	width  int
	height int
}

// OpenFrames starts decoding input from `at` seconds as fps frames per
// second of exactly width×height RGBA pixels.
func (e *Executor) OpenFrames(ctx context.Context, input string, at, fps float64, width, height int) (*FrameReader, error) {
	if input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	filter := NewFilterBuilder().
		FPS(fps).
		Scale(width, height).
		Format("rgba").
		Build()

	r, err := e.Pipe(ctx, RunOptions{
		Args: []string{
			"-ss", util.FormatSeconds(at),
			"-i", input,
			"-an",
			"-vf", filter,
			"-f", "rawvideo",
			"-pix_fmt", "rgba",
			"pipe:1",
		},
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("frame stream")
		},
	})
	if err != nil {
		return nil, err
	}
	return &FrameReader{r: r, width: width, height: height}, nil
}

// Next blocks until the next frame is decoded. It returns io.EOF once the
// input is exhausted.
func (fr *FrameReader) Next() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, fr.width, fr.height))
	if _, err := io.ReadFull(fr.r, img.Pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	return img, nil
}

// Close stops the decoder.
func (fr *FrameReader) Close() error {
	return fr.r.Close()
}
