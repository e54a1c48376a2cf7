package ffmpeg

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// PCMFormat describes decoded audio: interleaved float32 samples.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// DefaultPCMFormat returns 48 kHz stereo.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{SampleRate: 48000, Channels: 2}
}

// BytesPerFrame is the size of one sample for every channel.
func (f PCMFormat) BytesPerFrame() int {
	return 4 * f.Channels
}

// DecodePCM decodes the whole audio track of input into interleaved float32
// samples in the given format.
func (e *Executor) DecodePCM(ctx context.Context, input string, format PCMFormat) ([]float32, error) {
	if input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", format)
	}

	e.logger.Debug().
		Str("input", input).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("decoding audio")

	r, err := e.Pipe(ctx, RunOptions{
		Args: []string{
			"-i", input,
			"-vn",
			"-acodec", "pcm_f32le",
			"-ar", fmt.Sprintf("%d", format.SampleRate),
			"-ac", fmt.Sprintf("%d", format.Channels),
			"-f", "f32le",
			"pipe:1",
		},
		ProgressHandler: e.traceProgress("audio decode"),
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio decode")
		},
	})
	if err != nil {
		return nil, err
	}

	data, readErr := io.ReadAll(r)
	closeErr := r.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read pcm: %w", readErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if closeErr != nil {
		return nil, closeErr
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no audio decoded from %s", input)
	}
	return BytesToFloat32(data, format), nil
}

// BytesToFloat32 converts little-endian float32 PCM to samples, dropping a
// trailing partial frame.
func BytesToFloat32(data []byte, format PCMFormat) []float32 {
	n := len(data) / format.BytesPerFrame() * format.Channels
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

// traceProgress logs ffmpeg progress blocks at trace level.
func (e *Executor) traceProgress(op string) func(*Progress) {
	return func(p *Progress) {
		e.logger.Trace().
			Str("op", op).
			Int("frame", p.Frame).
			Str("time", p.Time).
			Str("speed", p.Speed).
			Msg("ffmpeg progress")
	}
}
