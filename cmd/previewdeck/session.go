package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/clock"
	"github.com/kikiluvv/previewdeck/internal/config"
	"github.com/kikiluvv/previewdeck/internal/engine"
	"github.com/kikiluvv/previewdeck/internal/ffmpeg"
	"github.com/kikiluvv/previewdeck/internal/media"
	"github.com/kikiluvv/previewdeck/internal/media/ffvideo"
	"github.com/kikiluvv/previewdeck/internal/media/speaker"
	"github.com/kikiluvv/previewdeck/internal/media/virtualaudio"
	"github.com/kikiluvv/previewdeck/internal/timeline"
)

// audioOutput is a device the mixer plays through and the master clock
// follows.
type audioOutput interface {
	clock.HardwareClock
	NewChannel() media.Element
}

// session bundles an engine with the backends it owns.
type session struct {
	engine *engine.Engine
	audio  audioOutput
	videos [2]*ffvideo.Handle
	path   string
}

// openSession wires ffmpeg-backed decks and an audio output into an engine
// and loads the timeline at path. Headless sessions never wait for an
// audio gesture and never open the sound device.
func openSession(logger zerolog.Logger, cfg *config.Config, path string, headless bool) (*session, error) {
	exec, err := ffmpeg.New(logger, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	tl, err := loadTimeline(logger, abs)
	if err != nil {
		return nil, err
	}

	engCfg := cfg.Engine()
	if headless {
		engCfg.Mixer.RequireGesture = false
	}

	audio, err := openAudio(logger, cfg, exec, headless, engCfg.Mixer.RequireGesture)
	if err != nil {
		return nil, err
	}

	backend := ffvideo.FromExecutor(exec)
	s := &session{
		audio:  audio,
		videos: [2]*ffvideo.Handle{
			ffvideo.New(logger, backend, cfg.Decoder()),
			ffvideo.New(logger, backend, cfg.Decoder()),
		},
		path: abs,
	}

	s.engine, err = engine.New(logger, engCfg, engine.Options{
		VideoA:   s.videos[0],
		VideoB:   s.videos[1],
		NewAudio: s.audio.NewChannel,
		Hardware: s.audio,
		Resolver: media.AssetResolver{
			BaseURL: cfg.Assets.BaseURL,
			Root:    filepath.Dir(abs),
		},
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine.SetTimeline(tl)
	return s, nil
}

// openAudio picks the output named by the audio config. "auto" falls back
// to the silent virtual device when no sound device can be opened.
func openAudio(logger zerolog.Logger, cfg *config.Config, exec *ffmpeg.Executor, headless, locked bool) (audioOutput, error) {
	if headless || cfg.Audio.Output == "virtual" {
		return virtualaudio.NewDevice(logger, exec, locked), nil
	}

	out, err := speaker.Open(logger, exec, cfg.Speaker(), locked)
	if err != nil {
		if cfg.Audio.Output == "speaker" {
			return nil, err
		}
		logger.Warn().Err(err).Msg("no audio device, previewing without sound")
		return virtualaudio.NewDevice(logger, exec, locked), nil
	}
	return out, nil
}

func loadTimeline(logger zerolog.Logger, path string) (*timeline.Timeline, error) {
	tl, issues, err := timeline.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, issue := range issues {
		logger.Warn().Str("issue", issue.Error()).Msg("timeline input")
	}
	return tl, nil
}

func (s *session) Close() {
	if c, ok := s.audio.(io.Closer); ok {
		c.Close()
	}
	for _, v := range s.videos {
		if v != nil {
			v.Close()
		}
	}
}
