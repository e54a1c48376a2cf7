package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Executor runs ffmpeg and ffprobe for media probing and frame decoding
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, threads int) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

func (e *Executor) buildArgs(extra []string) []string {
	// threads must come before the inputs
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error"}
	if e.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", e.threads))
	}
	args = append(args, "-progress", "pipe:2")
	return append(args, extra...)
}

// Run executes ffmpeg with the given arguments and streams progress
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}
	args := e.buildArgs(opts.Args)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	var stdout io.ReadCloser
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else if stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.streamOutput(stderr, opts.ProgressHandler, opts.LogHandler)
	}()

	if stdout != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				if opts.LogHandler != nil {
					opts.LogHandler(scanner.Text())
				}
			}
		}()
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// Pipe starts ffmpeg and returns its stdout for streaming output such as
// raw video frames. Closing the reader stops the process.
func (e *Executor) Pipe(ctx context.Context, opts RunOptions) (io.ReadCloser, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}
	args := e.buildArgs(opts.Args)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting ffmpeg pipe")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.streamOutput(stderr, opts.ProgressHandler, opts.LogHandler)
	}()

	return &pipe{ReadCloser: stdout, cmd: cmd, cancel: cancel, done: done}, nil
}

type pipe struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (p *pipe) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.err = err
		}
	})
	return p.err
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			if logHandler != nil {
				logHandler(line)
			}
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			fmt.Sscanf(value, "%d", &progressData.Frame)
		case "fps":
			fmt.Sscanf(value, "%f", &progressData.FPS)
		case "bitrate":
			progressData.Bitrate = value
		case "out_time":
			progressData.Time = value
		case "speed":
			progressData.Speed = value
		case "progress":
			// end of a progress block
			// audio-only decodes report time but no frames
			if progressHandler != nil && (progressData.Frame > 0 || progressData.Time != "") {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		default:
			if logHandler != nil {
				logHandler(line)
			}
		}
	}
}
