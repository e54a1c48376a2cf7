package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/previewdeck/internal/config"
	"github.com/kikiluvv/previewdeck/internal/gui"
	"github.com/kikiluvv/previewdeck/internal/logging"
	"github.com/kikiluvv/previewdeck/internal/timeline"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "previewdeck",
	Short: "previewdeck - multi-track timeline preview engine",
	Long:  "Plays back video, image, audio and text timelines in sync for preview, snapshots and frame export.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(verbose)

		// .env feeds the PREVIEWDECK_* overrides
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Debug().Err(err).Msg("no .env loaded")
		}

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
}

var previewCmd = &cobra.Command{
	Use:   "preview [timeline]",
	Short: "Open a preview window for a timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		logger := logging.WithComponent("preview")

		s, err := openSession(log.Logger, cfg, args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		watcher, err := timeline.Watch(s.path, 300*time.Millisecond, log.Logger, func(tl *timeline.Timeline, _ []timeline.Issue) {
			s.engine.SetTimeline(tl)
		})
		if err != nil {
			logger.Warn().Err(err).Msg("timeline hot reload disabled")
		} else {
			defer watcher.Close()
		}

		return gui.RunPreview(cmd.Context(), log.Logger, s.engine, gui.Options{
			Title: "previewdeck - " + filepath.Base(s.path),
			OnOpen: func(path string) {
				tl, err := loadTimeline(log.Logger, path)
				if err != nil {
					logger.Error().Err(err).Msg("failed to open timeline")
					return
				}
				s.engine.SetTimeline(tl)
			},
		})
	},
}

var (
	snapshotAt      string
	snapshotOut     string
	snapshotTimeout time.Duration
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [timeline]",
	Short: "Render a single frame to PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		at, err := util.ParseSeconds(snapshotAt)
		if err != nil {
			return err
		}

		s, err := openSession(log.Logger, cfg, args[0], true)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
		defer cancel()

		frame, err := s.engine.Settle(ctx, at)
		if err != nil {
			log.Warn().Err(err).Msg("writing best-effort frame")
		}
		if err := writePNG(snapshotOut, frame); err != nil {
			return err
		}

		log.Info().
			Str("at", util.FormatSeconds(at)).
			Str("output", snapshotOut).
			Msg("snapshot written")
		return nil
	},
}

var (
	framesFrom   string
	framesTo     string
	framesFPS    float64
	framesOut    string
	framesPrefix string
)

var framesCmd = &cobra.Command{
	Use:   "frames [timeline]",
	Short: "Render a PNG sequence of a time range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.FromContext(cmd.Context())

		fps := framesFPS
		if fps <= 0 {
			fps = cfg.Preview.FPS
		}
		// every exported frame must show its own video frame, so paused
		// drift may not exceed half a frame
		cfg.Deck.PausedDrift = math.Min(cfg.Deck.PausedDrift, 0.5/fps)

		s, err := openSession(log.Logger, &cfg, args[0], true)
		if err != nil {
			return err
		}
		defer s.Close()

		from, err := util.ParseSeconds(framesFrom)
		if err != nil {
			return err
		}
		to := s.engine.Timeline().Duration()
		if framesTo != "" {
			if to, err = util.ParseSeconds(framesTo); err != nil {
				return err
			}
		}
		if to <= from {
			return fmt.Errorf("empty range %s..%s", util.FormatSeconds(from), util.FormatSeconds(to))
		}

		if err := util.EnsureDir(framesOut); err != nil {
			return err
		}

		total := int(math.Ceil((to - from) * fps))
		bar := progressbar.Default(int64(total), "Rendering")

		for i := 0; i < total; i++ {
			t := from + float64(i)/fps

			ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
			frame, err := s.engine.Settle(ctx, t)
			cancel()
			if err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				log.Debug().Err(err).Float64("t", t).Msg("frame not settled")
			}

			if err := writePNG(util.FramePath(framesOut, framesPrefix, i+1), frame); err != nil {
				return err
			}
			bar.Add(1)
		}

		log.Info().
			Int("frames", total).
			Str("output", framesOut).
			Msg("frames written")
		return nil
	},
}

var inspectAt string

var inspectCmd = &cobra.Command{
	Use:   "inspect [timeline]",
	Short: "Show what is active at a point in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		at, err := util.ParseSeconds(inspectAt)
		if err != nil {
			return err
		}

		s, err := openSession(log.Logger, cfg, args[0], true)
		if err != nil {
			return err
		}
		defer s.Close()

		r := s.engine.Inspect(at)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "time:     %s\n", util.FormatSeconds(r.T))
		if r.Visual != "" {
			fmt.Fprintf(out, "visual:   %s (%s)\n", r.Visual, r.URL)
		} else {
			fmt.Fprintln(out, "visual:   none")
		}
		for _, l := range r.Text {
			fmt.Fprintf(out, "text:     %s %q\n", l.ID, l.Text)
		}
		for _, g := range r.Audio {
			fmt.Fprintf(out, "audio:    %s gain=%.3f rate=%.3f\n", g.ClipID, g.Gain, g.Rate)
		}
		for _, issue := range r.Issues {
			fmt.Fprintf(out, "issue:    %s\n", issue.Error())
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var (
	configInitPath  string
	configInitForce bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configInitPath
		if path == "" {
			path = config.DefaultPath()
		}
		path = util.ExpandHome(path)

		if util.FileExists(path) && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}

		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func writePNG(path string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("no frame rendered")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := util.EnsureDir(dir); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotAt, "at", "0", "timestamp (SS.mmm, MM:SS or HH:MM:SS.mmm)")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "snapshot.png", "output PNG")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "how long to wait for media per frame")

	framesCmd.Flags().StringVar(&framesFrom, "from", "0", "start timestamp")
	framesCmd.Flags().StringVar(&framesTo, "to", "", "end timestamp (default: end of timeline)")
	framesCmd.Flags().Float64Var(&framesFPS, "fps", 0, "frames per second (default: preview fps)")
	framesCmd.Flags().StringVarP(&framesOut, "out", "o", "frames", "output directory")
	framesCmd.Flags().StringVar(&framesPrefix, "prefix", "frame", "file name prefix")
	framesCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "how long to wait for media per frame")

	inspectCmd.Flags().StringVar(&inspectAt, "at", "0", "timestamp")

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "destination (default: ~/.previewdeck/config.yaml)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
