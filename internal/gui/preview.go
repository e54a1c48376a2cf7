package gui

import (
	"context"
	"fmt"
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/previewdeck/internal/engine"
	"github.com/kikiluvv/previewdeck/internal/timeline"
	"github.com/kikiluvv/previewdeck/pkg/util"
)

// Options configures the preview window.
type Options struct {
	Title string
	// OnOpen is called with a timeline picked from the file dialog.
	OnOpen func(path string)
}

// RunPreview shows the engine's canvas in a window with transport controls
// and blocks until the window is closed.
func RunPreview(ctx context.Context, logger zerolog.Logger, eng *engine.Engine, opts Options) error {
	logger = logger.With().Str("component", "gui").Logger()

	a := app.NewWithID("previewdeck")
	title := opts.Title
	if title == "" {
		title = "previewdeck"
	}
	w := a.NewWindow(title)
	w.Resize(fyne.NewSize(960, 640))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frame := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 16, 9)))
	frame.FillMode = canvas.ImageFillContain
	frame.ScaleMode = canvas.ImageScaleFastest
	frame.SetMinSize(fyne.NewSize(640, 360))

	timestampLabel := widget.NewLabel(timestamp(0, eng.Timeline()))
	slider := widget.NewSlider(0, 1)
	slider.Step = 0.01

	// seeking only on user drags; programmatic updates bypass OnChanged
	slider.OnChanged = func(val float64) {
		eng.Seek(val)
	}

	var playButton *widget.Button
	playButton = widget.NewButton("Play", func() {
		eng.Toggle()
		playButton.SetText(playLabel(eng.Clock().Playing()))
	})

	audioButton := widget.NewButton("Enable audio", nil)
	audioButton.OnTapped = func() {
		eng.Unlock()
		audioButton.Hide()
	}
	audioButton.Hide()

	openButton := widget.NewButton("Open Timeline", func() {
		fd := dialog.NewFileOpen(
			func(ur fyne.URIReadCloser, err error) {
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				if ur == nil {
					return
				}
				defer ur.Close()

				path := ur.URI().Path()
				if opts.OnOpen != nil {
					opts.OnOpen(path)
					return
				}
				tl, issues, err := timeline.LoadFile(path)
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				for _, issue := range issues {
					logger.Warn().Str("issue", issue.Error()).Msg("timeline input")
				}
				eng.SetTimeline(tl)
			}, w)
		fd.SetFilter(storage.NewExtensionFileFilter([]string{".json", ".yaml", ".yml"}))
		fd.Show()
	})

	w.SetContent(container.NewBorder(
		nil,
		container.NewVBox(
			slider,
			container.NewHBox(playButton, timestampLabel, audioButton, openButton),
		),
		nil, nil,
		frame,
	))
	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if ev.Name == fyne.KeySpace {
			eng.Toggle()
			playButton.SetText(playLabel(eng.Clock().Playing()))
		}
	})

	var buffers frameBuffers
	present := func(src *image.RGBA) {
		st := eng.Clock().State()
		tl := eng.Timeline()
		locked := eng.UnlockRequired()
		buffers.offer(src, func(dst *image.RGBA, done func()) {
			fyne.Do(func() {
				defer done()
				frame.Image = dst
				frame.Refresh()

				if d := tl.Duration(); d > 0 && slider.Max != d {
					slider.Max = d
				}
				slider.Value = st.T
				slider.Refresh()
				timestampLabel.SetText(timestamp(st.T, tl))
				playButton.SetText(playLabel(st.Playing))
				if locked && !audioButton.Visible() {
					audioButton.Show()
				}
			})
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- eng.Run(ctx, present)
	}()

	w.SetOnClosed(cancel)
	logger.Info().Str("session", eng.Session()).Msg("preview window opened")
	w.ShowAndRun()

	cancel()
	return <-errc
}

func playLabel(playing bool) string {
	if playing {
		return "Pause"
	}
	return "Play"
}

func timestamp(t float64, tl *timeline.Timeline) string {
	return fmt.Sprintf("%s / %s", util.FormatSeconds(t), util.FormatSeconds(tl.Duration()))
}
