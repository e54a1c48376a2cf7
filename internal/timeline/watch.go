package timeline

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a timeline file whenever it changes on disk. Bursts of
// events are debounced into one reload.
type Watcher struct {
	file     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*Timeline, []Issue)

	timerMu sync.Mutex
	timer   *time.Timer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Watch starts watching path. onChange receives every successfully parsed
// version; parse failures are logged and the previous timeline stays.
func Watch(path string, debounce time.Duration, logger zerolog.Logger, onChange func(*Timeline, []Issue)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		file:     filepath.Clean(path),
		logger:   logger.With().Str("component", "timeline-watch").Logger(),
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	// editors often replace the file, so the directory is watched too
	if err := fw.Add(filepath.Dir(w.file)); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(w.file); err != nil {
		w.logger.Debug().Err(err).Msg("could not watch file directly")
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.timerMu.Unlock()

		w.closeErr = w.watcher.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	select {
	case <-w.done:
		return
	default:
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	tl, issues, err := LoadFile(w.file)
	if err != nil {
		w.logger.Warn().Err(err).Str("file", w.file).Msg("timeline reload failed")
		return
	}
	w.logger.Info().Str("file", w.file).Int("issues", len(issues)).Msg("timeline reloaded")
	w.onChange(tl, issues)
}
