package dimensions

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes the dimensions directory and invokes a callback
// when documents change. Filesystem events are debounced so that an
// editor writing several files in quick succession triggers a single
// reload.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration
	onChange func()
}

// NewWatcher creates a watcher over the loader's directory. onChange
// is called from the watch goroutine after the debounce window closes.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func()) *Watcher {
	return &Watcher{
		loader:   loader,
		logger:   logger.With().Str("component", "dimension-watcher").Logger(),
		debounce: 500 * time.Millisecond,
		onChange: onChange,
	}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.loader.Dir()); err != nil {
		return err
	}

	w.logger.Info().Str("dir", w.loader.Dir()).Msg("watching dimension documents")

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isDimensionFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("dimension document changed")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("filesystem watch error")

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info().Msg("reloading dimensions")
			w.onChange()
		}
	}
}
