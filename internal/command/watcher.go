package command

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/logging"
)

// Watcher reloads the loader when command files change and invokes onChange
// so the new command set can be pushed to connected sessions.
type Watcher struct {
	loader   *Loader
	onChange func()
	watcher  *fsnotify.Watcher
	log      zerolog.Logger
}

// Watch starts watching the loader's directories. Directories that do not
// exist yet are skipped; onChange may be nil.
func Watch(loader *Loader, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		onChange: onChange,
		watcher:  fsw,
		log:      logging.Component("command"),
	}
	for _, dir := range loader.Dirs() {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("dir", dir).Msg("cannot watch command dir")
		}
	}
	return w, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug().Str("file", event.Name).Msg("command files changed")
			w.loader.Reload()
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("command watcher error")
		}
	}
}
