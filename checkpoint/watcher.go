package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports every new checkpoint written to a slot. It watches the
// parent directory because saves replace the file by rename.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

func NewWatcher(manager *Manager, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(manager.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{manager: manager, watcher: fw, logger: logger}, nil
}

// Run delivers each successfully decoded checkpoint to onChange until ctx
// is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context, onChange func(*Checkpoint)) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.manager.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			ckpt, err := w.manager.Load()
			if err != nil {
				w.logger.Warn("checkpoint changed but could not be read", zap.String("path", target), zap.Error(err))
				continue
			}
			onChange(ckpt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("checkpoint watcher error", zap.Error(err))
		}
	}
}
