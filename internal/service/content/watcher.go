package content

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the post whenever the text or image file changes. It blocks
// until ctx is done.
func (p *Provider) Watch(ctx context.Context) error {
	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, path := range []string{p.cfg.TextFile, p.cfg.ImageFile} {
		if path == "" {
			continue
		}
		watched[filepath.Base(path)] = true
		dirs[filepath.Dir(path)] = true
	}
	if len(dirs) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create content watcher: %w", err)
	}
	defer w.Close()

	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	p.logger.Info("Watching post content", zap.Int("directories", len(dirs)))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := p.Reload(); err != nil {
				p.logger.Warn("Failed to reload post content", zap.Error(err))
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if watched[filepath.Base(ev.Name)] &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Content watcher error", zap.Error(err))
		}
	}
}
