package prompts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached templates when their files change on disk. It
// returns once the watcher is registered; events are handled in the
// background until ctx is done.
func (r *Repository) Watch(ctx context.Context) error {
	if r.dir == "" {
		return fmt.Errorf("no prompts directory to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompts watcher: %w", err)
	}

	if err := r.addWatches(fsw); err != nil {
		_ = fsw.Close()
		return err
	}

	go r.processEvents(ctx, fsw)

	r.logger.Info("Watching prompts directory", "dir", r.dir)
	return nil
}

// addWatches registers the directory and every subdirectory.
func (r *Repository) addWatches(fsw *fsnotify.Watcher) error {
	return filepath.Walk(r.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if p != r.dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (r *Repository) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			r.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Prompts watcher error", "error", err)
		}
	}
}

func (r *Repository) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New subdirectories need their own watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				r.logger.Warn("Failed to watch new prompts directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, templateExt) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(r.dir, event.Name)
	if err != nil {
		return
	}
	name := strings.TrimSuffix(filepath.ToSlash(rel), templateExt)
	r.Invalidate(name)
	r.logger.Debug("Prompt changed, cache invalidated", "prompt", name, "op", event.Op.String())
}
