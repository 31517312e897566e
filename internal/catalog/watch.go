package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
)

// Watch re-parses the README at path whenever it is written or replaced and
// publishes the result into m. A README that fails to parse leaves the
// previous set in place. onChange, if non-nil, is called after each update.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, m *Membership, onChange func([]domain.Document)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			docs, err := ParseFile(path)
			if err != nil {
				logger.Warn("catalog: keeping previous membership: %v", err)
				continue
			}
			m.Replace(docs)
			logger.Info("catalog: %d papers after change to %s", len(docs), filepath.Base(path))
			if onChange != nil {
				onChange(docs)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher: %v", err)
		}
	}
}
