package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// settleDelay collapses the burst of events editors and atomic renames
// produce into one reload.
const settleDelay = 100 * time.Millisecond

// Watch reloads the store whenever the configuration file changes, until
// ctx is canceled.  The parent directory is watched since atomic replaces
// swap the file's inode.
func (s *Store) Watch(ctx context.Context) (err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Annotate(err, "creating watcher: %w")
	}
	defer func() { err = errors.WithDeferred(err, watcher.Close()) }()

	dir := filepath.Dir(s.path)
	err = watcher.Add(dir)
	if err != nil {
		return errors.Annotate(err, "watching %q: %w", dir)
	}

	s.logger.DebugContext(ctx, "watching configuration", "path", s.path)

	name := filepath.Clean(s.path)
	timer := time.NewTimer(settleDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !isContentChange(ev.Op) {
				continue
			}
			timer.Reset(settleDelay)
		case <-timer.C:
			if rerr := s.Reload(ctx); rerr != nil {
				s.logger.WarnContext(ctx, "keeping previous configuration", slogutil.KeyError, rerr)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.ErrorContext(ctx, "configuration watcher", slogutil.KeyError, werr)
		}
	}
}

func isContentChange(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) || op.Has(fsnotify.Rename)
}
