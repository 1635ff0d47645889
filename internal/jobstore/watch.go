package jobstore

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/agentrelay/agentrelay/internal/logging"
)

// Watch logs filesystem-level changes under jobsRoot as they happen. It is
// a debug aid for operators inspecting the file-based store directly (see
// cmd/controller's --watch flag); it has no effect on correctness, since
// Store never relies on being notified of its own writes.
func Watch(ctx context.Context, jobsRoot string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(jobsRoot); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				logging.Debug().
					Str("path", ev.Name).
					Str("op", ev.Op.String()).
					Msg("jobstore: filesystem change")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("jobstore: watch error")
			}
		}
	}()

	return nil
}
