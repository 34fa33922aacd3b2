package policy

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchTargets holds callbacks that fire when a watched file changes.
// OnPolicyChange is fired for the policy bundle; OnSuspendChange for the
// session suspension list, since both live in the same storage root and
// both need hot reload without restarting the host process.
type WatchTargets struct {
	PolicyFileName  string
	OnPolicyChange  func()
	SuspendFileName string
	OnSuspendChange func()
}

// Watcher monitors a storage root directory for changes to the policy
// bundle and suspension list files, firing the matching callback. Runs a
// background goroutine until Close is called.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	log       *zap.Logger
}

// NewWatcher starts watching dir for changes to the files named in
// targets.
func NewWatcher(dir string, targets WatchTargets, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{}), log: log}
	go w.processEvents(targets)

	log.Info("policy/suspension watcher started", zap.String("dir", dir))
	return w, nil
}

func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			name := filepath.Base(event.Name)
			switch name {
			case targets.PolicyFileName:
				w.log.Info("policy bundle changed, triggering reload")
				if targets.OnPolicyChange != nil {
					targets.OnPolicyChange()
				}
			case targets.SuspendFileName:
				w.log.Info("suspension list changed, triggering reload")
				if targets.OnSuspendChange != nil {
					targets.OnSuspendChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("file watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
