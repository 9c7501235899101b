package verdict

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"helmsman/internal/logging"
)

// PolicyWatcher watches one policy YAML file and installs each new
// version into the classifier atomically. A policy that fails to parse
// is logged and skipped; the running policy stays in effect.
type PolicyWatcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	classifier *Classifier
	path       string

	lastReload  time.Time
	debounceDur time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewPolicyWatcher creates a watcher for the policy file at path. The
// file does not need to exist yet; its directory is watched.
func NewPolicyWatcher(path string, classifier *Classifier) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		watcher:     watcher,
		classifier:  classifier,
		path:        path,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start loads the current file if present and begins watching. Non-blocking.
func (pw *PolicyWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	if p, err := LoadPolicy(pw.path); err == nil {
		pw.classifier.SetPolicy(p)
	}

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a watch on the file itself.
	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return err
	}

	go pw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (pw *PolicyWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh
	pw.watcher.Close()
}

func (pw *PolicyWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)
	log := logging.Get(logging.CategoryVerdict)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.stopCh:
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if time.Since(pw.lastReload) < pw.debounceDur {
				continue
			}
			pw.lastReload = time.Now()
			pw.reload()
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("policy watcher error", "error", err)
		}
	}
}

func (pw *PolicyWatcher) reload() {
	p, err := LoadPolicy(pw.path)
	if err != nil {
		logging.Decision(logging.CategoryVerdict, "policy_reload_rejected", "parse_failure",
			"path", pw.path, "error", err.Error())
		return
	}
	pw.classifier.SetPolicy(p)
	logging.Decision(logging.CategoryVerdict, "policy_reloaded", "file_changed",
		"path", pw.path, "version", p.Version)
}
