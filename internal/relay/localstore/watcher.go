package localstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/msgrelay/pkg/log"
)

// Watcher signals changes to the chat database and its WAL files.
type Watcher struct {
	watcher *fsnotify.Watcher
	prefix  string
	changes chan struct{}
	log     log.Logger
}

// NewWatcher watches the directory holding dbPath.
func NewWatcher(dbPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		watcher: w,
		prefix:  filepath.Base(dbPath),
		changes: make(chan struct{}, 1),
		log:     log.WithName("chatdb-watcher"),
	}, nil
}

// Changes receives one value per burst of writes. Signals are coalesced, so a
// slow reader never blocks the watcher.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run processes events until ctx ends, then closes the watcher.
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
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("Chat database changed", "event", event.Op.String(), "file", filepath.Base(event.Name))
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "fsnotify error")
		}
	}
}

// Close stops watching. Run returns once it observes the closed channels.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// relevant matches chat.db, chat.db-wal and chat.db-shm.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), w.prefix)
}
