package index

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aman-cerp/hybridsearch/internal/corelog"
)

// DefaultWatchDebounce batches rapid filesystem events (editor saves,
// build output) into one reindex.
const DefaultWatchDebounce = 2 * time.Second

// Watcher triggers a collection reindex when its tracked source path
// changes on disk. It is an optional convenience around Service.Reindex;
// the pipeline itself never requires a watcher.
type Watcher struct {
	svc        *Service
	collection string
	debounce   time.Duration
	fs         *fsnotify.Watcher
}

// NewWatcher watches root (non-recursively; subdirectories seen at start
// are added) and reindexes collection on changes. debounce <= 0 uses
// DefaultWatchDebounce.
func NewWatcher(svc *Service, collection, root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(root); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{svc: svc, collection: collection, debounce: debounce, fs: fs}, nil
}

// Start consumes events until ctx is cancelled. It blocks; run it in its
// own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	log := corelog.Component("index.watcher")

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := w.svc.Reindex(w.collection); err != nil {
				log.Warn("watch-triggered reindex failed", "collection", w.collection, "error", err)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
