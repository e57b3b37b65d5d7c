package scheduler

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// loopWatcher is a best-effort fsnotify watch on one loop's worktree
// directory. It is a fast-path hint only: a write event lets
// detectNoProgress skip the `git status` shell-out for this iteration;
// the absence of an event (or any watcher setup failure) falls back to
// the authoritative git check rather than assuming anything.
type loopWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	seen    bool
}

func newLoopWatcher(dir string) *loopWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil
	}
	lw := &loopWatcher{watcher: w}
	go lw.drain()
	return lw
}

func (lw *loopWatcher) drain() {
	for {
		select {
		case _, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			lw.mu.Lock()
			lw.seen = true
			lw.mu.Unlock()
		case _, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// consumeSeen reports whether a filesystem event arrived since the last
// call, clearing the flag.
func (lw *loopWatcher) consumeSeen() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	seen := lw.seen
	lw.seen = false
	return seen
}

func (lw *loopWatcher) close() {
	_ = lw.watcher.Close()
}

func (sc *Scheduler) watcherFor(loopID, dir string) *loopWatcher {
	sc.watchMu.Lock()
	defer sc.watchMu.Unlock()
	if sc.watchers == nil {
		sc.watchers = make(map[string]*loopWatcher)
	}
	if lw, ok := sc.watchers[loopID]; ok {
		return lw
	}
	lw := newLoopWatcher(dir)
	sc.watchers[loopID] = lw
	return lw
}

// closeWatcher releases a terminal loop's fsnotify watch, if one was set
// up for it.
func (sc *Scheduler) closeWatcher(loopID string) {
	sc.watchMu.Lock()
	defer sc.watchMu.Unlock()
	if lw, ok := sc.watchers[loopID]; ok {
		if lw != nil {
			lw.close()
		}
		delete(sc.watchers, loopID)
	}
}
