package xpd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// StackWatcher reports frame stacks as they appear in a directory.
type StackWatcher struct {
	dir string
	w   *fsnotify.Watcher

	// OnStack is called with each stack that was created, written or moved into the directory.
	OnStack func(r *ExposureRecord)
	// OnRemove, if set, is called with the path of each removed stack.
	OnRemove func(path string)
}

// NewStackWatcher starts watching dir. Events are delivered once Run is called.
func NewStackWatcher(dir string, onStack func(r *ExposureRecord)) (*StackWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	klog.Infof("watching %s ...", dir)
	return &StackWatcher{dir: dir, w: w, OnStack: onStack}, nil
}

// WatchDarks keeps idx current with dark stacks arriving in or leaving dir.
func WatchDarks(dir string, idx *DarkIndex) (*StackWatcher, error) {
	sw, err := NewStackWatcher(dir, func(r *ExposureRecord) {
		if !r.IsDark {
			return
		}
		if err := idx.Register(r); err != nil {
			klog.Warningf("unable to register %s: %v", r.Path, err)
		}
	})
	if err != nil {
		return nil, err
	}
	sw.OnRemove = func(path string) {
		if n := idx.Forget(path); n > 0 {
			klog.Infof("forgot %d dark stacks from %s", n, path)
		}
	}
	return sw, nil
}

// Run delivers events until ctx is done, then closes the watcher.
func (sw *StackWatcher) Run(ctx context.Context) error {
	defer sw.w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sw.w.Events:
			if !ok {
				return nil
			}
			sw.handle(ev)
		case err, ok := <-sw.w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch %s: %v", sw.dir, err)
		}
	}
}

func (sw *StackWatcher) handle(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, StackExt) {
		return
	}
	klog.V(1).Infof("event: %s", ev)

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if sw.OnRemove != nil {
			sw.OnRemove(ev.Name)
		}
		return
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	r, err := ReadStack(ev.Name)
	if err != nil {
		// stacks are often seen half-written; a later write event retries
		klog.V(1).Infof("not ready: %s: %v", ev.Name, err)
		return
	}
	if sw.OnStack != nil {
		sw.OnStack(r)
	}
}
