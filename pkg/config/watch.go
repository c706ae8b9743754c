package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors emit for one save.
const reloadDelay = 100 * time.Millisecond

// WatchRuntime reloads the overlay at path whenever it changes and hands it
// to onChange. The parent directory is watched so atomic rename-on-save is
// seen. The watcher stops when ctx ends.
func WatchRuntime(ctx context.Context, path string, onChange func(*Runtime), onError func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return err
	}

	reload := func() {
		rt, err := LoadRuntime(abs)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(rt)
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(err)
				}
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadDelay, reload)
			}
		}
	}()
	return nil
}
