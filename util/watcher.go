// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package util holds small infrastructure pieces shared across the discovery daemon that don't
// belong to any one port: the fsnotify-driven file watcher filestore.Store uses to pick up an
// operator's edit to its YAML document without a daemon restart, the control-surface Route
// helpers, and a string-hashing helper.
package util

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	notify "github.com/fsnotify/fsnotify"
	log "github.com/hpe-storage/iscsid-core/logger"
)

// quietPeriod debounces a burst of writes from a single save (editors commonly truncate then
// rewrite, firing two or three fsnotify events for one logical edit).
const quietPeriod = time.Second

// FileWatch watches a set of files and invokes a callback on change, until stopped or the process
// receives a termination signal.
type FileWatch struct {
	watchStop chan struct{}
	watcher   *notify.Watcher
	onChange  func()
	wg        sync.WaitGroup
}

// InitializeWatcher creates a FileWatch that calls onChange whenever a watched file is written,
// and arranges for the watcher to be stopped cleanly on SIGTERM/SIGHUP/SIGINT.
func InitializeWatcher(onChange func()) (*FileWatch, error) {
	log.Trace(">>>>> InitializeWatcher")
	defer log.Trace("<<<<< InitializeWatcher")

	watcher, err := notify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watch := &FileWatch{
		watchStop: make(chan struct{}),
		watcher:   watcher,
		onChange:  onChange,
	}
	watch.wg.Add(1)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	go func() {
		sig := <-sigc
		log.Infof("watcher: received %s signal, stopping", sig)
		watch.stop()
		watch.wg.Wait()
	}()

	return watch, nil
}

// AddWatchList registers the given paths for change notification. At least one path is required.
func (w *FileWatch) AddWatchList(files []string) error {
	log.Trace(">>>>> AddWatchList")
	defer log.Trace("<<<<< AddWatchList")

	if len(files) == 0 {
		return fmt.Errorf("watcher: empty watch list, at least one path is required")
	}

	for _, path := range files {
		if err := w.watcher.Add(path); err != nil {
			log.Warnf("watcher: could not watch %s, err=%s", path, err.Error())
			continue
		}
		log.Tracef("watcher: watching %s", path)
	}
	return nil
}

// StartWatcher blocks, invoking onChange on every fsnotify event (debounced by quietPeriod) until
// the process receives a termination signal, which stops the watcher. Run it in its own goroutine.
func (w *FileWatch) StartWatcher() {
	log.Trace(">>>>> StartWatcher")
	defer log.Trace("<<<<< StartWatcher")

	pid := os.Getpid()
	log.Tracef("watcher: started, pid=%d", pid)
	for {
		select {
		case <-w.watchStop:
			log.Infof("watcher: stopping, pid=%d", pid)
			w.watcher.Close()
			w.wg.Done()
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			log.Infof("watcher: change notification received, pid=%d", pid)
			w.onChange()
			// Editors often fire several events for one logical save; hold off before
			// watching for the next one so a single edit doesn't trigger repeated reloads.
			time.Sleep(quietPeriod)
		}
	}
}

// stop signals StartWatcher to exit.
func (w *FileWatch) stop() {
	log.Trace(">>>>> stop")
	defer log.Trace("<<<<< stop")
	close(w.watchStop)
}
