package sysfs

import (
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DeviceObserver receives device hotplug events. battery.Controller
// implements it.
type DeviceObserver interface {
	OnDeviceAdded(deviceID int32)
	OnDeviceRemoved(deviceID int32)
	OnDeviceChanged(deviceID int32)
}

// Watcher reports input device hotplug to an observer. sysfs does not emit
// inotify events, so it watches /dev/input (whose event nodes appear and
// disappear with the devices) and diffs the registry on every change.
type Watcher struct {
	system   *System
	observer DeviceObserver
	devDir   string

	fsw   *fsnotify.Watcher
	known map[int32]struct{}
	done  chan struct{}
}

type WatcherOption func(*Watcher)

// WithDevDir overrides the watched device directory. Used by tests.
func WithDevDir(dir string) WatcherOption {
	return func(w *Watcher) { w.devDir = dir }
}

func NewWatcher(system *System, observer DeviceObserver, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		system:   system,
		observer: observer,
		devDir:   "/dev/input",
		known:    make(map[int32]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(w.devDir); err != nil {
		_ = fsw.Close()
		return errors.Wrapf(err, "failed to watch %s", w.devDir)
	}
	w.fsw = fsw

	// Snapshot the devices present at startup; they were already reported
	// through SystemRunning.
	for _, id := range w.system.DeviceIDs() {
		w.known[id] = struct{}{}
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove) != 0 {
				w.rescan()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logrus.Warnf("device watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// rescan diffs the current registry contents against the last snapshot and
// reports additions and removals.
func (w *Watcher) rescan() {
	current := make(map[int32]struct{})
	for _, id := range w.system.DeviceIDs() {
		current[id] = struct{}{}
	}

	for id := range current {
		if _, ok := w.known[id]; !ok {
			logrus.WithFields(logrus.Fields{
				"deviceId": id,
				"name":     w.system.DeviceName(id),
			}).Info("input device added")
			w.observer.OnDeviceAdded(id)
		}
	}
	for id := range w.known {
		if _, ok := current[id]; !ok {
			logrus.WithFields(logrus.Fields{"deviceId": id}).Info("input device removed")
			w.observer.OnDeviceRemoved(id)
		}
	}
	w.known = current
}

func (w *Watcher) Close() {
	select {
	case <-w.done: // already closed
	default:
		close(w.done)
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}
