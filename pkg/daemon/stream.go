package daemon

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/inputdevd/battd/pkg/battery"
)

// streamListener is the battery.Listener behind one open SSE connection.
// Closing the connection is the process-death signal for every device the
// client registered on this stream.
type streamListener struct {
	pid int32
	ch  chan battery.State

	mu     sync.Mutex
	hook   func()
	closed bool
}

var (
	_ battery.Listener          = &streamListener{}
	_ battery.DisconnectWatcher = &streamListener{}
)

func newStreamListener(pid int32) *streamListener {
	return &streamListener{pid: pid, ch: make(chan battery.State, 32)}
}

func (l *streamListener) OnBatteryStateChanged(state battery.State) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.New("stream is closed")
	}

	select {
	case l.ch <- state:
		return nil
	default:
		return errors.Errorf("stream buffer is full for pid %d", l.pid)
	}
}

func (l *streamListener) WatchDisconnect(hook func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("stream is closed")
	}
	l.hook = hook
	return nil
}

func (l *streamListener) UnwatchDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = nil
}

// close marks the stream dead and fires the disconnect hook. The hook is
// invoked outside the listener lock because it re-enters the controller,
// which calls UnwatchDisconnect on the way out.
func (l *streamListener) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// streamRegistry tracks the open battery stream of each client process so
// the register/unregister endpoints can find the process's listener handle.
type streamRegistry struct {
	mu    sync.Mutex
	byPid map[int32]*streamListener
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{byPid: make(map[int32]*streamListener)}
}

func (r *streamRegistry) add(pid int32, l *streamListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPid[pid]; ok {
		return false
	}
	r.byPid[pid] = l
	return true
}

func (r *streamRegistry) remove(pid int32, l *streamListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byPid[pid] == l {
		delete(r.byPid, pid)
	}
}

func (r *streamRegistry) get(pid int32) (*streamListener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byPid[pid]
	return l, ok
}
