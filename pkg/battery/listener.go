package battery

import (
	"fmt"
	"sort"
)

// Listener receives battery state updates for the devices it monitors. A
// delivery error is logged by the controller and never affects other
// listeners or the controller's state. Listener values are compared with ==
// to detect re-registration from the same process, so implementations must
// be comparable (pointer receivers are the common case).
type Listener interface {
	OnBatteryStateChanged(state State) error
}

// DisconnectWatcher is implemented by listeners whose transport can detect
// that the remote client has gone away. The controller attaches the hook
// exactly once when the process's listener record is created and detaches it
// exactly once when the record is destroyed. WatchDisconnect returns an error
// if the client is already gone, in which case registration is silently
// abandoned.
type DisconnectWatcher interface {
	WatchDisconnect(hook func()) error
	UnwatchDisconnect()
}

// listenerRecord tracks the registered battery listener of one process. There
// is at most one record per pid, and its monitored-device set is non-empty
// for as long as the record exists.
type listenerRecord struct {
	pid              int32
	listener         Listener
	monitoredDevices map[int32]struct{}
}

func newListenerRecord(pid int32, listener Listener) *listenerRecord {
	return &listenerRecord{
		pid:              pid,
		listener:         listener,
		monitoredDevices: make(map[int32]struct{}),
	}
}

func (r *listenerRecord) String() string {
	devices := make([]int, 0, len(r.monitoredDevices))
	for deviceID := range r.monitoredDevices {
		devices = append(devices, int(deviceID))
	}
	sort.Ints(devices)
	return fmt.Sprintf("pid=%d, monitored devices=%v", r.pid, devices)
}
