package battery

import (
	"fmt"
	"strings"
	"time"
)

type monitorKind int

const (
	// monitorGeneric monitors an ordinary input device battery: polled
	// periodically, torn down when the last listener unregisters.
	monitorGeneric monitorKind = iota
	// monitorUsi monitors a Universal Stylus Initiative device: never
	// polled, persistent, and only valid for a bounded window after the
	// last confirming event.
	monitorUsi
)

func (k monitorKind) String() string {
	if k == monitorUsi {
		return "usi"
	}
	return "generic"
}

// deviceMonitor tracks the battery state of a single input device. All
// methods must be called with the controller lock held; the on* methods are
// the state-machine transitions, and each one notifies listeners only when
// the reported state actually changed.
type deviceMonitor struct {
	c    *Controller
	kind monitorKind

	state State
	// hasBattery tracks whether the device currently exposes a battery node.
	hasBattery bool

	ueventToken UEventToken

	// USI validity window. The reported state is present only while
	// usiValid; the generation counter invalidates timeout callbacks that
	// were superseded by a re-arm.
	usiValid    bool
	usiTimer    *time.Timer
	usiTimerGen uint64
}

// processChangesAndNotify applies a transition and fans out the new state to
// listeners if the reported value changed.
func (m *deviceMonitor) processChangesAndNotify(eventTime time.Time, changes func(time.Time)) {
	oldState := m.stateForReporting()
	changes(eventTime)
	newState := m.stateForReporting()
	if !oldState.EqualIgnoringUpdateTime(newState) {
		m.c.notifyAllListenersForDeviceLocked(newState)
	}
}

func (m *deviceMonitor) onConfiguration(eventTime time.Time) {
	m.processChangesAndNotify(eventTime, m.configure)

	if m.kind == monitorUsi && !m.hasBattery {
		panic(fmt.Sprintf("usi device %d is expected to always report a battery, but none was detected", m.state.DeviceID))
	}
}

// configure re-reads the device's battery capability and, if it flipped,
// toggles uevent monitoring and refreshes the state from the source.
func (m *deviceMonitor) configure(eventTime time.Time) {
	if m.hasBattery == m.c.registry.HasBattery(m.state.DeviceID) {
		return
	}
	m.hasBattery = !m.hasBattery
	if m.hasBattery {
		m.startMonitoring()
	} else {
		m.stopMonitoring()
	}
	m.updateStateFromSource(eventTime)
}

func (m *deviceMonitor) startMonitoring() {
	path := m.c.source.BatteryDevicePath(m.state.DeviceID)
	if path == "" {
		return
	}
	deviceID := m.state.DeviceID
	m.ueventToken = m.c.uevents.Subscribe(formatDevPath(path), func(eventTime time.Time) {
		m.c.handleUEventNotification(deviceID, eventTime)
	})
}

// formatDevPath strips the "/sys" prefix so the path matches the DEVPATH
// reported by the kernel.
func formatDevPath(path string) string {
	return strings.TrimPrefix(path, "/sys")
}

func (m *deviceMonitor) stopMonitoring() {
	if m.ueventToken != nil {
		m.c.uevents.Unsubscribe(m.ueventToken)
		m.ueventToken = nil
	}
}

// destroy must be called when the device is no longer being monitored.
func (m *deviceMonitor) destroy() {
	m.stopMonitoring()
}

func (m *deviceMonitor) updateStateFromSource(eventTime time.Time) {
	next := m.c.queryBatteryState(m.state.DeviceID, eventTime, m.hasBattery)
	// Keep the old timestamp when nothing but the timestamp would change.
	if !m.state.EqualIgnoringUpdateTime(next) {
		m.state = next
	}
}

func (m *deviceMonitor) onPoll(eventTime time.Time) {
	if m.kind == monitorUsi {
		// USI batteries are event driven; disregard polling.
		return
	}
	m.processChangesAndNotify(eventTime, m.updateStateFromSource)
}

func (m *deviceMonitor) onUEvent(eventTime time.Time) {
	if m.kind == monitorUsi {
		m.processChangesAndNotify(eventTime, func(t time.Time) {
			m.updateStateFromSource(t)
			m.markUsiBatteryValid()
		})
		return
	}
	m.processChangesAndNotify(eventTime, m.updateStateFromSource)
}

func (m *deviceMonitor) onStylusGestureStarted(eventTime time.Time) {
	if m.kind != monitorUsi {
		return
	}
	m.processChangesAndNotify(eventTime, func(time.Time) {
		if !m.usiValid && m.state.Capacity == 0 {
			// Some USI styluses report a capacity of 0 between boot and the
			// first real battery update. Do not validate the state from a
			// gesture alone in that window, or listeners would be told the
			// stylus battery is empty.
			return
		}
		m.markUsiBatteryValid()
	})
}

func (m *deviceMonitor) onTimeout(eventTime time.Time) {
	if m.kind != monitorUsi {
		return
	}
	m.processChangesAndNotify(eventTime, func(time.Time) {
		m.markUsiBatteryInvalid()
	})
}

func (m *deviceMonitor) requiresPolling() bool {
	return m.kind != monitorUsi
}

func (m *deviceMonitor) isPersistent() bool {
	return m.kind == monitorUsi
}

// markUsiBatteryValid arms (or re-arms) the validity timeout. At most one
// timeout callback is pending per device; stale callbacks are rejected by
// the generation check in Controller.handleMonitorTimeout.
func (m *deviceMonitor) markUsiBatteryValid() {
	if m.usiTimer != nil {
		m.usiTimer.Stop()
	}
	m.usiValid = true
	m.usiTimerGen++

	gen := m.usiTimerGen
	deviceID := m.state.DeviceID
	m.usiTimer = time.AfterFunc(m.c.usiValidityDuration, func() {
		m.c.handleMonitorTimeout(deviceID, gen)
	})
}

func (m *deviceMonitor) markUsiBatteryInvalid() {
	if !m.usiValid {
		return
	}
	m.usiTimer.Stop()
	m.usiTimer = nil
	m.usiValid = false
}

// stateForReporting returns the state that listeners should see. For USI
// monitors whose validity window has lapsed, that is an absent state
// regardless of the last known capacity.
func (m *deviceMonitor) stateForReporting() State {
	if m.kind == monitorUsi && !m.usiValid {
		return newAbsentState(m.state.DeviceID)
	}
	return m.state
}

func (m *deviceMonitor) String() string {
	subscription := "none"
	if m.ueventToken != nil {
		subscription = "subscribed"
	}
	s := fmt.Sprintf("deviceId=%d, name=%q, kind=%s, battery=%s, ueventSubscription=%s",
		m.state.DeviceID, m.c.registry.DeviceName(m.state.DeviceID), m.kind, m.state, subscription)
	if m.kind == monitorUsi {
		s += fmt.Sprintf(", usiStateValid=%t", m.usiValid)
	}
	return s
}
