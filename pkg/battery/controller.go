// Package battery implements monitoring of input device batteries: a
// thread-safe controller that tracks per-device battery state, serves
// synchronous queries, and fans out change notifications to registered
// listeners.
//
// The controller is entered from several threads at once (RPC handlers, the
// uevent subscription, its own poll and timeout timers, and device hotplug
// callbacks); every entry point serializes through a single lock, so state
// transitions for a given device are totally ordered and listeners never see
// duplicate consecutive states.
package battery

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollingPeriod is the interval between battery polls for devices
	// that require polling.
	DefaultPollingPeriod = 10 * time.Second
	// DefaultUsiValidityDuration is how long a USI battery state stays valid
	// after the last confirming event.
	DefaultUsiValidityDuration = time.Hour
)

// Option configures a Controller.
type Option func(*Controller)

// WithPollingPeriod overrides the battery polling period.
func WithPollingPeriod(d time.Duration) Option {
	return func(c *Controller) { c.pollingPeriod = d }
}

// WithUsiValidityDuration overrides the USI battery validity window.
func WithUsiValidityDuration(d time.Duration) Option {
	return func(c *Controller) { c.usiValidityDuration = d }
}

// Controller coordinates battery monitoring for all input devices. It owns
// the listener-record and device-monitor tables, the polling schedule, and
// the interactivity flag, all guarded by one mutex.
type Controller struct {
	registry DeviceRegistry
	source   BatterySource
	uevents  UEventManager

	pollingPeriod       time.Duration
	usiValidityDuration time.Duration
	now                 func() time.Time

	mu sync.Mutex
	// listenerRecords maps a pid to the registered listener record for that
	// process. There can only be one battery listener per process.
	listenerRecords map[int32]*listenerRecord
	// deviceMonitors maps a monitored deviceId to its battery monitor.
	deviceMonitors map[int32]*deviceMonitor

	isPolling     bool
	isInteractive bool
	// pollGen invalidates poll timer callbacks scheduled before the last
	// polling stop or restart.
	pollGen   uint64
	pollTimer *time.Timer
}

// NewController creates a battery Controller. The registry, source, and
// uevent manager are the system collaborators; fakes can be injected for
// testing.
func NewController(registry DeviceRegistry, source BatterySource, uevents UEventManager, opts ...Option) *Controller {
	c := &Controller{
		registry:            registry,
		source:              source,
		uevents:             uevents,
		pollingPeriod:       DefaultPollingPeriod,
		usiValidityDuration: DefaultUsiValidityDuration,
		now:                 time.Now,
		listenerRecords:     make(map[int32]*listenerRecord),
		deviceMonitors:      make(map[int32]*deviceMonitor),
		isInteractive:       true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SystemRunning reports every device already present in the registry to the
// controller, starting persistent monitors for USI devices immediately.
func (c *Controller) SystemRunning() {
	for _, deviceID := range c.registry.DeviceIDs() {
		c.OnDeviceAdded(deviceID)
	}
}

// RegisterListener registers the listener of the given process for battery
// updates of the given device and starts monitoring it. The monitor's
// current state is delivered to the listener synchronously before
// RegisterListener returns.
func (c *Controller) RegisterListener(deviceID int32, listener Listener, pid int32) error {
	if listener == nil {
		panic("listener cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.listenerRecords[pid]
	if !ok {
		record = newListenerRecord(pid, listener)
		if watcher, ok := listener.(DisconnectWatcher); ok {
			if err := watcher.WatchDisconnect(func() { c.HandleListeningProcessDied(pid) }); err != nil {
				logrus.Infof("client died before battery listener could be registered (pid %d)", pid)
				return nil
			}
		}
		c.listenerRecords[pid] = record
		logrus.Debugf("battery listener added for pid %d", pid)
	}

	if record.listener != listener {
		return errors.Wrapf(ErrAlreadyRegisteredDifferentListener, "pid %d", pid)
	}
	if _, ok := record.monitoredDevices[deviceID]; ok {
		return errors.Wrapf(ErrDuplicateMonitoring, "pid %d, deviceId %d", pid, deviceID)
	}
	record.monitoredDevices[deviceID] = struct{}{}

	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		// This is the first listener that is monitoring this device.
		monitor = c.newDeviceMonitorLocked(deviceID, monitorGeneric)
		c.deviceMonitors[deviceID] = monitor
	}

	logrus.WithFields(logrus.Fields{
		"pid":      pid,
		"deviceId": deviceID,
	}).Debug("battery listener is monitoring device")

	c.updatePollingLocked(true /*delayStart*/)
	notifyListener(record, monitor.stateForReporting())
	return nil
}

// UnregisterListener unregisters the listener of the given process for the
// given device and stops monitoring the device if no other listener is
// interested in it.
func (c *Controller) UnregisterListener(deviceID int32, listener Listener, pid int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.listenerRecords[pid]
	if !ok {
		return errors.Wrapf(ErrNotRegistered, "pid %d", pid)
	}
	if record.listener != listener {
		return errors.Wrapf(ErrListenerMismatch, "pid %d", pid)
	}
	if _, ok := record.monitoredDevices[deviceID]; !ok {
		return errors.Wrapf(ErrNotMonitoringDevice, "pid %d, deviceId %d", pid, deviceID)
	}

	c.unregisterRecordLocked(record, deviceID)
	return nil
}

func (c *Controller) unregisterRecordLocked(record *listenerRecord, deviceID int32) {
	delete(record.monitoredDevices, deviceID)

	if !c.hasRegisteredListenerForDeviceLocked(deviceID) {
		// There are no more listeners monitoring this device.
		monitor := c.deviceMonitorOrPanicLocked(deviceID)
		if !monitor.isPersistent() {
			monitor.destroy()
			delete(c.deviceMonitors, deviceID)
		}
	}

	if len(record.monitoredDevices) == 0 {
		// There are no more devices being monitored by this listener.
		if watcher, ok := record.listener.(DisconnectWatcher); ok {
			watcher.UnwatchDisconnect()
		}
		delete(c.listenerRecords, record.pid)
		logrus.Debugf("battery listener removed for pid %d", record.pid)
	}

	c.updatePollingLocked(false /*delayStart*/)
}

func (c *Controller) hasRegisteredListenerForDeviceLocked(deviceID int32) bool {
	for _, record := range c.listenerRecords {
		if _, ok := record.monitoredDevices[deviceID]; ok {
			return true
		}
	}
	return false
}

// deviceMonitorOrPanicLocked looks up a monitor that the tables claim must
// exist. A miss means the listener and monitor tables are out of sync, which
// is a bookkeeping bug, not a runtime condition.
func (c *Controller) deviceMonitorOrPanicLocked(deviceID int32) *deviceMonitor {
	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		panic(fmt.Sprintf("tables are out of sync: cannot find device monitor for deviceId %d", deviceID))
	}
	return monitor
}

// HandleListeningProcessDied unregisters the dying process from every device
// it was monitoring, exactly as if it had called UnregisterListener for each.
// It is invoked by the transport layer when it detects a client disconnect.
func (c *Controller) HandleListeningProcessDied(pid int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.listenerRecords[pid]
	if !ok {
		return
	}
	logrus.Debugf("removing battery listener for pid %d because the process died", pid)
	for deviceID := range record.monitoredDevices {
		c.unregisterRecordLocked(record, deviceID)
	}
}

// GetBatteryState returns the freshest observable battery state of a device.
// If the device is being monitored, its monitor is forced to refresh first so
// callers never see stale pre-poll data; otherwise the device is queried
// directly for an unmonitored snapshot.
func (c *Controller) GetBatteryState(deviceID int32) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	updateTime := c.now()
	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		// The device's battery is not being monitored by any listener.
		return c.queryBatteryState(deviceID, updateTime, c.registry.HasBattery(deviceID))
	}
	// Force the battery state to update, and notify listeners if necessary.
	monitor.onPoll(updateTime)
	return monitor.stateForReporting()
}

// queryBatteryState reads a device's battery attributes from the source.
func (c *Controller) queryBatteryState(deviceID int32, updateTime time.Time, isPresent bool) State {
	state := newAbsentState(deviceID)
	state.UpdateTime = updateTime
	if isPresent {
		state.IsPresent = true
		state.Status = c.source.QueryStatus(deviceID)
		state.Capacity = float32(c.source.QueryCapacity(deviceID)) / 100
	}
	return state
}

// OnInteractiveChanged suspends polling entirely while the system is not
// interactive and resumes it when interactivity returns.
func (c *Controller) OnInteractiveChanged(interactive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isInteractive = interactive
	c.updatePollingLocked(false /*delayStart*/)
}

// NotifyStylusGestureStarted forwards a stylus gesture to the device's
// monitor if the device is being monitored; it is a no-op otherwise.
func (c *Controller) NotifyStylusGestureStarted(deviceID int32, eventTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		return
	}
	monitor.onStylusGestureStarted(eventTime)
}

// OnDeviceAdded eagerly starts a persistent monitor for USI devices, even
// before any listener registers interest.
func (c *Controller) OnDeviceAdded(deviceID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.deviceMonitors[deviceID]; ok {
		return
	}
	if c.registry.SupportsUsi(deviceID) {
		// Start monitoring USI devices immediately.
		c.deviceMonitors[deviceID] = c.newDeviceMonitorLocked(deviceID, monitorUsi)
	}
}

// OnDeviceRemoved is part of the device registry event stream. Monitors are
// torn down by listener demand, so removal itself requires no action.
func (c *Controller) OnDeviceRemoved(deviceID int32) {}

// OnDeviceChanged re-reads the device's battery configuration and notifies
// listeners if the reported state changed as a result.
func (c *Controller) OnDeviceChanged(deviceID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		return
	}
	monitor.onConfiguration(c.now())
}

func (c *Controller) newDeviceMonitorLocked(deviceID int32, kind monitorKind) *deviceMonitor {
	m := &deviceMonitor{
		c:     c,
		kind:  kind,
		state: newAbsentState(deviceID),
	}
	// Load the initial battery state and start uevent monitoring.
	m.configure(c.now())
	return m
}

// updatePollingLocked starts or stops the polling timer chain. Polling runs
// only while the system is interactive and at least one monitor requires
// polling. delayStart postpones the first tick by one full period, which
// avoids a redundant poll right after the synchronous delivery that follows
// a registration.
func (c *Controller) updatePollingLocked(delayStart bool) {
	if !c.isInteractive || !c.anyMonitorRequiresPollingLocked() {
		// Stop polling.
		c.isPolling = false
		c.pollGen++
		if c.pollTimer != nil {
			c.pollTimer.Stop()
			c.pollTimer = nil
		}
		return
	}

	if c.isPolling {
		return
	}
	// Start polling.
	c.isPolling = true
	c.pollGen++
	gen := c.pollGen
	delay := time.Duration(0)
	if delayStart {
		delay = c.pollingPeriod
	}
	c.pollTimer = time.AfterFunc(delay, func() { c.handlePollEvent(gen) })
}

func (c *Controller) anyMonitorRequiresPollingLocked() bool {
	for _, monitor := range c.deviceMonitors {
		if monitor.requiresPolling() {
			return true
		}
	}
	return false
}

func (c *Controller) handlePollEvent(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isPolling || gen != c.pollGen {
		return
	}
	eventTime := c.now()
	for _, monitor := range c.deviceMonitors {
		monitor.onPoll(eventTime)
	}
	c.pollTimer = time.AfterFunc(c.pollingPeriod, func() { c.handlePollEvent(gen) })
}

func (c *Controller) handleUEventNotification(deviceID int32, eventTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	monitor, ok := c.deviceMonitors[deviceID]
	if !ok {
		return
	}
	monitor.onUEvent(eventTime)
}

func (c *Controller) handleMonitorTimeout(deviceID int32, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	monitor, ok := c.deviceMonitors[deviceID]
	if !ok || monitor.usiTimerGen != gen {
		return
	}
	monitor.onTimeout(c.now())
}

// notifyAllListenersForDeviceLocked delivers a state to every listener whose
// monitored-device set contains the state's device.
func (c *Controller) notifyAllListenersForDeviceLocked(state State) {
	logrus.Debugf("notifying all listeners of battery state: %s", state)
	for _, record := range c.listenerRecords {
		if _, ok := record.monitoredDevices[state.DeviceID]; ok {
			notifyListener(record, state)
		}
	}
}

func notifyListener(record *listenerRecord, state State) {
	if err := record.listener.OnBatteryStateChanged(state); err != nil {
		logrus.WithFields(logrus.Fields{
			"pid":      record.pid,
			"deviceId": state.DeviceID,
		}).Errorf("failed to notify battery listener: %v", err)
	}
}

// Dump writes a diagnostic summary of the controller's state.
func (c *Controller) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(w, "BatteryController:\n")
	fmt.Fprintf(w, "  State: Polling = %t, Interactive = %t\n", c.isPolling, c.isInteractive)

	fmt.Fprintf(w, "  Listeners: %d battery listeners\n", len(c.listenerRecords))
	for i, pid := range sortedKeys(c.listenerRecords) {
		fmt.Fprintf(w, "    %d: %s\n", i, c.listenerRecords[pid])
	}

	fmt.Fprintf(w, "  Device Monitors: %d monitors\n", len(c.deviceMonitors))
	for i, deviceID := range sortedKeys(c.deviceMonitors) {
		fmt.Fprintf(w, "    %d: %s\n", i, c.deviceMonitors[deviceID])
	}
}

func sortedKeys[V any](m map[int32]V) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
