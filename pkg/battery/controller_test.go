package battery

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

const (
	testDevPathSys = "/sys/devices/hid0001/power_supply/hid-battery"
	testDevPath    = "/devices/hid0001/power_supply/hid-battery"
)

func newTestController(opts ...Option) (*Controller, *fakeSystem, *fakeUEvents) {
	system := newFakeSystem()
	uevents := newFakeUEvents()
	c := NewController(system, system, uevents, opts...)
	return c, system, uevents
}

func waitForState(t *testing.T, ch chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a battery state delivery")
		return State{}
	}
}

func expectNoState(t *testing.T, ch chan State, d time.Duration) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("expected no delivery, got %s", s)
	case <-time.After(d):
	}
}

func drain(ch chan State) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestRegisterListenerDeliversInitialState(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{
		name: "wireless mouse", battery: true,
		status: StatusDischarging, capacity: 80, path: testDevPathSys,
	})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("RegisterListener returned error: %v", err)
	}

	if listener.count() != 1 {
		t.Fatalf("expected exactly one synchronous delivery, got %d", listener.count())
	}
	state := listener.last()
	if !state.IsPresent || state.Status != StatusDischarging || state.Capacity != 0.80 {
		t.Fatalf("unexpected initial state: %s", state)
	}
	if state.DeviceID != 5 {
		t.Fatalf("expected deviceId 5, got %d", state.DeviceID)
	}
}

func TestRegisterListenerRejectsDifferentListenerForSamePid(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{battery: true, capacity: 50})

	if err := c.RegisterListener(5, newTestListener(), 100); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := c.RegisterListener(6, newTestListener(), 100)
	if !errors.Is(err, ErrAlreadyRegisteredDifferentListener) {
		t.Fatalf("expected ErrAlreadyRegisteredDifferentListener, got %v", err)
	}
}

func TestRegisterListenerRejectsDuplicateDevice(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{battery: true, capacity: 50})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := c.RegisterListener(5, listener, 100)
	if !errors.Is(err, ErrDuplicateMonitoring) {
		t.Fatalf("expected ErrDuplicateMonitoring, got %v", err)
	}
}

func TestUnregisterListenerContractViolations(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{battery: true, capacity: 50})

	listener := newTestListener()
	if err := c.UnregisterListener(5, listener, 100); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}

	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if err := c.UnregisterListener(5, newTestListener(), 100); !errors.Is(err, ErrListenerMismatch) {
		t.Fatalf("expected ErrListenerMismatch, got %v", err)
	}
	if err := c.UnregisterListener(7, listener, 100); !errors.Is(err, ErrNotMonitoringDevice) {
		t.Fatalf("expected ErrNotMonitoringDevice, got %v", err)
	}

	if err := c.UnregisterListener(5, listener, 100); err != nil {
		t.Fatalf("valid unregistration failed: %v", err)
	}
}

func TestMonitorLifecycleFollowsListenerDemand(t *testing.T) {
	c, system, uevents := newTestController()
	system.addDevice(5, fakeDevice{battery: true, capacity: 50, path: testDevPathSys})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if uevents.subscriptionCount() != 1 {
		t.Fatalf("expected one uevent subscription after registration, got %d", uevents.subscriptionCount())
	}

	if err := c.UnregisterListener(5, listener, 100); err != nil {
		t.Fatalf("unregistration failed: %v", err)
	}
	if uevents.subscriptionCount() != 0 {
		t.Fatalf("expected uevent subscription to be torn down, got %d", uevents.subscriptionCount())
	}

	var dump strings.Builder
	c.Dump(&dump)
	if !strings.Contains(dump.String(), "Device Monitors: 0 monitors") {
		t.Fatalf("expected monitor to be destroyed, dump:\n%s", dump.String())
	}
}

func TestUsiMonitorIsPersistent(t *testing.T) {
	c, system, uevents := newTestController()
	system.addDevice(3, fakeDevice{
		name: "usi stylus", battery: true, usi: true, capacity: 40, path: testDevPathSys,
	})
	c.SystemRunning()

	if uevents.subscriptionCount() != 1 {
		t.Fatalf("expected usi monitor to subscribe at discovery, got %d subscriptions", uevents.subscriptionCount())
	}

	listener := newTestListener()
	if err := c.RegisterListener(3, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if err := c.UnregisterListener(3, listener, 100); err != nil {
		t.Fatalf("unregistration failed: %v", err)
	}

	var dump strings.Builder
	c.Dump(&dump)
	if !strings.Contains(dump.String(), "Device Monitors: 1 monitors") {
		t.Fatalf("expected usi monitor to be retained with zero listeners, dump:\n%s", dump.String())
	}
	if uevents.subscriptionCount() != 1 {
		t.Fatalf("expected usi subscription to be retained, got %d", uevents.subscriptionCount())
	}
}

func TestProcessDeathCleansUpFully(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(3, fakeDevice{battery: true, capacity: 50})
	system.addDevice(7, fakeDevice{battery: true, capacity: 60})

	listener := newConnListener()
	if err := c.RegisterListener(3, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if err := c.RegisterListener(7, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if listener.watched != 1 {
		t.Fatalf("expected disconnect hook to be attached exactly once, got %d", listener.watched)
	}

	listener.disconnect()

	var dump strings.Builder
	c.Dump(&dump)
	if !strings.Contains(dump.String(), "Listeners: 0 battery listeners") {
		t.Fatalf("expected listener record to be removed, dump:\n%s", dump.String())
	}
	if !strings.Contains(dump.String(), "Device Monitors: 0 monitors") {
		t.Fatalf("expected monitors to be removed, dump:\n%s", dump.String())
	}
	if listener.unwatched != 1 {
		t.Fatalf("expected disconnect hook to be detached exactly once, got %d", listener.unwatched)
	}

	if err := c.UnregisterListener(3, listener, 100); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered after process death, got %v", err)
	}
}

func TestDeadClientAbortsRegistrationSilently(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{battery: true, capacity: 50})

	listener := newConnListener()
	listener.dead = true
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("expected silent abort, got error: %v", err)
	}
	if listener.count() != 0 {
		t.Fatalf("expected no delivery to a dead client, got %d", listener.count())
	}

	var dump strings.Builder
	c.Dump(&dump)
	if !strings.Contains(dump.String(), "Listeners: 0 battery listeners") {
		t.Fatalf("expected no listener record for a dead client, dump:\n%s", dump.String())
	}
}

func TestIdenticalUEventsNotifyOnce(t *testing.T) {
	c, system, uevents := newTestController()
	system.addDevice(5, fakeDevice{
		battery: true, status: StatusDischarging, capacity: 80, path: testDevPathSys,
	})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if listener.count() != 1 {
		t.Fatalf("expected one initial delivery, got %d", listener.count())
	}

	// Identical readings must not re-trigger delivery.
	uevents.fire(testDevPath, time.Now())
	uevents.fire(testDevPath, time.Now())
	if listener.count() != 1 {
		t.Fatalf("identical uevents re-triggered delivery: %d deliveries", listener.count())
	}

	system.setCapacity(5, 75)
	uevents.fire(testDevPath, time.Now())
	if listener.count() != 2 {
		t.Fatalf("expected exactly one delivery for the changed state, got %d total", listener.count())
	}
	if state := listener.last(); state.Capacity != 0.75 {
		t.Fatalf("expected capacity 0.75, got %s", state)
	}

	uevents.fire(testDevPath, time.Now())
	if listener.count() != 2 {
		t.Fatalf("identical uevent after a change re-triggered delivery: %d deliveries", listener.count())
	}
}

func TestPollingGatedByInteractivity(t *testing.T) {
	c, system, _ := newTestController(WithPollingPeriod(25 * time.Millisecond))
	system.addDevice(5, fakeDevice{battery: true, status: StatusDischarging, capacity: 80})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	drain(listener.ch)

	system.setCapacity(5, 60)
	if state := waitForState(t, listener.ch); state.Capacity != 0.60 {
		t.Fatalf("expected polled capacity 0.60, got %s", state)
	}

	c.OnInteractiveChanged(false)
	drain(listener.ch)
	system.setCapacity(5, 40)
	expectNoState(t, listener.ch, 150*time.Millisecond)

	c.OnInteractiveChanged(true)
	if state := waitForState(t, listener.ch); state.Capacity != 0.40 {
		t.Fatalf("expected polling to resume with capacity 0.40, got %s", state)
	}
}

func TestGetBatteryStateForcesFreshPoll(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(5, fakeDevice{battery: true, status: StatusDischarging, capacity: 80})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	system.setCapacity(5, 55)
	state := c.GetBatteryState(5)
	if state.Capacity != 0.55 {
		t.Fatalf("expected a forced poll to return fresh capacity 0.55, got %s", state)
	}
	// The forced poll produced a change, so the listener hears about it too.
	if listener.count() != 2 {
		t.Fatalf("expected the forced poll to notify the listener, got %d deliveries", listener.count())
	}
}

func TestGetBatteryStateUnmonitoredDevice(t *testing.T) {
	c, system, _ := newTestController()
	system.addDevice(9, fakeDevice{battery: true, status: StatusCharging, capacity: 30})

	state := c.GetBatteryState(9)
	if !state.IsPresent || state.Status != StatusCharging || state.Capacity != 0.30 {
		t.Fatalf("unexpected unmonitored snapshot: %s", state)
	}

	absent := c.GetBatteryState(10)
	if absent.IsPresent || absent.Status != StatusUnknown || !math.IsNaN(float64(absent.Capacity)) {
		t.Fatalf("expected absent snapshot for unknown device, got %s", absent)
	}
}

func TestUsiValidityWindow(t *testing.T) {
	c, system, uevents := newTestController(WithUsiValidityDuration(60 * time.Millisecond))
	system.addDevice(3, fakeDevice{
		battery: true, usi: true, status: StatusDischarging, capacity: 70, path: testDevPathSys,
	})
	c.SystemRunning()

	listener := newTestListener()
	if err := c.RegisterListener(3, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	// Without a confirming event, the usi battery is reported absent.
	if state := listener.last(); state.IsPresent {
		t.Fatalf("expected initial usi state to be absent, got %s", state)
	}
	drain(listener.ch)

	uevents.fire(testDevPath, time.Now())
	state := waitForState(t, listener.ch)
	if !state.IsPresent || state.Capacity != 0.70 {
		t.Fatalf("expected valid usi state after uevent, got %s", state)
	}
	if got := c.GetBatteryState(3); !got.IsPresent {
		t.Fatalf("expected GetBatteryState to report presence inside the validity window, got %s", got)
	}

	// With no further events, the validity timeout flips the state back to
	// absent.
	state = waitForState(t, listener.ch)
	if state.IsPresent {
		t.Fatalf("expected usi state to expire, got %s", state)
	}
	if got := c.GetBatteryState(3); got.IsPresent {
		t.Fatalf("expected GetBatteryState to report absence after expiry, got %s", got)
	}
}

func TestUsiUEventReArmsValidityTimeout(t *testing.T) {
	c, system, uevents := newTestController(WithUsiValidityDuration(80 * time.Millisecond))
	system.addDevice(3, fakeDevice{
		battery: true, usi: true, status: StatusDischarging, capacity: 70, path: testDevPathSys,
	})
	c.SystemRunning()

	listener := newTestListener()
	if err := c.RegisterListener(3, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	drain(listener.ch)

	uevents.fire(testDevPath, time.Now())
	waitForState(t, listener.ch) // now valid

	// Confirming events inside the window keep the state valid.
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		uevents.fire(testDevPath, time.Now())
	}
	if got := c.GetBatteryState(3); !got.IsPresent {
		t.Fatalf("expected re-armed validity window to keep the state present, got %s", got)
	}
}

func TestUsiStylusGestureValidation(t *testing.T) {
	c, system, uevents := newTestController(WithUsiValidityDuration(60 * time.Millisecond))
	system.addDevice(3, fakeDevice{
		battery: true, usi: true, status: StatusDischarging, capacity: 0, path: testDevPathSys,
	})
	c.SystemRunning()

	listener := newTestListener()
	if err := c.RegisterListener(3, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	drain(listener.ch)

	// A gesture with an unvalidated zero-capacity reading must not validate
	// the state: some styluses report 0 between boot and the first real
	// battery update.
	c.NotifyStylusGestureStarted(3, time.Now())
	if got := c.GetBatteryState(3); got.IsPresent {
		t.Fatalf("expected boot-time zero-capacity guard to hold, got %s", got)
	}

	system.setCapacity(3, 70)
	uevents.fire(testDevPath, time.Now())
	state := waitForState(t, listener.ch)
	if !state.IsPresent || state.Capacity != 0.70 {
		t.Fatalf("expected valid state after uevent, got %s", state)
	}

	// Let the validity window lapse, then confirm a gesture re-validates the
	// battery using the last known reading.
	state = waitForState(t, listener.ch)
	if state.IsPresent {
		t.Fatalf("expected state to expire, got %s", state)
	}
	c.NotifyStylusGestureStarted(3, time.Now())
	state = waitForState(t, listener.ch)
	if !state.IsPresent || state.Capacity != 0.70 {
		t.Fatalf("expected gesture to re-validate with last known capacity, got %s", state)
	}
}

func TestListenerDeliveryErrorIsolation(t *testing.T) {
	c, system, uevents := newTestController()
	system.addDevice(5, fakeDevice{
		battery: true, status: StatusDischarging, capacity: 80, path: testDevPathSys,
	})

	failing := newTestListener()
	failing.failWith(errors.New("stream closed"))
	healthy := newTestListener()

	if err := c.RegisterListener(5, failing, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if err := c.RegisterListener(5, healthy, 200); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	system.setCapacity(5, 50)
	uevents.fire(testDevPath, time.Now())

	if healthy.count() != 2 {
		t.Fatalf("expected healthy listener to receive the update, got %d deliveries", healthy.count())
	}
	if healthy.last().Capacity != 0.50 {
		t.Fatalf("unexpected state for healthy listener: %s", healthy.last())
	}
}

func TestOnDeviceChangedTogglesBatteryPresence(t *testing.T) {
	c, system, uevents := newTestController()
	system.addDevice(5, fakeDevice{
		battery: true, status: StatusDischarging, capacity: 80, path: testDevPathSys,
	})

	listener := newTestListener()
	if err := c.RegisterListener(5, listener, 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	// The device stops exposing a battery node.
	system.mu.Lock()
	system.devices[5].battery = false
	system.mu.Unlock()
	c.OnDeviceChanged(5)

	if uevents.subscriptionCount() != 0 {
		t.Fatalf("expected uevent subscription to stop when the battery disappeared")
	}
	if state := listener.last(); state.IsPresent {
		t.Fatalf("expected absent state after battery removal, got %s", state)
	}
	if listener.count() != 2 {
		t.Fatalf("expected one delivery for the flip, got %d", listener.count())
	}
}
