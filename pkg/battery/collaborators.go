package battery

import "time"

// DeviceRegistry exposes the input devices known to the system. The
// controller consults it when monitors are created or reconfigured; device
// add/remove/change events must additionally be routed to the controller's
// OnDeviceAdded/OnDeviceRemoved/OnDeviceChanged hooks by the caller that owns
// the registry.
type DeviceRegistry interface {
	DeviceIDs() []int32
	DeviceName(deviceID int32) string
	HasBattery(deviceID int32) bool
	SupportsUsi(deviceID int32) bool
}

// BatterySource reads raw battery attributes for one input device. Queries
// are expected to be fast local reads; they are performed while the
// controller lock is held.
type BatterySource interface {
	// QueryStatus returns the charging status of the device's battery.
	QueryStatus(deviceID int32) Status
	// QueryCapacity returns the battery capacity as an integer percentage in
	// [0, 100].
	QueryCapacity(deviceID int32) int32
	// BatteryDevicePath returns the sysfs path of the device's battery node,
	// or "" if the device has none.
	BatteryDevicePath(deviceID int32) string
}

// UEventToken identifies an active uevent subscription.
type UEventToken interface{}

// UEventManager provides subscriptions to power-supply change notifications
// for a battery device node. Implementations must filter events down to
// power-supply subsystem changes whose devpath matches the subscription
// before invoking the callback. The callback may be invoked from any thread.
type UEventManager interface {
	Subscribe(devPath string, fn func(eventTime time.Time)) UEventToken
	Unsubscribe(token UEventToken)
}
