package battery

import "github.com/pkg/errors"

var (
	// ErrAlreadyRegisteredDifferentListener is returned when a process that
	// already has a registered listener tries to register a different one.
	ErrAlreadyRegisteredDifferentListener = errors.New("another listener is already registered for this process")

	// ErrDuplicateMonitoring is returned when a listener registers for a
	// device it is already monitoring.
	ErrDuplicateMonitoring = errors.New("listener is already monitoring this device")

	// ErrNotRegistered is returned when unregistering a process that has no
	// registered listener.
	ErrNotRegistered = errors.New("no listener registered for this process")

	// ErrListenerMismatch is returned when the listener passed to unregister
	// is not the one registered for the process.
	ErrListenerMismatch = errors.New("listener is not the one registered for this process")

	// ErrNotMonitoringDevice is returned when unregistering a device the
	// process never registered for.
	ErrNotMonitoringDevice = errors.New("device is not being monitored by this listener")
)
