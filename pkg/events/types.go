package events

import (
	"encoding/json"

	"github.com/inputdevd/battd/pkg/battery"
)

// Event name constants
const (
	BatteryState  = "battery.state"
	DeviceAdded   = "device.added"
	DeviceRemoved = "device.removed"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// BatteryStateEvent is the typed payload for battery.state.
type BatteryStateEvent struct {
	State battery.State `json:"state"`
	Ts    int64         `json:"ts"`
}

// DeviceEvent is the typed payload for device.added and device.removed.
type DeviceEvent struct {
	DeviceID int32  `json:"deviceId"`
	Name     string `json:"name,omitempty"`
	Ts       int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is
// empty, it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.BatteryStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.State)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
