package battery

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Status is the charging status reported for an input device battery.
type Status int32

const (
	StatusUnknown Status = iota
	StatusCharging
	StatusDischarging
	StatusNotCharging
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusCharging:
		return "charging"
	case StatusDischarging:
		return "discharging"
	case StatusNotCharging:
		return "not-charging"
	case StatusFull:
		return "full"
	default:
		return "unknown"
	}
}

// StatusFromString parses the wire representation produced by Status.String.
func StatusFromString(s string) Status {
	switch s {
	case "charging":
		return StatusCharging
	case "discharging":
		return StatusDischarging
	case "not-charging":
		return StatusNotCharging
	case "full":
		return StatusFull
	default:
		return StatusUnknown
	}
}

// State is a snapshot of one input device's battery. Capacity is a fraction
// in [0, 1], or NaN when unknown. When IsPresent is false, Status and
// Capacity always hold their canonical unknown values.
type State struct {
	DeviceID   int32
	UpdateTime time.Time
	IsPresent  bool
	Status     Status
	Capacity   float32
}

// newAbsentState returns the canonical state for a device without a
// (currently valid) battery: not present, unknown status, NaN capacity.
func newAbsentState(deviceID int32) State {
	return State{
		DeviceID: deviceID,
		Status:   StatusUnknown,
		Capacity: float32(math.NaN()),
	}
}

// EqualIgnoringUpdateTime reports value equality of two states ignoring their
// timestamps. NaN capacities compare equal. This is the comparison that
// drives change detection and listener fan-out.
func (s State) EqualIgnoringUpdateTime(o State) bool {
	return s.DeviceID == o.DeviceID &&
		s.IsPresent == o.IsPresent &&
		s.Status == o.Status &&
		equalCapacity(s.Capacity, o.Capacity)
}

func equalCapacity(a, b float32) bool {
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}
	return a == b
}

func (s State) String() string {
	if !s.IsPresent {
		return fmt.Sprintf("State{deviceId=%d, <not present>}", s.DeviceID)
	}
	return fmt.Sprintf("State{deviceId=%d, time=%d, status=%s, capacity=%.2f}",
		s.DeviceID, s.UpdateTime.UnixMilli(), s.Status, s.Capacity)
}

// wireState is the JSON shape of a State. Capacity is a pointer so a NaN
// capacity round-trips as null, which encoding/json cannot do for a bare
// float.
type wireState struct {
	DeviceID   int32    `json:"deviceId"`
	UpdateTime int64    `json:"updateTime"`
	IsPresent  bool     `json:"isPresent"`
	Status     string   `json:"status"`
	Capacity   *float32 `json:"capacity"`
}

func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		DeviceID:  s.DeviceID,
		IsPresent: s.IsPresent,
		Status:    s.Status.String(),
	}
	if !s.UpdateTime.IsZero() {
		w.UpdateTime = s.UpdateTime.UnixMilli()
	}
	if !math.IsNaN(float64(s.Capacity)) {
		capacity := s.Capacity
		w.Capacity = &capacity
	}
	return json.Marshal(w)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.DeviceID = w.DeviceID
	s.UpdateTime = time.Time{}
	if w.UpdateTime != 0 {
		s.UpdateTime = time.UnixMilli(w.UpdateTime)
	}
	s.IsPresent = w.IsPresent
	s.Status = StatusFromString(w.Status)
	s.Capacity = float32(math.NaN())
	if w.Capacity != nil {
		s.Capacity = *w.Capacity
	}
	return nil
}
