// Package sysfs implements the battery package's system collaborators for
// Linux: device enumeration and battery attribute reads over
// /sys/class/input and the power_supply class, and a hotplug watcher over
// /dev/input.
package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inputdevd/battd/pkg/battery"
)

// System reads input devices and their battery nodes from sysfs. A device's
// id is the N in /sys/class/input/inputN.
type System struct {
	root        string
	usiPatterns []string
}

var (
	_ battery.DeviceRegistry = &System{}
	_ battery.BatterySource  = &System{}
)

type SystemOption func(*System)

// WithRoot overrides the sysfs mount point. Used by tests.
func WithRoot(root string) SystemOption {
	return func(s *System) { s.root = root }
}

// WithUsiPatterns sets the device name substrings that mark a device as
// supporting the USI stylus protocol. The kernel does not expose USI
// capability directly, so it is configured per deployment.
func WithUsiPatterns(patterns []string) SystemOption {
	return func(s *System) { s.usiPatterns = patterns }
}

func NewSystem(opts ...SystemOption) *System {
	s := &System{root: "/sys"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) inputDir(deviceID int32) string {
	return filepath.Join(s.root, "class", "input", "input"+strconv.Itoa(int(deviceID)))
}

func (s *System) DeviceIDs() []int32 {
	matches, err := filepath.Glob(filepath.Join(s.root, "class", "input", "input*"))
	if err != nil {
		logrus.Warnf("failed to enumerate input devices: %v", err)
		return nil
	}
	var ids []int32
	for _, match := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(match), "input"))
		if err != nil {
			continue
		}
		ids = append(ids, int32(n))
	}
	return ids
}

func (s *System) DeviceName(deviceID int32) string {
	b, err := os.ReadFile(filepath.Join(s.inputDir(deviceID), "name"))
	if err != nil {
		return "<none>"
	}
	return strings.TrimSpace(string(b))
}

func (s *System) HasBattery(deviceID int32) bool {
	return s.BatteryDevicePath(deviceID) != ""
}

func (s *System) SupportsUsi(deviceID int32) bool {
	if len(s.usiPatterns) == 0 {
		return false
	}
	name := strings.ToLower(s.DeviceName(deviceID))
	for _, pattern := range s.usiPatterns {
		if strings.Contains(name, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// BatteryDevicePath finds the power_supply node published by the device (HID
// devices expose it under the parent device directory).
func (s *System) BatteryDevicePath(deviceID int32) string {
	matches, _ := filepath.Glob(filepath.Join(s.inputDir(deviceID), "device", "power_supply", "*"))
	if len(matches) == 0 {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(matches[0])
	if err != nil {
		return matches[0]
	}
	return resolved
}

func (s *System) readBatteryAttr(deviceID int32, attr string) (string, bool) {
	node := s.BatteryDevicePath(deviceID)
	if node == "" {
		return "", false
	}
	b, err := os.ReadFile(filepath.Join(node, attr))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (s *System) QueryStatus(deviceID int32) battery.Status {
	raw, ok := s.readBatteryAttr(deviceID, "status")
	if !ok {
		return battery.StatusUnknown
	}
	switch raw {
	case "Charging":
		return battery.StatusCharging
	case "Discharging":
		return battery.StatusDischarging
	case "Not charging":
		return battery.StatusNotCharging
	case "Full":
		return battery.StatusFull
	default:
		return battery.StatusUnknown
	}
}

func (s *System) QueryCapacity(deviceID int32) int32 {
	raw, ok := s.readBatteryAttr(deviceID, "capacity")
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int32(v)
}
