package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/inputdevd/battd/pkg/battery"
)

// newFakeSysfs builds a sysfs-like tree with one input device and an
// optional battery node.
func newFakeSysfs(t *testing.T, deviceID int, name string, batteryAttrs map[string]string) *System {
	t.Helper()
	root := t.TempDir()

	inputDir := filepath.Join(root, "class", "input", "input"+strconv.Itoa(deviceID))
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inputDir, "name"), []byte(name+"\n"), 0o644); err != nil {
		t.Fatalf("write name failed: %v", err)
	}

	if batteryAttrs != nil {
		node := filepath.Join(inputDir, "device", "power_supply", "hid-battery")
		if err := os.MkdirAll(node, 0o755); err != nil {
			t.Fatalf("mkdir battery node failed: %v", err)
		}
		for attr, value := range batteryAttrs {
			if err := os.WriteFile(filepath.Join(node, attr), []byte(value+"\n"), 0o644); err != nil {
				t.Fatalf("write %s failed: %v", attr, err)
			}
		}
	}

	return NewSystem(WithRoot(root), WithUsiPatterns([]string{"usi stylus"}))
}

func TestSystemEnumeratesDevices(t *testing.T) {
	s := newFakeSysfs(t, 5, "Wireless Mouse", nil)

	ids := s.DeviceIDs()
	if len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("expected device 5, got %v", ids)
	}
	if name := s.DeviceName(5); name != "Wireless Mouse" {
		t.Fatalf("expected trimmed device name, got %q", name)
	}
	if s.DeviceName(9) != "<none>" {
		t.Fatalf("expected placeholder name for unknown device")
	}
}

func TestSystemReadsBatteryAttributes(t *testing.T) {
	s := newFakeSysfs(t, 5, "Wireless Mouse", map[string]string{
		"status":   "Discharging",
		"capacity": "80",
	})

	if !s.HasBattery(5) {
		t.Fatalf("expected device 5 to have a battery node")
	}
	if s.BatteryDevicePath(5) == "" {
		t.Fatalf("expected a battery device path")
	}
	if got := s.QueryStatus(5); got != battery.StatusDischarging {
		t.Fatalf("expected discharging, got %s", got)
	}
	if got := s.QueryCapacity(5); got != 80 {
		t.Fatalf("expected capacity 80, got %d", got)
	}
}

func TestSystemWithoutBatteryNode(t *testing.T) {
	s := newFakeSysfs(t, 5, "Plain Keyboard", nil)

	if s.HasBattery(5) {
		t.Fatalf("expected no battery node")
	}
	if got := s.QueryStatus(5); got != battery.StatusUnknown {
		t.Fatalf("expected unknown status, got %s", got)
	}
	if got := s.QueryCapacity(5); got != 0 {
		t.Fatalf("expected zero capacity, got %d", got)
	}
}

func TestSystemClampsCapacity(t *testing.T) {
	s := newFakeSysfs(t, 5, "Wireless Mouse", map[string]string{"capacity": "120"})
	if got := s.QueryCapacity(5); got != 100 {
		t.Fatalf("expected capacity clamped to 100, got %d", got)
	}
}

func TestSystemUsiPatternMatch(t *testing.T) {
	s := newFakeSysfs(t, 5, "ACME USI Stylus Pen", nil)
	if !s.SupportsUsi(5) {
		t.Fatalf("expected usi pattern to match device name")
	}

	plain := newFakeSysfs(t, 5, "Wireless Mouse", nil)
	if plain.SupportsUsi(5) {
		t.Fatalf("expected non-stylus device to not match")
	}
}
