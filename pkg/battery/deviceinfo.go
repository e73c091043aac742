package battery

import "sort"

// DeviceInfo describes one input device for listings and diagnostics.
type DeviceInfo struct {
	DeviceID    int32  `json:"deviceId"`
	Name        string `json:"name"`
	HasBattery  bool   `json:"hasBattery"`
	SupportsUsi bool   `json:"supportsUsi"`
}

// DescribeDevices lists every device in the registry, ordered by device id.
func DescribeDevices(registry DeviceRegistry) []DeviceInfo {
	ids := registry.DeviceIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	infos := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, DeviceInfo{
			DeviceID:    id,
			Name:        registry.DeviceName(id),
			HasBattery:  registry.HasBattery(id),
			SupportsUsi: registry.SupportsUsi(id),
		})
	}
	return infos
}
