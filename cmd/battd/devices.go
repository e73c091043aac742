package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDevicesCommand .
func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		GroupID: gBasic,
		Short:   "List input devices known to the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := apiClient.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %v", err)
			}

			if len(devices) == 0 {
				cmd.Println("No input devices found.")
				return nil
			}

			for _, d := range devices {
				cmd.Printf("%s %s\n", bold("[%d]", d.DeviceID), d.Name)
				cmd.Printf("  Has battery: %s\n", bool2Text(d.HasBattery))
				cmd.Printf("  USI stylus: %s\n", bool2Text(d.SupportsUsi))
			}
			return nil
		},
	}
}
