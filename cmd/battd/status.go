package main

import (
	"fmt"
	"math"

	hostbattery "github.com/distatus/battery"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/inputdevd/battd/pkg/battery"
	"github.com/inputdevd/battd/pkg/config"
)

// NewStatusCommand .
func NewStatusCommand() *cobra.Command {
	showHost := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the battery state of every input device",
		Long:    `Get the battery state of every input device the daemon knows about, plus the daemon configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := apiClient.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %v", err)
			}

			conf, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %v", err)
			}
			fileConf := config.NewFileFromConfig(conf, "")

			cmd.Println(bold("Input device batteries:"))
			if len(devices) == 0 {
				cmd.Println("  No input devices found.")
			}
			for _, d := range devices {
				cmd.Printf("  %s %s\n", bold("[%d]", d.DeviceID), d.Name)
				if !d.HasBattery {
					cmd.Println("    No battery.")
					continue
				}

				state, err := apiClient.GetBatteryState(d.DeviceID)
				if err != nil {
					return fmt.Errorf("failed to get battery state of device %d: %v", d.DeviceID, err)
				}
				printDeviceState(cmd, state)
			}

			cmd.Println()
			cmd.Println(bold("Daemon configuration:"))
			cmd.Printf("  Polling period: %s\n", bold("%s", fileConf.PollingPeriod()))
			cmd.Printf("  USI battery validity: %s\n", bold("%s", fileConf.UsiValidityDuration()))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(fileConf.AllowNonRootAccess()))

			if showHost {
				cmd.Println()
				if err := printHostBattery(cmd); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showHost, "host", false, "Also show the host machine's own battery.")

	return cmd
}

func printDeviceState(cmd *cobra.Command, state *battery.State) {
	if !state.IsPresent {
		cmd.Println("    Battery not present.")
		return
	}

	st := state.Status.String()
	switch state.Status {
	case battery.StatusCharging:
		st = color.GreenString(st)
	case battery.StatusDischarging:
		st = color.RedString(st)
	}
	cmd.Printf("    State: %s\n", bold("%s", st))

	if math.IsNaN(float64(state.Capacity)) {
		cmd.Println("    Capacity: unknown")
	} else {
		cmd.Printf("    Capacity: %s\n", bold("%.0f%%", state.Capacity*100))
	}
	cmd.Printf("    Updated: %s\n", state.UpdateTime.Format("15:04:05"))
}

// printHostBattery shows the machine's own battery next to the input device
// ones, mostly so laptop users get the full picture in one command.
func printHostBattery(cmd *cobra.Command) error {
	batteries, err := hostbattery.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read host batteries: %v", err)
	}

	cmd.Println(bold("Host batteries:"))
	if len(batteries) == 0 {
		cmd.Println("  No host battery found.")
		return nil
	}
	for i, b := range batteries {
		charge := 0.0
		if b.Full > 0 {
			charge = b.Current / b.Full * 100
		}
		cmd.Printf("  %s %s, %s\n", bold("[%d]", i), bold("%.0f%%", charge), b.State.String())
	}
	return nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
