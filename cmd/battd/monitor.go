package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inputdevd/battd/pkg/events"
)

// NewMonitorCommand .
func NewMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "monitor [device-id]...",
		GroupID: gBasic,
		Short:   "Watch battery state changes of one or more devices",
		Long: `Watch battery state changes of one or more devices.

Opens a stream to the daemon and prints every battery state change as it
happens. The daemon polls generic devices while this command is running, so
expect a small power cost on the monitored devices. Press Ctrl-C to stop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceIDs, err := parseDeviceIDArgs(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			states, err := apiClient.StreamBatteryStates(ctx, deviceIDs)
			if err != nil {
				return fmt.Errorf("failed to open battery stream: %v", err)
			}

			for state := range states {
				capacity := "unknown"
				if !math.IsNaN(float64(state.Capacity)) {
					capacity = fmt.Sprintf("%.0f%%", state.Capacity*100)
				}
				cmd.Printf("%s  device %s  present=%t  %s  %s\n",
					state.UpdateTime.Format("15:04:05"),
					bold("%d", state.DeviceID),
					state.IsPresent,
					state.Status,
					capacity,
				)
			}
			return nil
		},
	}
}

// NewEventsCommand .
func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		GroupID: gAdvanced,
		Short:   "Watch daemon-wide events (device hotplug)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			evs, err := apiClient.StreamEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to open event stream: %v", err)
			}

			for ev := range evs {
				switch ev.Name {
				case events.DeviceAdded, events.DeviceRemoved:
					payload, err := events.DecodeAs[events.DeviceEvent](ev)
					if err != nil {
						continue
					}
					cmd.Printf("%s device %s %s\n", bold("%s", ev.Name), bold("%d", payload.DeviceID), payload.Name)
				default:
					cmd.Printf("%s %s\n", bold("%s", ev.Name), string(ev.Data))
				}
			}
			return nil
		},
	}
}
