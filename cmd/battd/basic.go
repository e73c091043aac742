package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inputdevd/battd/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewInteractiveCommand() *cobra.Command {
	return newEnableDisableCommand(
		"interactive",
		"Tell the daemon whether the system is interactive",
		`Tell the daemon whether the system is interactive.

The daemon only polls generic device batteries while the system is
interactive. Session managers and screen lockers should call this when the
display turns on or off, so idle machines do not keep waking device
batteries.`,
		func() (string, error) { return apiClient.SetInteractive(true) },
		func() (string, error) { return apiClient.SetInteractive(false) },
	)
}

func NewStylusGestureCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stylus-gesture [device-id]",
		GroupID: gAdvanced,
		Short:   "Report a stylus gesture on a USI device",
		Long: `Report a stylus gesture on a USI device.

A gesture proves a stylus is near the device, so its last known battery
reading can be trusted again. Input pipelines should call this when they
detect stylus activity.`,
		RunE: func(_ *cobra.Command, args []string) error {
			deviceID, err := parseDeviceIDArg(args)
			if err != nil {
				return err
			}

			ret, err := apiClient.NotifyStylusGesture(deviceID)
			if err != nil {
				return fmt.Errorf("failed to report stylus gesture: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func NewDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "dump",
		GroupID: gAdvanced,
		Short:   "Dump the daemon's internal monitoring state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := apiClient.GetDump()
			if err != nil {
				return fmt.Errorf("failed to get daemon state dump: %v", err)
			}
			cmd.Print(ret)
			return nil
		},
	}
}
