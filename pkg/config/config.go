package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config interface {
	// PollingPeriod is the interval between battery polls for input devices
	// that require polling.
	PollingPeriod() time.Duration
	// UsiValidityDuration is how long a USI stylus battery state stays valid
	// after the last confirming event.
	UsiValidityDuration() time.Duration
	AllowNonRootAccess() bool
	// UsiDevicePatterns are device-name substrings that mark an input device
	// as supporting the USI stylus protocol.
	UsiDevicePatterns() []string

	SetPollingPeriod(time.Duration)
	SetUsiValidityDuration(time.Duration)
	SetAllowNonRootAccess(bool)
	SetUsiDevicePatterns([]string)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
