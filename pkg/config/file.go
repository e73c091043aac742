package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inputdevd/battd/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		PollingPeriodSeconds: ptr.To(10),
		// USI styluses only report battery changes while in use; an hour is
		// long enough to bridge normal writing pauses.
		UsiValidityMinutes: ptr.To(60),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	PollingPeriodSeconds *int      `json:"pollingPeriodSeconds,omitempty"`
	UsiValidityMinutes   *int      `json:"usiValidityMinutes,omitempty"`
	AllowNonRootAccess   *bool     `json:"allowNonRootAccess,omitempty"`
	UsiDevicePatterns    *[]string `json:"usiDevicePatterns,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		PollingPeriodSeconds: ptr.To(int(c.PollingPeriod() / time.Second)),
		UsiValidityMinutes:   ptr.To(int(c.UsiValidityDuration() / time.Minute)),
		AllowNonRootAccess:   ptr.To(c.AllowNonRootAccess()),
		UsiDevicePatterns:    ptr.To(c.UsiDevicePatterns()),
	}

	return rawConfig, nil
}

func (f *File) PollingPeriod() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var seconds int

	if f.c.PollingPeriodSeconds != nil {
		seconds = *f.c.PollingPeriodSeconds
	} else {
		seconds = *defaultFileConfig.PollingPeriodSeconds
	}

	return time.Duration(seconds) * time.Second
}

func (f *File) UsiValidityDuration() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var minutes int

	if f.c.UsiValidityMinutes != nil {
		minutes = *f.c.UsiValidityMinutes
	} else {
		minutes = *defaultFileConfig.UsiValidityMinutes
	}

	return time.Duration(minutes) * time.Minute
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var allowNonRootAccess bool

	if f.c.AllowNonRootAccess != nil {
		allowNonRootAccess = *f.c.AllowNonRootAccess
	} else {
		allowNonRootAccess = *defaultFileConfig.AllowNonRootAccess
	}

	return allowNonRootAccess
}

func (f *File) UsiDevicePatterns() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.UsiDevicePatterns != nil {
		return *f.c.UsiDevicePatterns
	}
	return nil
}

func (f *File) SetUsiDevicePatterns(patterns []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.UsiDevicePatterns = ptr.To(patterns)
}

func (f *File) SetPollingPeriod(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.PollingPeriodSeconds = ptr.To(int(d / time.Second))
}

func (f *File) SetUsiValidityDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.UsiValidityMinutes = ptr.To(int(d / time.Minute))
}

func (f *File) SetAllowNonRootAccess(allow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = ptr.To(allow)
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	configString := string(b)

	if strings.TrimSpace(configString) == "" {
		// If the file is empty, return the empty config.
		f.c = &RawFileConfig{}
		return nil
	}

	c := &RawFileConfig{}
	err = json.Unmarshal([]byte(configString), c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = c

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"pollingPeriod":       f.PollingPeriod().String(),
		"usiValidityDuration": f.UsiValidityDuration().String(),
		"allowNonRootAccess":  f.AllowNonRootAccess(),
		"usiDevicePatterns":   f.UsiDevicePatterns(),
	}
}
