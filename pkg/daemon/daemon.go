// Package daemon runs the battd daemon: it wires the battery controller to
// the Linux sysfs/uevent collaborators and serves the HTTP API on a unix
// socket.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/inputdevd/battd/pkg/battery"
	"github.com/inputdevd/battd/pkg/config"
	"github.com/inputdevd/battd/pkg/events"
	"github.com/inputdevd/battd/pkg/sysfs"
	"github.com/inputdevd/battd/pkg/uevent"
)

var (
	conf       config.Config
	controller *battery.Controller
	system     *sysfs.System
	hub        *events.EventHub
	streams    *streamRegistry
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/devices", getDevices)
	router.GET("/devices/:device/battery", getBatteryState)
	router.POST("/devices/:device/stylus-gesture", notifyStylusGesture)
	router.GET("/battery/stream", streamBatteryStates)
	router.PUT("/battery/devices/:device", registerStreamDevice)
	router.DELETE("/battery/devices/:device", unregisterStreamDevice)
	router.PUT("/interactive", setInteractive)
	router.GET("/events", streamEvents)
	router.GET("/dump", getDump)
	router.GET("/config", getConfig)
	router.GET("/version", getVersion)

	return router
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	hub = events.NewEventHub()
	streams = newStreamRegistry()

	system = sysfs.NewSystem(sysfs.WithUsiPatterns(conf.UsiDevicePatterns()))

	uevents := uevent.NewManager()
	if err := uevents.Start(); err != nil {
		// Monitored generic devices still work through polling.
		logrus.Errorf("failed to start uevent monitoring: %v", err)
	}

	controller = battery.NewController(system, system, uevents,
		battery.WithPollingPeriod(conf.PollingPeriod()),
		battery.WithUsiValidityDuration(conf.UsiValidityDuration()))
	controller.SystemRunning()

	watcher := sysfs.NewWatcher(system, &deviceEvents{})
	if err := watcher.Start(); err != nil {
		logrus.Errorf("failed to watch for device hotplug: %v", err)
	}

	srv := &http.Server{
		Handler:     router,
		ConnContext: connContext,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping device hotplug watcher")
	watcher.Close()

	logrus.Info("closing uevent monitor")
	uevents.Close()

	logrus.Info("exiting")
	return nil
}

// deviceEvents bridges hotplug notifications to the controller and the
// daemon event feed.
type deviceEvents struct{}

func (deviceEvents) OnDeviceAdded(deviceID int32) {
	controller.OnDeviceAdded(deviceID)
	hub.Publish(events.DeviceAdded, events.DeviceEvent{
		DeviceID: deviceID,
		Name:     system.DeviceName(deviceID),
		Ts:       time.Now().UnixMilli(),
	})
}

func (deviceEvents) OnDeviceRemoved(deviceID int32) {
	controller.OnDeviceRemoved(deviceID)
	hub.Publish(events.DeviceRemoved, events.DeviceEvent{
		DeviceID: deviceID,
		Ts:       time.Now().UnixMilli(),
	})
}

func (deviceEvents) OnDeviceChanged(deviceID int32) {
	controller.OnDeviceChanged(deviceID)
}
