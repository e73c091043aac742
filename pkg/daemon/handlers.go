package daemon

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inputdevd/battd/pkg/battery"
	"github.com/inputdevd/battd/pkg/config"
	"github.com/inputdevd/battd/pkg/events"
	"github.com/inputdevd/battd/pkg/version"
)

func deviceIDParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("device"), 10, 32)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, "invalid device id")
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return 0, false
	}
	return int32(id), true
}

// statusForError maps the controller's caller-contract errors onto HTTP
// status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, battery.ErrAlreadyRegisteredDifferentListener),
		errors.Is(err, battery.ErrDuplicateMonitoring):
		return http.StatusConflict
	case errors.Is(err, battery.ErrNotRegistered),
		errors.Is(err, battery.ErrNotMonitoringDevice):
		return http.StatusNotFound
	case errors.Is(err, battery.ErrListenerMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func abortWithControllerError(c *gin.Context, err error) {
	status := statusForError(err)
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}

func getDevices(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, battery.DescribeDevices(system))
}

func getBatteryState(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, controller.GetBatteryState(deviceID))
}

func notifyStylusGesture(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}
	controller.NotifyStylusGestureStarted(deviceID, time.Now())
	c.IndentedJSON(http.StatusOK, "ok")
}

func setInteractive(c *gin.Context) {
	var interactive bool
	if err := c.BindJSON(&interactive); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	controller.OnInteractiveChanged(interactive)
	logrus.Infof("set interactive to %t", interactive)

	c.IndentedJSON(http.StatusCreated, "ok")
}

// streamBatteryStates opens an SSE stream delivering battery state changes
// for the requested devices. The stream connection is the client's listener
// registration: closing it unregisters everything, exactly as if the process
// had died.
func streamBatteryStates(c *gin.Context) {
	pid, ok := peerPid(c)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, "cannot determine caller process")
		return
	}

	var deviceIDs []int32
	for _, raw := range c.QueryArray("device") {
		id, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, "invalid device id: "+raw)
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		deviceIDs = append(deviceIDs, int32(id))
	}
	if len(deviceIDs) == 0 {
		c.IndentedJSON(http.StatusBadRequest, "at least one device query parameter is required")
		return
	}

	listener := newStreamListener(pid)
	if !streams.add(pid, listener) {
		c.IndentedJSON(http.StatusConflict, "a battery stream is already open for this process")
		return
	}
	defer streams.remove(pid, listener)

	for _, deviceID := range deviceIDs {
		if err := controller.RegisterListener(deviceID, listener, pid); err != nil {
			// Roll back whatever was registered before the failure.
			controller.HandleListeningProcessDied(pid)
			abortWithControllerError(c, err)
			return
		}
	}
	logrus.WithFields(logrus.Fields{
		"pid":     pid,
		"devices": deviceIDs,
	}).Info("battery stream opened")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case state := <-listener.ch:
			c.SSEvent(events.BatteryState, events.BatteryStateEvent{
				State: state,
				Ts:    time.Now().UnixMilli(),
			})
			return true
		case <-clientGone:
			return false
		}
	})

	listener.close()
	logrus.WithFields(logrus.Fields{"pid": pid}).Info("battery stream closed")
}

func registerStreamDevice(c *gin.Context) {
	pid, ok := peerPid(c)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, "cannot determine caller process")
		return
	}
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	listener, ok := streams.get(pid)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "no open battery stream for this process")
		return
	}
	if err := controller.RegisterListener(deviceID, listener, pid); err != nil {
		abortWithControllerError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func unregisterStreamDevice(c *gin.Context) {
	pid, ok := peerPid(c)
	if !ok {
		c.IndentedJSON(http.StatusInternalServerError, "cannot determine caller process")
		return
	}
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	listener, ok := streams.get(pid)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "no open battery stream for this process")
		return
	}
	if err := controller.UnregisterListener(deviceID, listener, pid); err != nil {
		abortWithControllerError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "ok")
}

// streamEvents is the daemon-wide SSE feed: device hotplug and observed
// battery state changes.
func streamEvents(c *gin.Context) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-clientGone:
			return false
		}
	})
}

func getDump(c *gin.Context) {
	var buf bytes.Buffer
	controller.Dump(&buf)
	c.String(http.StatusOK, buf.String())
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
	})
}
