package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/inputdevd/battd/pkg/battery"
	"github.com/inputdevd/battd/pkg/config"
	"github.com/inputdevd/battd/pkg/events"
)

func (c *Client) ListDevices() ([]battery.DeviceInfo, error) {
	ret, err := c.Get("/devices")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list devices")
	}

	var devices []battery.DeviceInfo
	if err := json.Unmarshal([]byte(ret), &devices); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal device list")
	}
	return devices, nil
}

func (c *Client) GetBatteryState(deviceID int32) (*battery.State, error) {
	ret, err := c.Get(fmt.Sprintf("/devices/%d/battery", deviceID))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get battery state of device %d", deviceID)
	}

	var state battery.State
	if err := json.Unmarshal([]byte(ret), &state); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal battery state")
	}
	return &state, nil
}

func (c *Client) NotifyStylusGesture(deviceID int32) (string, error) {
	return c.Post(fmt.Sprintf("/devices/%d/stylus-gesture", deviceID), "")
}

func (c *Client) SetInteractive(interactive bool) (string, error) {
	return c.Put("/interactive", strconv.FormatBool(interactive))
}

func (c *Client) AddStreamDevice(deviceID int32) (string, error) {
	return c.Put(fmt.Sprintf("/battery/devices/%d", deviceID), "")
}

func (c *Client) RemoveStreamDevice(deviceID int32) (string, error) {
	return c.Delete(fmt.Sprintf("/battery/devices/%d", deviceID))
}

func (c *Client) GetDump() (string, error) {
	ret, err := c.Get("/dump")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get daemon state dump")
	}
	return ret, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get daemon version")
	}

	var v struct {
		Version   string `json:"version"`
		GitCommit string `json:"gitCommit"`
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v.Version, nil
}

// StreamBatteryStates subscribes to battery state changes of the given
// devices. States arrive on the returned channel until ctx is canceled or
// the daemon closes the stream, after which the channel is closed.
//
// Closing the stream tells the daemon this process is gone: every device
// registered on it is unregistered.
func (c *Client) StreamBatteryStates(ctx context.Context, deviceIDs []int32) (<-chan battery.State, error) {
	q := url.Values{}
	for _, id := range deviceIDs {
		q.Add("device", strconv.FormatInt(int64(id), 10))
	}

	body, err := c.openStream(ctx, "/battery/stream?"+q.Encode())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open battery stream")
	}

	ch := make(chan battery.State, 8)
	go func() {
		defer close(ch)
		defer body.Close() //nolint:errcheck

		forEachServerSentEvent(body, func(name, data string) {
			if name != events.BatteryState {
				return
			}
			var ev events.BatteryStateEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return
			}
			select {
			case ch <- ev.State:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}

// StreamEvents subscribes to the daemon-wide event feed (device hotplug).
func (c *Client) StreamEvents(ctx context.Context) (<-chan events.Event, error) {
	body, err := c.openStream(ctx, "/events")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open event stream")
	}

	ch := make(chan events.Event, 8)
	go func() {
		defer close(ch)
		defer body.Close() //nolint:errcheck

		forEachServerSentEvent(body, func(name, data string) {
			select {
			case ch <- events.Event{Name: name, Data: json.RawMessage(data)}:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}
