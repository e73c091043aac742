// Package uevent implements battery.UEventManager over the kernel uevent
// netlink socket, filtering to power-supply change events.
package uevent

import (
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inputdevd/battd/pkg/battery"
)

var _ battery.UEventManager = &Manager{}

// Manager owns one uevent netlink connection and dispatches power-supply
// change events to devpath subscriptions.
type Manager struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}

	conn        *netlink.UEventConn
	queue       chan netlink.UEvent
	monitorErrs chan error
	monitorQuit chan struct{}
	done        chan struct{}
}

type subscription struct {
	devPath string
	fn      func(eventTime time.Time)
}

func NewManager() *Manager {
	return &Manager{
		subs: make(map[*subscription]struct{}),
		done: make(chan struct{}),
	}
}

// Start connects to the kernel uevent socket and begins dispatching. A
// manager that was never started still accepts subscriptions; they simply
// never fire, and monitored devices fall back to polling.
func (m *Manager) Start() error {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return errors.Wrap(err, "failed to connect to the uevent netlink socket")
	}
	m.conn = conn
	m.queue = make(chan netlink.UEvent, 16)
	m.monitorErrs = make(chan error, 4)

	action := "change"
	matcher := &netlink.RuleDefinitions{
		Rules: []netlink.RuleDefinition{{
			Action: &action,
			Env:    map[string]string{"SUBSYSTEM": "power_supply"},
		}},
	}
	m.monitorQuit = conn.Monitor(m.queue, m.monitorErrs, matcher)

	go m.loop()
	return nil
}

func (m *Manager) loop() {
	for {
		select {
		case ev := <-m.queue:
			m.dispatch(ev)
		case err := <-m.monitorErrs:
			logrus.Warnf("uevent monitor error: %v", err)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) dispatch(ev netlink.UEvent) {
	eventTime := time.Now()

	// The netlink matcher already narrows events down, but re-check here so
	// a permissive matcher cannot leak unrelated events to monitors.
	if !strings.EqualFold(ev.Action.String(), "change") ||
		!strings.EqualFold(ev.Env["SUBSYSTEM"], "power_supply") {
		return
	}
	devPath := ev.Env["DEVPATH"]
	if devPath == "" {
		devPath = ev.KObj
	}

	m.mu.Lock()
	var fns []func(time.Time)
	for sub := range m.subs {
		if strings.HasPrefix(devPath, sub.devPath) {
			fns = append(fns, sub.fn)
		}
	}
	m.mu.Unlock()

	logrus.Debugf("power-supply uevent for %s matched %d subscriptions", devPath, len(fns))
	for _, fn := range fns {
		fn(eventTime)
	}
}

func (m *Manager) Subscribe(devPath string, fn func(eventTime time.Time)) battery.UEventToken {
	sub := &subscription{devPath: devPath, fn: fn}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

func (m *Manager) Unsubscribe(token battery.UEventToken) {
	sub, ok := token.(*subscription)
	if !ok {
		return
	}
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

func (m *Manager) Close() {
	select {
	case <-m.done: // already closed
	default:
		close(m.done)
	}
	if m.monitorQuit != nil {
		close(m.monitorQuit)
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			logrus.Warnf("failed to close uevent netlink socket: %v", err)
		}
	}
}
