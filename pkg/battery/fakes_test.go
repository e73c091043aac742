package battery

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// fakeDevice is one input device known to the fake system.
type fakeDevice struct {
	name     string
	battery  bool
	usi      bool
	status   Status
	capacity int32
	path     string
}

// fakeSystem implements DeviceRegistry and BatterySource over an in-memory
// device table.
type fakeSystem struct {
	mu      sync.Mutex
	devices map[int32]*fakeDevice
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{devices: make(map[int32]*fakeDevice)}
}

func (s *fakeSystem) addDevice(deviceID int32, d fakeDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = &d
}

func (s *fakeSystem) setCapacity(deviceID, capacity int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID].capacity = capacity
}

func (s *fakeSystem) setStatus(deviceID int32, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID].status = status
}

func (s *fakeSystem) DeviceIDs() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int32, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeSystem) DeviceName(deviceID int32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.name
	}
	return "<none>"
}

func (s *fakeSystem) HasBattery(deviceID int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	return ok && d.battery
}

func (s *fakeSystem) SupportsUsi(deviceID int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	return ok && d.usi
}

func (s *fakeSystem) QueryStatus(deviceID int32) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.status
	}
	return StatusUnknown
}

func (s *fakeSystem) QueryCapacity(deviceID int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.capacity
	}
	return 0
}

func (s *fakeSystem) BatteryDevicePath(deviceID int32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.path
	}
	return ""
}

// fakeUEvents implements UEventManager and lets tests fire power-supply
// change events for a devpath.
type fakeUEvents struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]fakeSubscription
}

type fakeSubscription struct {
	devPath string
	fn      func(time.Time)
}

func newFakeUEvents() *fakeUEvents {
	return &fakeUEvents{subs: make(map[int]fakeSubscription)}
}

func (u *fakeUEvents) Subscribe(devPath string, fn func(eventTime time.Time)) UEventToken {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	u.subs[u.nextID] = fakeSubscription{devPath: devPath, fn: fn}
	return u.nextID
}

func (u *fakeUEvents) Unsubscribe(token UEventToken) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.subs, token.(int))
}

func (u *fakeUEvents) subscriptionCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.subs)
}

// fire delivers a power-supply change event to every subscription matching
// the devpath.
func (u *fakeUEvents) fire(devPath string, eventTime time.Time) {
	u.mu.Lock()
	var fns []func(time.Time)
	for _, sub := range u.subs {
		if sub.devPath == devPath {
			fns = append(fns, sub.fn)
		}
	}
	u.mu.Unlock()
	for _, fn := range fns {
		fn(eventTime)
	}
}

// testListener records delivered states and mirrors them onto a channel so
// timing-sensitive tests can wait for deliveries.
type testListener struct {
	mu     sync.Mutex
	states []State
	ch     chan State
	err    error
}

func newTestListener() *testListener {
	return &testListener{ch: make(chan State, 32)}
}

func (l *testListener) OnBatteryStateChanged(state State) error {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
	select {
	case l.ch <- state:
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *testListener) failWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *testListener) deliveries() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.states))
	copy(out, l.states)
	return out
}

func (l *testListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

func (l *testListener) last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return State{}
	}
	return l.states[len(l.states)-1]
}

// connListener is a testListener whose transport can report disconnects,
// like a real daemon stream connection.
type connListener struct {
	testListener
	mu        sync.Mutex
	dead      bool
	hook      func()
	watched   int
	unwatched int
}

func newConnListener() *connListener {
	return &connListener{testListener: testListener{ch: make(chan State, 32)}}
}

func (l *connListener) WatchDisconnect(hook func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return errors.New("client connection is already closed")
	}
	l.watched++
	l.hook = hook
	return nil
}

func (l *connListener) UnwatchDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unwatched++
	l.hook = nil
}

func (l *connListener) disconnect() {
	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
}
