package texshare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is a Watcher connection state.
type State int

const (
	// Searching polls discovery until a stream is selected.
	Searching State = iota

	// Connecting attaches to the selected stream.
	Connecting

	// Connected waits for frames and checks producer liveness.
	Connected

	// Disconnected releases the consumer before searching again.
	Disconnected
)

var stateNames = []string{"searching", "connecting", "connected", "disconnected"}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Selector picks the stream to connect to among discovered descriptors.
type Selector func([]StreamDescriptor) (StreamDescriptor, bool)

// SelectFirst selects the first discovered stream.
func SelectFirst(descs []StreamDescriptor) (StreamDescriptor, bool) {
	if len(descs) == 0 {
		return StreamDescriptor{}, false
	}
	return descs[0], true
}

// SelectByName selects the first stream with the given name.
func SelectByName(name string) Selector {
	if n, err := NormalizeName(name); err == nil {
		name = n
	}
	return func(descs []StreamDescriptor) (StreamDescriptor, bool) {
		for _, d := range descs {
			if d.Name == name {
				return d, true
			}
		}
		return StreamDescriptor{}, false
	}
}

// SelectByPID selects the first stream of process pid.
func SelectByPID(pid int) Selector {
	return func(descs []StreamDescriptor) (StreamDescriptor, bool) {
		for _, d := range descs {
			if d.PID == pid {
				return d, true
			}
		}
		return StreamDescriptor{}, false
	}
}

// Watcher defaults.
const (
	DefaultSearchInterval = 2 * time.Second
	DefaultBackoff        = time.Second
	DefaultWaitTimeout    = 100 * time.Millisecond
	DefaultMaxTimeouts    = 50
)

// WatcherConfig configures a Watcher. Zero fields take defaults.
type WatcherConfig struct {
	// Name labels the watcher in logs and metrics.
	Name string

	// SearchInterval is the delay between two discovery attempts.
	SearchInterval time.Duration

	// Backoff is the delay before searching again after a failed connect.
	Backoff time.Duration

	// WaitTimeout bounds each frame wait while connected.
	WaitTimeout time.Duration

	// MaxTimeouts is the number of consecutive frame wait timeouts after
	// which the producer is considered lost.
	MaxTimeouts int

	// Selector picks the stream to connect to. Default SelectFirst.
	Selector Selector

	// Now returns the current time. Default time.Now.
	Now func() time.Time
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.Name == "" {
		c.Name = "watcher"
	}
	if c.SearchInterval <= 0 {
		c.SearchInterval = DefaultSearchInterval
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.MaxTimeouts <= 0 {
		c.MaxTimeouts = DefaultMaxTimeouts
	}
	if c.Selector == nil {
		c.Selector = SelectFirst
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Event is the outcome of one Watcher step.
type Event struct {
	// State is the state after the step.
	State State

	// Previous is the state before the step.
	Previous State

	// Frame is true when a new frame was observed.
	Frame bool

	// Consumer is the attached consumer while connected.
	Consumer *Consumer

	// Descriptor is the selected stream while connecting or connected.
	Descriptor StreamDescriptor

	// Err is the failure that caused the step's transition, if any.
	Err error
}

// Changed reports whether the step changed state.
func (e Event) Changed() bool { return e.State != e.Previous }

// Watcher drives a consumer through discovery, connection, frame waits and
// loss of the producer. It is meant to be stepped from the host's event
// loop with Tick, or driven by Run.
type Watcher struct {
	dev *Device
	cfg WatcherConfig

	mu        sync.Mutex
	state     State
	consumer  *Consumer
	target    StreamDescriptor
	next      time.Time
	timeouts  int
	closed    bool
	searchLog rate.Sometimes
}

// NewWatcher creates a watcher in the Searching state.
func (d *Device) NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		dev:       d,
		cfg:       cfg.withDefaults(),
		state:     Searching,
		searchLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	d.opts.metrics.WatcherState(w.cfg.Name, Searching.String(), stateNames)
	return w
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Consumer returns the attached consumer, nil unless connected.
func (w *Watcher) Consumer() *Consumer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consumer
}

// Tick performs one step of the state machine. Only the Connected state
// blocks, for at most WaitTimeout.
func (w *Watcher) Tick() Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Event{State: w.state, Previous: w.state, Err: ErrClosed}
	}

	ev := Event{Previous: w.state}
	switch w.state {
	case Searching:
		w.search(&ev)
	case Connecting:
		w.connect(&ev)
	case Connected:
		w.wait(&ev)
	case Disconnected:
		w.disconnect()
	}
	ev.State = w.state
	ev.Consumer = w.consumer
	if w.state == Connecting || w.state == Connected {
		ev.Descriptor = w.target
	}
	if ev.Changed() {
		w.dev.opts.metrics.WatcherState(w.cfg.Name, w.state.String(), stateNames)
		w.dev.log().Info("texshare: watcher state",
			"watcher", w.cfg.Name, "from", ev.Previous, "to", ev.State, "error", ev.Err)
	}
	return ev
}

func (w *Watcher) search(ev *Event) {
	now := w.cfg.Now()
	if now.Before(w.next) {
		return
	}
	w.next = now.Add(w.cfg.SearchInterval)

	descs, err := w.dev.Discover()
	if err != nil {
		ev.Err = err
		return
	}
	target, ok := w.cfg.Selector(descs)
	if !ok {
		w.searchLog.Do(func() {
			w.dev.log().Debug("texshare: no producer", "watcher", w.cfg.Name, "streams", len(descs))
		})
		return
	}
	w.target = target
	w.state = Connecting
}

func (w *Watcher) connect(ev *Event) {
	c, err := w.dev.Connect(w.target)
	if err != nil {
		ev.Err = err
		w.state = Searching
		w.next = w.cfg.Now().Add(w.cfg.Backoff)
		return
	}
	w.consumer = c
	w.timeouts = 0
	w.state = Connected
}

func (w *Watcher) wait(ev *Event) {
	if !w.consumer.IsAlive() {
		ev.Err = fmt.Errorf("%w: %s", ErrStaleConnection, w.target.Key())
		w.state = Disconnected
		return
	}
	ok, err := w.consumer.WaitForFrame(w.cfg.WaitTimeout)
	switch {
	case err != nil:
		ev.Err = err
		w.state = Disconnected
	case ok:
		w.timeouts = 0
		ev.Frame = true
	default:
		w.timeouts++
		if w.timeouts >= w.cfg.MaxTimeouts {
			ev.Err = fmt.Errorf("%w: %s: %d consecutive timeouts", ErrWaitTimeout, w.target.Key(), w.timeouts)
			w.state = Disconnected
		}
	}
}

// disconnect releases the consumer and searches again on the next step.
func (w *Watcher) disconnect() {
	if w.consumer != nil {
		if err := w.consumer.Close(); err != nil {
			w.dev.log().Warn("texshare: close consumer", "watcher", w.cfg.Name, "error", err)
		}
		w.consumer = nil
	}
	w.timeouts = 0
	w.target = StreamDescriptor{}
	w.next = time.Time{}
	w.state = Searching
}

// Run steps the watcher until ctx is done or fn returns an error. Outside
// the Connected state it steps every WaitTimeout. Run returns ctx.Err(),
// fn's error or ErrClosed once the watcher or its device is closed.
func (w *Watcher) Run(ctx context.Context, fn func(Event) error) error {
	ticker := time.NewTicker(w.cfg.WaitTimeout)
	defer ticker.Stop()
	for {
		ev := w.Tick()
		if errors.Is(ev.Err, ErrClosed) {
			return ev.Err
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
		if ev.State == Connected {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the consumer. Further steps report ErrClosed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.consumer != nil {
		err = w.consumer.Close()
		w.consumer = nil
	}
	return err
}
