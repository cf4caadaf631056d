// Package idle forces a logout after a period without user interaction.
package idle

import (
	"log/slog"
	"sync"
	"time"

	"fleetdesk/internal/logging"
	"fleetdesk/internal/session"
)

// DefaultTimeout is the idle duration used when none is configured.
const DefaultTimeout = 15 * time.Minute

// DefaultSignals are the interaction events that count as activity.
var DefaultSignals = []string{"mousemove", "keydown", "click", "scroll", "touchstart"}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithSignals replaces the set of activity signals.
func WithSignals(signals ...string) Option {
	return func(m *Monitor) {
		if len(signals) == 0 {
			return
		}
		m.signals = make(map[string]struct{}, len(signals))
		for _, s := range signals {
			m.signals[s] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// Monitor is an idle-timeout watchdog.
type Monitor struct {
	timeout  time.Duration
	onExpire func()
	clock    Clock
	signals  map[string]struct{}
	logger   *slog.Logger

	mu      sync.Mutex
	timer   Timer
	gen     uint64 // bumped on every reschedule; stale callbacks compare unequal
	running bool
	expired bool
}

// New creates a stopped monitor calling onExpire after timeout of
// inactivity. A non-positive timeout means DefaultTimeout.
func New(timeout time.Duration, onExpire func(), opts ...Option) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{
		timeout:  timeout,
		onExpire: onExpire,
		clock:    realClock{},
		logger:   logging.Discard(),
	}
	WithSignals(DefaultSignals...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured idle duration.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Start begins the countdown. Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.expired = false
	m.scheduleLocked()
	m.logger.Debug("idle monitor started", "timeout", m.timeout)
}

// Signal records an interaction event. Events outside the configured
// set are ignored; the return value reports whether name counted.
func (m *Monitor) Signal(name string) bool {
	if _, ok := m.signals[name]; !ok {
		return false
	}
	m.Activity()
	return true
}

// Activity resets the countdown to the full timeout.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.scheduleLocked()
}

// Stop cancels the countdown and releases the timer.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Debug("idle monitor stopped")
}

// Running reports whether a countdown is pending.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Expired reports whether the last countdown reached zero.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// scheduleLocked cancels the pending callback before arming a new one.
func (m *Monitor) scheduleLocked() {
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(m.timeout, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.expired = true
	m.timer = nil
	m.mu.Unlock()

	m.logger.Info("idle timeout reached", "timeout", m.timeout)
	if m.onExpire != nil {
		m.onExpire()
	}
}

// StateSource is the part of session.State a Monitor follows.
type StateSource interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
}

// Bind runs m while state is authenticated: it starts on every transition
// to Authenticated and stops on every transition away. A session replaced
// by another login restarts the countdown. The returned function detaches
// and stops the monitor.
func Bind(state StateSource, m *Monitor) func() {
	var (
		mu   sync.Mutex
		last string
	)
	// always read the latest snapshot so a stale notification cannot
	// restart a monitor after logout
	follow := func(session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		snap := state.Snapshot()
		if !snap.IsAuthenticated() {
			last = ""
			m.Stop()
			return
		}
		if snap.Session.Token != last {
			// a new session gets a fresh countdown
			m.Stop()
			last = snap.Session.Token
		}
		m.Start()
	}

	unsubscribe := state.Subscribe(follow)
	follow(state.Snapshot())

	return func() {
		unsubscribe()
		m.Stop()
	}
}
