// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package status keeps a thread-safe display model of the engine for the
// HTTP server, MQTT reporter and other readers outside the event loop.
package status

import (
	"sync"
	"time"

	"github.com/Thermoquad/helioguard/internal/engine"
)

// DefaultRecentLogSize is how many log entries a snapshot carries
const DefaultRecentLogSize = 50

// Config contains daemon configuration for display
type Config struct {
	Link     string
	HTTPAddr string
	Broker   string
}

// Snapshot is a point-in-time view of the engine.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	StartTime time.Time
	Now       time.Time
	Config    Config

	State        engine.State
	Telemetry    *engine.Telemetry
	LastOutbound string
	Outbound     uint64
	Recent       []engine.LogEntry

	MQTTConnected bool
}

// Uptime returns the duration since the tracker was created
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker implements engine.Sink and holds the latest engine output behind
// an RWMutex
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	recent []engine.LogEntry
	limit  int

	subs   map[int]chan Snapshot
	nextID int
	now    func() time.Time
}

// NewTracker creates a Tracker with the given start time and config
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		limit: DefaultRecentLogSize,
		subs:  make(map[int]chan Snapshot),
		now:   time.Now,
	}
}

// Telemetry stores the latest decoded record
func (t *Tracker) Telemetry(tel engine.Telemetry) {
	t.mu.Lock()
	t.snap.Telemetry = &tel
	t.mu.Unlock()
}

// State stores the engine state and notifies subscribers
func (t *Tracker) State(st engine.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.State = st

	if len(t.subs) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber; it catches up on the next state
		}
	}
}

// Outbound records the last command frame sent
func (t *Tracker) Outbound(f []byte) {
	t.mu.Lock()
	t.snap.LastOutbound = string(f)
	t.snap.Outbound++
	t.mu.Unlock()
}

// Log appends to the recent-entry ring. Frame traces are skipped.
func (t *Tracker) Log(e engine.LogEntry) {
	if e.Kind == engine.LogInbound || e.Kind == engine.LogOutbound {
		return
	}
	t.mu.Lock()
	t.recent = append(t.recent, e)
	if len(t.recent) > t.limit {
		t.recent = t.recent[len(t.recent)-t.limit:]
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Subscribe returns a channel that receives a snapshot after every engine
// state change. Call cancel to unsubscribe; the channel is then closed.
func (t *Tracker) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Snapshot returns a point-in-time copy of the engine state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := t.snap
	s.Recent = append([]engine.LogEntry(nil), t.recent...)
	if s.Telemetry != nil {
		tel := *s.Telemetry
		s.Telemetry = &tel
	}
	s.Now = t.now()
	return s
}
