// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
)

// clock abstracts time for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Bus is the process-wide event broadcaster. One internal lock guards the
// sequence counter, the replay buffer, the subscriber set and the state
// cache; handlers must not call back into the supervisor under it.
type Bus struct {
	mu         sync.Mutex
	seq        uint64
	replay     []Event
	replaySize int
	subs       map[*Subscriber]struct{}
	state      Snapshot
	closed     bool

	hbInterval time.Duration
	hbStop     chan struct{}

	clock  clock
	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock overrides the time source (tests).
func WithClock(c clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithHeartbeatInterval overrides the 30s default.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Bus) { b.hbInterval = d }
}

// New creates a Bus retaining the last replaySize events.
func New(replaySize int, opts ...Option) *Bus {
	if replaySize <= 0 {
		replaySize = 100
	}
	b := &Bus{
		replaySize: replaySize,
		subs:       make(map[*Subscriber]struct{}),
		state:      newState(),
		hbInterval: 30 * time.Second,
		clock:      realClock{},
		logger:     log.WithComponent("events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish assigns the next sequence number, folds the event into the
// state cache, appends it to the replay buffer and broadcasts it. The
// returned envelope is immutable.
func (b *Bus) Publish(t Type, deviceID string, payload any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}
	}

	ev := b.nextLocked(t, deviceID, payload)

	// Heartbeats are liveness signals, not state deltas; replaying them
	// would displace real events from the catch-up window.
	if t != TypeHeartbeat {
		b.state.apply(ev)
		b.replay = append(b.replay, ev)
		if len(b.replay) > b.replaySize {
			b.replay = b.replay[1:]
		}
	}

	b.broadcastLocked(ev)
	metrics.IncEventPublished(string(t))
	b.logger.Debug().
		Uint64(log.FieldSeq, ev.Seq).
		Str(log.FieldEventType, string(t)).
		Str(log.FieldDevice, deviceID).
		Msg("event published")
	return ev
}

// nextLocked mints an envelope under the bus lock.
func (b *Bus) nextLocked(t Type, deviceID string, payload any) Event {
	b.seq++
	return Event{
		V:        SchemaVersion,
		Type:     t,
		Seq:      b.seq,
		TS:       b.clock.Now().UTC(),
		DeviceID: deviceID,
		Payload:  payload,
	}
}

func (b *Bus) broadcastLocked(ev Event) {
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: delivery is best-effort, drop the subscriber.
			b.removeLocked(sub, "slow_consumer")
		}
	}
}

// Subscribe registers a subscriber and answers its catch-up request.
// The subscriber's channel is pre-loaded, in order, with a connected
// event and a sync_response covering everything after lastSeq; all
// events published afterwards follow on the same channel.
func (b *Bus) Subscribe(lastSeq uint64) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{bus: b, ch: make(chan Event, b.replaySize+32)}
	if b.closed {
		close(sub.ch)
		return sub
	}

	connected := b.nextLocked(TypeConnected, "", nil)

	canReplay := true
	var backlog []Event
	if len(b.replay) > 0 {
		minSeq := b.replay[0].Seq
		if lastSeq+1 >= minSeq {
			for _, ev := range b.replay {
				if ev.Seq > lastSeq {
					backlog = append(backlog, ev)
				}
			}
		} else {
			canReplay = false
		}
	}
	sync := b.nextLocked(TypeSyncResponse, "", SyncPayload{
		CanReplay: canReplay,
		Events:    backlog,
		Snapshot:  b.state.clone(),
	})

	// Connection-scoped events go only to this subscriber and are not
	// retained for replay.
	sub.ch <- connected
	sub.ch <- sync

	b.subs[sub] = struct{}{}
	metrics.EventSubscribers.Set(float64(len(b.subs)))
	if len(b.subs) == 1 {
		b.startHeartbeatLocked()
	}

	outcome := "replayed"
	if !canReplay {
		outcome = "snapshot_only"
	}
	metrics.IncResync(outcome)
	return sub
}

// Snapshot returns a copy of the cached authoritative state.
func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

// Seq returns the last assigned sequence number.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close disconnects all subscribers and stops the heartbeat.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub, "bus_closed")
	}
}

// removeLocked detaches a subscriber. Caller holds the bus lock.
func (b *Bus) removeLocked(sub *Subscriber, reason string) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	metrics.EventSubscribers.Set(float64(len(b.subs)))
	metrics.IncEventDrop(reason)
	if len(b.subs) == 0 {
		b.stopHeartbeatLocked()
	}
}

func (b *Bus) startHeartbeatLocked() {
	if b.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	b.hbStop = stop
	go func() {
		ticker := time.NewTicker(b.hbInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Publish(TypeHeartbeat, "", nil)
			case <-stop:
				return
			}
		}
	}()
}

func (b *Bus) stopHeartbeatLocked() {
	if b.hbStop != nil {
		close(b.hbStop)
		b.hbStop = nil
	}
}

// Subscriber is one connected event consumer. Events arrive on C() in
// strict sequence order; the channel closes when the subscriber is
// disconnected.
type Subscriber struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the delivery channel.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Close detaches the subscriber from the bus.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.removeLocked(s, "client_closed")
	})
}
