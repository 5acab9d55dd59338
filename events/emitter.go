// Package events is an in-process pub/sub broker for consensus lifecycle
// events. network.Node and network.Harness publish to it as they drive a
// Replica; streamletd subscribes a logger. The replica state machine itself
// never imports this package — Replica reports transitions through its
// return values only, and its callers turn those into events.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventType labels what happened to a block in the protocol's lifecycle.
type EventType string

const (
	EventProposed  EventType = "proposed"
	EventVoted     EventType = "voted"
	EventNotarized EventType = "notarized"
	EventFinalized EventType = "finalized"
)

// Event carries a typed payload emitted after a consensus state transition.
type Event struct {
	Type      EventType      `json:"type"`
	Epoch     int64          `json:"epoch"`
	BlockHash string         `json:"block_hash"`
	Data      map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt consensus.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("event_type", ev.Type).Errorf("handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
