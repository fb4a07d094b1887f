// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"context"
	"sync"
)

// Loopback is an in-process broadcast bus with the same semantics as the
// real channel: a sender never hears its own messages, and sends with no
// listening peer vanish. Used by tests and single-process demo mode.
type Loopback struct {
	mu        sync.Mutex
	endpoints map[*LoopbackEndpoint]struct{}
}

// NewLoopback creates an empty bus.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[*LoopbackEndpoint]struct{})}
}

// Endpoint attaches a new peer to the bus.
func (l *Loopback) Endpoint() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{bus: l, handlers: make(map[int]Handler)}

	l.mu.Lock()
	l.endpoints[ep] = struct{}{}
	l.mu.Unlock()

	return ep
}

func (l *Loopback) broadcast(from *LoopbackEndpoint, msg Message) {
	// Round-trip through the codec so loopback tests exercise exactly what
	// crosses the real wire.
	raw, err := Encode(msg)
	if err != nil {
		return
	}
	decoded, err := Decode(raw)
	if err != nil {
		return
	}

	l.mu.Lock()
	var targets []Handler
	for ep := range l.endpoints {
		if ep == from {
			continue
		}
		targets = append(targets, ep.snapshotHandlers()...)
	}
	l.mu.Unlock()

	for _, h := range targets {
		h(decoded)
	}
}

func (l *Loopback) detach(ep *LoopbackEndpoint) {
	l.mu.Lock()
	delete(l.endpoints, ep)
	l.mu.Unlock()
}

// LoopbackEndpoint is one peer's view of the bus.
type LoopbackEndpoint struct {
	bus      *Loopback
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
}

// Send broadcasts to every other endpoint, synchronously.
func (ep *LoopbackEndpoint) Send(_ context.Context, msg Message) error {
	ep.bus.broadcast(ep, msg)

	return nil
}

// Subscribe registers a handler and returns its unsubscribe function.
func (ep *LoopbackEndpoint) Subscribe(handler Handler) func() {
	ep.mu.Lock()
	id := ep.nextID
	ep.nextID++
	ep.handlers[id] = handler
	ep.mu.Unlock()

	return func() {
		ep.mu.Lock()
		delete(ep.handlers, id)
		ep.mu.Unlock()
	}
}

// Close detaches the endpoint from the bus.
func (ep *LoopbackEndpoint) Close() error {
	ep.bus.detach(ep)

	ep.mu.Lock()
	ep.handlers = make(map[int]Handler)
	ep.mu.Unlock()

	return nil
}

func (ep *LoopbackEndpoint) snapshotHandlers() []Handler {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	out := make([]Handler, 0, len(ep.handlers))
	for _, h := range ep.handlers {
		out = append(out, h)
	}

	return out
}
