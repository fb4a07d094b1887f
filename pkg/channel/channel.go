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

// Package channel is the lossy broadcast link between the two screens.
// Delivery is at-most-once and unordered; a message sent while no peer is
// listening is silently lost. The hand-off protocol built on top must
// tolerate permanently missing replies.
package channel

import (
	"context"
)

// Handler receives decoded messages. Handlers of one subscriber are invoked
// sequentially; a slow handler delays later messages, not other subscribers.
type Handler func(msg Message)

// Channel is a one-way broadcast between screen processes.
type Channel interface {
	// Send broadcasts the message. No delivery guarantee, no acks.
	Send(ctx context.Context, msg Message) error
	// Subscribe registers a handler and returns its unsubscribe function.
	Subscribe(handler Handler) func()
	// Close tears the channel down and drops all handlers.
	Close() error
}
