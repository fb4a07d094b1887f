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
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/internal"
)

// DefaultChannelName is the pub/sub channel both screens meet on.
const DefaultChannelName = "willmusic-screen-sync"

// RedisChannel broadcasts over Redis pub/sub. Pub/sub gives exactly the
// contract the protocol expects: at-most-once, unordered relative to other
// work, and messages published with no subscriber are gone.
type RedisChannel struct {
	rdb    *redis.Client
	name   string
	logger *zap.SugaredLogger

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisChannel attaches to the named pub/sub channel and starts the
// receive loop.
func NewRedisChannel(rdb *redis.Client, name string, logger *zap.SugaredLogger) *RedisChannel {
	if name == "" {
		name = DefaultChannelName
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RedisChannel{
		rdb:      rdb,
		name:     name,
		logger:   logger,
		handlers: make(map[int]Handler),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.receiveLoop(ctx)

	return c
}

// Send publishes the message. A publish to zero subscribers succeeds: that
// is the lossy-broadcast contract, not an error.
func (c *RedisChannel) Send(ctx context.Context, msg Message) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}

	return c.rdb.Publish(ctx, c.name, raw).Err()
}

// Subscribe registers a handler and returns its unsubscribe function.
func (c *RedisChannel) Subscribe(handler Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Close stops the receive loop. The redis client is owned by the caller.
func (c *RedisChannel) Close() error {
	c.cancel()
	<-c.done

	c.mu.Lock()
	c.handlers = make(map[int]Handler)
	c.mu.Unlock()

	return nil
}

func (c *RedisChannel) receiveLoop(ctx context.Context) {
	defer close(c.done)

	var retries int64
	for {
		if ctx.Err() != nil {
			return
		}

		sub := c.rdb.Subscribe(ctx, c.name)
		// Wait for the subscription to be confirmed before consuming.
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if errors.Is(err, context.Canceled) {
				return
			}

			retries++
			c.logger.Warnf("Subscribe to %s failed (attempt %d): %s", c.name, retries, err)
			internal.SleepBackedOff(retries, 50*time.Millisecond, 5*time.Second)

			continue
		}
		retries = 0

		ch := sub.Channel()
	consume:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()

				return
			case m, ok := <-ch:
				if !ok {
					// Connection dropped, resubscribe.
					_ = sub.Close()

					break consume
				}
				c.dispatch([]byte(m.Payload))
			}
		}
	}
}

func (c *RedisChannel) dispatch(raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		// Unknown or malformed frames are ignored by design; a newer peer
		// revision must not crash an older one.
		c.logger.Debugf("Dropping channel frame: %s", err)

		return
	}

	c.mu.Lock()
	targets := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(msg)
	}
}
