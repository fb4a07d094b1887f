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

package display_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/display"
	"github.com/splashdigilab/willMusic/pkg/models"
	"github.com/splashdigilab/willMusic/pkg/slots"
	"github.com/splashdigilab/willMusic/pkg/store"
	"github.com/splashdigilab/willMusic/pkg/wall"
)

type screenRecorder struct {
	mu    sync.Mutex
	shown []models.Note
	srcs  []channel.Source
}

func (r *screenRecorder) Show(note models.Note, source channel.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, note)
	r.srcs = append(r.srcs, source)
}

func (r *screenRecorder) Clear() {}

func (r *screenRecorder) sawContent(content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.shown {
		if n.Content == content {
			return true
		}
	}
	return false
}

func (r *screenRecorder) sawSource(source channel.Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.srcs {
		if s == source {
			return true
		}
	}
	return false
}

// The two screens run against the same in-memory store and an in-process
// bus, walking a full borrow cycle and a full submission hand-off.
func TestWallAndDisplayChoreography(t *testing.T) {
	s := store.NewMemoryStore()
	for i := 0; i < 9; i++ {
		content := "seed " + string(rune('a'+i))
		token, err := s.CreateToken(context.Background())
		require.NoError(t, err)
		_, err = s.CreateNote(context.Background(), models.CreateNoteForm{Content: content}, token)
		require.NoError(t, err)
		require.NoError(t, s.MoveToHistory(context.Background(), models.Note{ID: token, Token: token, Content: content}))
	}
	require.Equal(t, 9, s.HistoryLen())

	bus := channel.NewLoopback()

	alloc := slots.NewAllocator(9, rand.New(rand.NewSource(3)))
	alloc.SetViewport(800, 600)
	reconciler := wall.NewReconciler(alloc)
	handoff := wall.NewHandoff(reconciler, bus.Endpoint(), 20*time.Millisecond)
	handoff.Start()
	defer handoff.Stop()

	unsub := s.SubscribeHistory(9, handoff.HandleSnapshot)
	defer unsub()
	require.True(t, reconciler.Loaded())
	require.Equal(t, 9, reconciler.Count())

	recorder := &screenRecorder{}
	o := display.NewOrchestrator(display.Options{
		Store:         s,
		Channel:       bus.Endpoint(),
		Renderer:      recorder,
		Hold:          40 * time.Millisecond,
		Transition:    20 * time.Millisecond,
		BorrowTimeout: 30 * time.Millisecond,
		IdlePoolSize:  5,
	})
	o.Start()
	defer o.Stop()

	// Borrow cycle: the display shows wall notes, and a lent note leaves
	// the wall while it is on screen.
	require.Eventually(t, func() bool {
		return recorder.sawSource(channel.SourceHistory)
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, v := range reconciler.Items() {
			if v.State == wall.StateAbsent {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// Submission hand-off: a fresh note preempts the rotation, retires into
	// history, and lands on the wall, evicting the oldest occupant.
	token, err := s.CreateToken(context.Background())
	require.NoError(t, err)
	_, err = s.CreateNote(context.Background(), models.CreateNoteForm{Content: "fresh wish"}, token)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recorder.sawContent("fresh wish")
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.HistoryLen() == 10
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, v := range reconciler.Items() {
			if v.Note.Token == token {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// The pool cap holds once the eviction animation finishes.
	require.Eventually(t, func() bool {
		return reconciler.Count() <= 9
	}, 5*time.Second, 10*time.Millisecond)

	for _, v := range reconciler.Items() {
		assert.Less(t, v.SlotIndex, 9)
	}
}
