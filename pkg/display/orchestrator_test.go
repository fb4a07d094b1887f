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

package display

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/models"
	"github.com/splashdigilab/willMusic/pkg/store"
)

// recordingRenderer keeps every shown note for assertions.
type recordingRenderer struct {
	mu     sync.Mutex
	shown  []shownNote
	clears int
}

func (r *recordingRenderer) Show(note models.Note, source channel.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, shownNote{note: note, source: source})
}

func (r *recordingRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *recordingRenderer) all() []shownNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shownNote, len(r.shown))
	copy(out, r.shown)
	return out
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

// wallPeer simulates the wall's side of the bus: it answers borrow requests
// from a fixed stock of notes and records everything else.
type wallPeer struct {
	ep    *channel.LoopbackEndpoint
	stock []models.Note

	mu       sync.Mutex
	next     int
	received []channel.Message
}

func newWallPeer(bus *channel.Loopback, stock []models.Note) *wallPeer {
	p := &wallPeer{ep: bus.Endpoint(), stock: stock}
	p.ep.Subscribe(func(msg channel.Message) {
		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()

		if _, ok := msg.(channel.BorrowRequest); ok {
			p.mu.Lock()
			if p.next >= len(p.stock) {
				p.mu.Unlock()
				return
			}
			n := p.stock[p.next]
			p.next++
			p.mu.Unlock()
			_ = p.ep.Send(context.Background(), channel.BorrowDeparting{Note: n.ToWire()})
		}
	})
	return p
}

func (p *wallPeer) messages() []channel.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]channel.Message, len(p.received))
	copy(out, p.received)
	return out
}

func submitPending(t *testing.T, s *store.MemoryStore, content string) string {
	t.Helper()
	token, err := s.CreateToken(context.Background())
	require.NoError(t, err)
	id, err := s.CreateNote(context.Background(), models.CreateNoteForm{Content: content}, token)
	require.NoError(t, err)
	return id
}

func seedHistory(t *testing.T, s *store.MemoryStore, contents ...string) {
	t.Helper()
	for _, c := range contents {
		id := submitPending(t, s, c)
		require.NoError(t, s.MoveToHistory(context.Background(), models.Note{
			ID:      id,
			Token:   id,
			Content: c,
		}))
	}
}

func fastOptions(s store.Store, ch channel.Channel, r Renderer) Options {
	return Options{
		Store:         s,
		Channel:       ch,
		Renderer:      r,
		Hold:          40 * time.Millisecond,
		Transition:    20 * time.Millisecond,
		BorrowTimeout: 30 * time.Millisecond,
		IdlePoolSize:  5,
	}
}

func TestPendingNoteIsShownAndRetiredToHistory(t *testing.T) {
	s := store.NewMemoryStore()
	id := submitPending(t, s, "first wish")

	bus := channel.NewLoopback()
	peer := newWallPeer(bus, nil)
	renderer := &recordingRenderer{}

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), renderer))
	o.Start()
	defer o.Stop()

	// The note comes up and, one slot later, retires into history.
	require.Eventually(t, func() bool {
		return s.HistoryLen() == 1
	}, 2*time.Second, 10*time.Millisecond)

	shown := renderer.all()
	require.NotEmpty(t, shown)
	assert.Equal(t, id, shown[0].note.Key())
	assert.Equal(t, channel.SourcePending, shown[0].source)

	// The retirement was announced to the wall with the note attached.
	var announced bool
	for _, m := range peer.messages() {
		if ts, ok := m.(channel.TransitionStart); ok && ts.IsExitingPending {
			require.NotNil(t, ts.ExitingPendingNote)
			assert.Equal(t, "first wish", ts.ExitingPendingNote.Content)
			announced = true
		}
	}
	assert.True(t, announced)
}

func TestRetiredPendingNoteIsNotShownTwice(t *testing.T) {
	s := store.NewMemoryStore()
	id := submitPending(t, s, "only once")
	submitPending(t, s, "and then this")

	bus := channel.NewLoopback()
	renderer := &recordingRenderer{}

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), renderer))
	o.Start()
	defer o.Stop()

	require.Eventually(t, func() bool {
		return s.HistoryLen() == 2
	}, 3*time.Second, 10*time.Millisecond)

	occurrences := 0
	for _, sn := range renderer.all() {
		if sn.source == channel.SourcePending && sn.note.Key() == id {
			occurrences++
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestBorrowsFromWallWhenQueueIsEmpty(t *testing.T) {
	s := store.NewMemoryStore()
	// Some history so the cycle after the loan has something to move to.
	seedHistory(t, s, "filler")

	bus := channel.NewLoopback()
	lent := models.Note{ID: "wall-1", Token: "wall-1", Content: "from the wall", Status: models.StatusPlayed}
	peer := newWallPeer(bus, []models.Note{lent})
	renderer := &recordingRenderer{}

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), renderer))
	o.Start()
	defer o.Stop()

	require.Eventually(t, func() bool {
		for _, sn := range renderer.all() {
			if sn.note.Key() == "wall-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// The loan comes back once the note retires.
	require.Eventually(t, func() bool {
		for _, m := range peer.messages() {
			if done, ok := m.(channel.DisplayExitDone); ok && done.NoteID == "wall-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFreshSubmissionPreemptsCachedBorrow(t *testing.T) {
	s := store.NewMemoryStore()

	bus := channel.NewLoopback()
	lent := models.Note{ID: "wall-1", Token: "wall-1", Content: "reserved", Status: models.StatusPlayed}
	peer := newWallPeer(bus, []models.Note{lent})
	renderer := &recordingRenderer{}

	// An opening submission keeps the screen busy so the prefetched borrow
	// sits cached during its hold.
	submitPending(t, s, "opening act")

	opts := fastOptions(s, bus.Endpoint(), renderer)
	opts.Hold = 150 * time.Millisecond
	o := NewOrchestrator(opts)
	o.Start()
	defer o.Stop()

	// Let the opener come up and the prefetch land, then submit mid-hold.
	time.Sleep(80 * time.Millisecond)
	id := submitPending(t, s, "late arrival")

	require.Eventually(t, func() bool {
		for _, sn := range renderer.all() {
			if sn.note.Key() == id {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// The unused reservation was handed back, and the wall note was never
	// shown before the submission.
	require.Eventually(t, func() bool {
		for _, m := range peer.messages() {
			if done, ok := m.(channel.DisplayExitDone); ok && done.NoteID == "wall-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for i, sn := range renderer.all() {
		if sn.note.Key() == "wall-1" {
			for j, other := range renderer.all() {
				if other.note.Key() == id {
					assert.Greater(t, i, j, "borrowed note must not precede the fresh submission")
				}
			}
		}
	}
}

func TestNoPeerFallsBackToIdlePool(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "old one", "old two", "old three")

	bus := channel.NewLoopback()
	renderer := &recordingRenderer{}

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), renderer))
	o.Start()
	defer o.Stop()

	// With nobody answering borrow requests the display keeps cycling
	// through recent history.
	require.Eventually(t, func() bool {
		return renderer.count() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	keys := map[string]bool{}
	for _, sn := range renderer.all() {
		assert.Equal(t, channel.SourceHistory, sn.source)
		keys[sn.note.Key()] = true
	}
	assert.GreaterOrEqual(t, len(keys), 2, "idle pool rotates between notes")
}

func TestDisplayStateClassifiesQueueDepth(t *testing.T) {
	s := store.NewMemoryStore()
	bus := channel.NewLoopback()
	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), &recordingRenderer{}))

	// Feed snapshots without running the cycle.
	unsub := s.SubscribePending(o.handlePendingSnapshot)
	defer unsub()

	assert.Equal(t, StateIdle, o.State())
	submitPending(t, s, "one")
	assert.Equal(t, StateNewSingle, o.State())
	submitPending(t, s, "two")
	assert.Equal(t, StateQueueDrain, o.State())
}

func TestBorrowAnsweredWithinSendIsUsedImmediately(t *testing.T) {
	s := store.NewMemoryStore()
	bus := channel.NewLoopback()
	lent := models.Note{ID: "wall-1", Token: "wall-1", Content: "instant", Status: models.StatusPlayed}
	newWallPeer(bus, []models.Note{lent})

	ep := bus.Endpoint()
	o := NewOrchestrator(fastOptions(s, ep, &recordingRenderer{}))

	// Subscribe without running the cycle; the loopback delivers the reply
	// inside the request's own Send.
	unsub := ep.Subscribe(o.handleMessage)
	defer unsub()

	n, ok := o.awaitBorrow()
	require.True(t, ok, "a reply that beats the waiter must still serve this slot")
	assert.Equal(t, "wall-1", n.Key())
}

func TestStopBeforeStartReturns(t *testing.T) {
	s := store.NewMemoryStore()
	bus := channel.NewLoopback()

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), &recordingRenderer{}))

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop must be a no-op on a never-started orchestrator")
	}
}

func TestStopHaltsTheCycle(t *testing.T) {
	s := store.NewMemoryStore()

	bus := channel.NewLoopback()
	renderer := &recordingRenderer{}

	o := NewOrchestrator(fastOptions(s, bus.Endpoint(), renderer))
	o.Start()
	o.Stop()

	before := renderer.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, renderer.count())
}
