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

package wall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/models"
)

// displayPeer is the display's seat on the bus, recording everything the
// wall sends it.
type displayPeer struct {
	ep *channel.LoopbackEndpoint

	mu       sync.Mutex
	received []channel.Message
}

func newDisplayPeer(bus *channel.Loopback) *displayPeer {
	p := &displayPeer{ep: bus.Endpoint()}
	p.ep.Subscribe(func(msg channel.Message) {
		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()
	})
	return p
}

func (p *displayPeer) send(t *testing.T, msg channel.Message) {
	t.Helper()
	require.NoError(t, p.ep.Send(context.Background(), msg))
}

func (p *displayPeer) lastDeparting() (channel.BorrowDeparting, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.received) - 1; i >= 0; i-- {
		if m, ok := p.received[i].(channel.BorrowDeparting); ok {
			return m, true
		}
	}
	return channel.BorrowDeparting{}, false
}

func newTestHandoff(t *testing.T, poolSize, loaded int) (*Handoff, *Reconciler, *displayPeer) {
	t.Helper()

	bus := channel.NewLoopback()
	peer := newDisplayPeer(bus)

	rec := NewReconciler(testAllocator(t, poolSize))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.Reconcile(snapshotOf(loaded, base))

	h := NewHandoff(rec, bus.Endpoint(), 40*time.Millisecond)
	h.Start()
	t.Cleanup(h.Stop)

	return h, rec, peer
}

func TestBorrowRequestReservesAndAnnounces(t *testing.T) {
	_, rec, peer := newTestHandoff(t, 9, 3)

	peer.send(t, channel.BorrowRequest{})

	departing, ok := peer.lastDeparting()
	require.True(t, ok, "wall must answer with BORROW_DEPARTING")

	state, found := rec.ItemState(departing.Note.ToNote().Key())
	require.True(t, found)
	assert.Equal(t, StateReserved, state)
}

func TestBorrowRequestOnEmptyWallStaysSilent(t *testing.T) {
	_, _, peer := newTestHandoff(t, 9, 0)

	peer.send(t, channel.BorrowRequest{})

	_, ok := peer.lastDeparting()
	assert.False(t, ok)
}

func TestConfirmedHandoffWalksExitThenLoan(t *testing.T) {
	_, rec, peer := newTestHandoff(t, 9, 3)

	peer.send(t, channel.BorrowRequest{})
	departing, ok := peer.lastDeparting()
	require.True(t, ok)
	key := departing.Note.ToNote().Key()

	peer.send(t, channel.TransitionStart{
		NoteID:     key,
		NextSource: channel.SourceHistory,
	})

	state, _ := rec.ItemState(key)
	assert.Equal(t, StateExiting, state)

	// Half the transition later the note is on loan.
	require.Eventually(t, func() bool {
		state, _ := rec.ItemState(key)
		return state == StateAbsent
	}, time.Second, 5*time.Millisecond)

	// And the display finishing it brings it back.
	peer.send(t, channel.DisplayExitDone{NoteID: key})
	state, _ = rec.ItemState(key)
	assert.Equal(t, StateEnteringRight, state)

	require.Eventually(t, func() bool {
		state, _ := rec.ItemState(key)
		return state == StateVisible
	}, time.Second, 5*time.Millisecond)
}

func TestUnusedReservationIsReleased(t *testing.T) {
	_, rec, peer := newTestHandoff(t, 9, 3)

	peer.send(t, channel.BorrowRequest{})
	departing, ok := peer.lastDeparting()
	require.True(t, ok)
	key := departing.Note.ToNote().Key()

	// The display chose a pending note instead and retires the reservation.
	peer.send(t, channel.DisplayExitDone{NoteID: key})

	state, _ := rec.ItemState(key)
	assert.Equal(t, StateVisible, state)
}

func TestLostReplyAbortsHandoffAndReleasesReservation(t *testing.T) {
	_, rec, peer := newTestHandoff(t, 9, 3)

	peer.send(t, channel.BorrowRequest{})
	departing, ok := peer.lastDeparting()
	require.True(t, ok)
	reserved := departing.Note.ToNote().Key()

	// The display never heard the reply, timed out, and now announces a
	// history note of its own making.
	peer.send(t, channel.TransitionStart{
		NoteID:     "not-on-this-wall",
		NextSource: channel.SourceHistory,
	})

	state, found := rec.ItemState(reserved)
	require.True(t, found)
	assert.Equal(t, StateVisible, state)

	// Nothing leaves the wall later either: no timer is walking the note
	// off to absent.
	time.Sleep(60 * time.Millisecond)
	state, _ = rec.ItemState(reserved)
	assert.Equal(t, StateVisible, state)

	// The display eventually finishes its own note; the wall shrugs.
	peer.send(t, channel.DisplayExitDone{NoteID: "not-on-this-wall"})
	for _, v := range rec.Items() {
		assert.Equal(t, StateVisible, v.State)
	}
}

func TestPendingExitEvictsAndAdmits(t *testing.T) {
	_, rec, peer := newTestHandoff(t, 3, 3)

	arriving := models.Note{Token: "token-fresh", Content: "incoming"}
	peer.send(t, channel.TransitionStart{
		NextSource:         channel.SourcePending,
		IsExitingPending:   true,
		ExitingPendingNote: wirePtr(arriving),
	})

	// Momentarily both the victim and the newcomer coexist.
	assert.Equal(t, 4, rec.Count())
	state, ok := rec.ItemState(arriving.Key())
	require.True(t, ok)
	assert.Equal(t, StateAbsent, state)

	// The victim disappears once its exit animation completes.
	require.Eventually(t, func() bool {
		return rec.Count() == 3
	}, time.Second, 5*time.Millisecond)

	// The display finishing the note flies it onto its pre-claimed slot.
	peer.send(t, channel.DisplayExitDone{NoteID: arriving.Key()})
	require.Eventually(t, func() bool {
		state, _ := rec.ItemState(arriving.Key())
		return state == StateVisible
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotFoldInAnimatesToVisible(t *testing.T) {
	h, rec, _ := newTestHandoff(t, 9, 3)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.HandleSnapshot(snapshotOf(5, base))
	require.Equal(t, 5, rec.Count())

	require.Eventually(t, func() bool {
		for _, v := range rec.Items() {
			if v.State != StateVisible {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func wirePtr(n models.Note) *models.WireNote {
	w := n.ToWire()
	return &w
}
