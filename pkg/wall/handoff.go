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
	"time"

	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/metrics"
	"github.com/splashdigilab/willMusic/pkg/models"
)

// Handoff runs the wall's side of the slot choreography: it answers borrow
// requests, walks loaned notes through exit and return, and admits arriving
// pending notes announced by the display. Animation advancement uses timers
// of half the transition time, matching the renderer's midpoint swap.
type Handoff struct {
	rec            *Reconciler
	ch             channel.Channel
	halfTransition time.Duration
	log            *zap.SugaredLogger

	mu     sync.Mutex
	timers []*time.Timer
	unsub  func()
}

func NewHandoff(rec *Reconciler, ch channel.Channel, transition time.Duration) *Handoff {
	return &Handoff{
		rec:            rec,
		ch:             ch,
		halfTransition: transition / 2,
		log:            logger.For(logger.ComponentHandoff),
	}
}

// Start subscribes to the sync channel. Stop undoes it.
func (h *Handoff) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsub == nil {
		h.unsub = h.ch.Subscribe(h.handle)
	}
}

func (h *Handoff) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}

// HandleSnapshot folds a history snapshot into the wall and animates any
// folded-in notes onto their slots.
func (h *Handoff) HandleSnapshot(snapshot []models.Note) {
	for _, key := range h.rec.Reconcile(snapshot) {
		key := key
		h.after(h.halfTransition, func() {
			if err := h.rec.SetItemState(key, StateVisible); err != nil {
				h.log.Debugf("Folded-in note %s vanished before landing: %s", key, err)
			}
		})
	}
}

func (h *Handoff) handle(msg channel.Message) {
	switch m := msg.(type) {
	case channel.BorrowRequest:
		h.handleBorrowRequest()
	case channel.TransitionStart:
		h.handleTransitionStart(m)
	case channel.DisplayExitDone:
		h.handleDisplayExitDone(m)
	}
}

// handleBorrowRequest reserves a random visible note and announces it. The
// note keeps its slot: nothing moves until the display confirms the hand-off
// with TRANSITION_START.
func (h *Handoff) handleBorrowRequest() {
	note, ok := h.rec.PickVisible()
	if !ok {
		h.log.Info("Borrow requested but no visible notes are on the wall")
		metrics.IncBorrowsDeclined()
		return
	}

	if err := h.rec.SetItemState(note.Key(), StateReserved); err != nil {
		h.log.Warnf("Failed to reserve %s: %s", note.Key(), err)
		return
	}

	if err := h.ch.Send(context.Background(), channel.BorrowDeparting{Note: note.ToWire()}); err != nil {
		h.log.Warnf("Failed to announce departing note %s: %s", note.Key(), err)
		if relErr := h.rec.SetItemState(note.Key(), StateVisible); relErr != nil {
			h.log.Warnf("Failed to release %s after send failure: %s", note.Key(), relErr)
		}
		return
	}
	metrics.IncBorrowsServed()
}

func (h *Handoff) handleTransitionStart(m channel.TransitionStart) {
	if m.IsExitingPending && m.ExitingPendingNote != nil {
		note := m.ExitingPendingNote.ToNote()
		victim, evicted := h.rec.EvictOldestAndInsert(note)
		if evicted {
			metrics.IncEvictions()
			h.after(h.halfTransition, func() {
				h.rec.RemoveItem(victim)
			})
		}
	}

	if m.NextSource == channel.SourceHistory && m.NoteID != "" {
		// Hand-off confirmed: the reserved note leaves the wall now, and
		// goes on loan once the exit animation completes. An id the wall
		// does not know means the display is showing something else, a
		// fallback after it never heard BORROW_DEPARTING. The hand-off is
		// aborted and the reservation released; exiting the reserved note
		// would strand it off the wall with no return message coming.
		key := m.NoteID
		if _, known := h.rec.ItemState(key); !known {
			if reserved, ok := h.rec.ReservedKey(); ok {
				h.log.Infof("Display picked %s instead of reserved %s, releasing the reservation", key, reserved)
				if err := h.rec.SetItemState(reserved, StateVisible); err != nil {
					h.log.Warnf("Failed to release %s: %s", reserved, err)
				}
			}
			return
		}
		if err := h.rec.SetItemState(key, StateExiting); err != nil {
			h.log.Debugf("Transition start for %s ignored: %s", key, err)
			return
		}
		h.after(h.halfTransition, func() {
			if err := h.rec.SetItemState(key, StateAbsent); err != nil {
				h.log.Debugf("Loan of %s skipped: %s", key, err)
			}
		})
	}
}

// handleDisplayExitDone returns a loaned note to the wall, or releases a
// reservation the display never used.
func (h *Handoff) handleDisplayExitDone(m channel.DisplayExitDone) {
	state, ok := h.rec.ItemState(m.NoteID)
	if !ok {
		h.log.Debugf("Display finished %s but it is not on the wall", m.NoteID)
		return
	}

	switch state {
	case StateReserved:
		// The reservation was never consumed; put the note back as-is.
		if err := h.rec.SetItemState(m.NoteID, StateVisible); err != nil {
			h.log.Warnf("Failed to release %s: %s", m.NoteID, err)
		}
	case StateAbsent, StateExiting:
		key := m.NoteID
		if err := h.rec.SetItemState(key, StateEnteringRight); err != nil {
			h.log.Warnf("Failed to return %s: %s", key, err)
			return
		}
		h.after(h.halfTransition, func() {
			if err := h.rec.SetItemState(key, StateVisible); err != nil {
				h.log.Debugf("Returning note %s vanished before landing: %s", key, err)
			}
		})
	default:
		h.log.Debugf("Display finished %s in unexpected state %s", m.NoteID, state)
	}
}

func (h *Handoff) after(d time.Duration, f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timers = append(h.timers, time.AfterFunc(d, f))
}
