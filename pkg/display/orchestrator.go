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
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/metrics"
	"github.com/splashdigilab/willMusic/pkg/models"
	"github.com/splashdigilab/willMusic/pkg/store"
)

// Options configures the display orchestrator.
type Options struct {
	Store    store.Store
	Channel  channel.Channel
	Renderer Renderer

	// Hold is how long each note stays on screen, Transition how long the
	// cross-fade between two notes takes. One slot is Hold + Transition.
	Hold       time.Duration
	Transition time.Duration

	// BorrowTimeout bounds the wait for a BORROW_DEPARTING reply. Zero
	// defaults to the transition time.
	BorrowTimeout time.Duration

	// IdlePoolSize is how many recent history notes to rotate through when
	// no wall peer answers borrow requests.
	IdlePoolSize int
}

type shownNote struct {
	note   models.Note
	source channel.Source
}

// DisplayState classifies the effective pending queue depth. Idle slots
// negotiate with the wall; the other two states play submissions.
type DisplayState string

const (
	StateIdle       DisplayState = "idle"
	StateNewSingle  DisplayState = "newSingle"
	StateQueueDrain DisplayState = "queueDrain"
)

// Orchestrator runs the display's slot cycle: every slot it retires the note
// on screen and brings in the next one, preferring fresh submissions and
// borrowing from the wall otherwise. It is the only writer of the pending
// queue: retiring a pending note moves it to history.
type Orchestrator struct {
	store    store.Store
	ch       channel.Channel
	renderer Renderer
	log      *zap.SugaredLogger

	hold          time.Duration
	transition    time.Duration
	borrowTimeout time.Duration
	idlePoolSize  int

	mu      sync.Mutex
	pending []models.Note
	// Keys of pending notes already retired locally but not yet confirmed
	// gone by a store snapshot. Keeps a slow store from replaying a note.
	completedPending map[string]struct{}
	current          *shownNote

	borrowed       *models.Note
	borrowWaiter   chan models.Note
	awaitingBorrow bool

	idlePool  []models.Note
	idleIndex int

	stopCh       chan struct{}
	doneCh       chan struct{}
	unsubChannel func()
	unsubPending func()
	started      bool
}

func NewOrchestrator(opts Options) *Orchestrator {
	borrowTimeout := opts.BorrowTimeout
	if borrowTimeout <= 0 {
		borrowTimeout = opts.Transition
	}
	idlePoolSize := opts.IdlePoolSize
	if idlePoolSize <= 0 {
		idlePoolSize = 20
	}

	return &Orchestrator{
		store:            opts.Store,
		ch:               opts.Channel,
		renderer:         opts.Renderer,
		log:              logger.For(logger.ComponentDisplay),
		hold:             opts.Hold,
		transition:       opts.Transition,
		borrowTimeout:    borrowTimeout,
		idlePoolSize:     idlePoolSize,
		completedPending: make(map[string]struct{}),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start subscribes to the sync channel and the pending queue and begins
// cycling. It returns immediately.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	o.unsubChannel = o.ch.Subscribe(o.handleMessage)
	o.unsubPending = o.store.SubscribePending(o.handlePendingSnapshot)

	go o.run()
}

// Stop halts the cycle and unsubscribes. Safe to call once; a no-op when
// the orchestrator never started.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}

	close(o.stopCh)
	<-o.doneCh
	if o.unsubChannel != nil {
		o.unsubChannel()
	}
	if o.unsubPending != nil {
		o.unsubPending()
	}
}

func (o *Orchestrator) run() {
	defer close(o.doneCh)

	for {
		started := time.Now()
		if !o.cycle() {
			return
		}
		metrics.ObserveSlotCycleTime(time.Since(started))
	}
}

// cycle holds the current note on screen, then transitions to the next one.
// Returns false once stopped.
func (o *Orchestrator) cycle() bool {
	// Prefetch: an idle slot will be fed from the wall, so ask early and
	// let the reply arrive during the hold.
	if o.State() == StateIdle {
		o.requestBorrow()
	}

	// A blank screen does not get held: the first note comes up after one
	// transition.
	o.mu.Lock()
	blank := o.current == nil
	o.mu.Unlock()
	if !blank && !o.sleep(o.hold) {
		return false
	}

	next, source, hasNext := o.selectNext()
	if !hasNext && blank {
		// Truly idle: nothing on screen and nothing to show.
		return o.sleep(o.transition)
	}

	// The slot ends even without a successor: a shown note is retired, not
	// parked on screen forever.
	return o.transitionTo(next, source, hasNext)
}

// selectNext picks the next note: fresh submissions first, then a borrowed
// wall note, then the idle pool. A cached borrow preempted by a submission
// is handed back to the wall.
func (o *Orchestrator) selectNext() (models.Note, channel.Source, bool) {
	if n, ok := o.takePending(); ok {
		o.releaseUnusedBorrow()
		return n, channel.SourcePending, true
	}

	if n, ok := o.awaitBorrow(); ok {
		return n, channel.SourceHistory, true
	}

	if n, ok := o.nextIdle(); ok {
		return n, channel.SourceHistory, true
	}

	return models.Note{}, "", false
}

// transitionTo announces the hand-off, swaps the screen at the midpoint, and
// retires the outgoing note. With no successor the screen just goes blank.
func (o *Orchestrator) transitionTo(next models.Note, source channel.Source, hasNext bool) bool {
	o.mu.Lock()
	outgoing := o.current
	o.mu.Unlock()

	msg := channel.TransitionStart{
		NextSource: source,
	}
	if hasNext && source == channel.SourceHistory {
		msg.NoteID = next.Key()
	}
	if outgoing != nil && outgoing.source == channel.SourcePending {
		msg.IsExitingPending = true
		played := outgoing.note.AsPlayed(time.Now())
		wire := played.ToWire()
		msg.ExitingPendingNote = &wire
		outgoing.note = played
	}

	if err := o.ch.Send(context.Background(), msg); err != nil {
		o.log.Warnf("Failed to announce transition: %s", err)
		metrics.IncErrorCount(logger.ComponentChannel)
	}

	if !o.sleep(o.transition / 2) {
		return false
	}

	o.renderer.Clear()
	o.retire(outgoing)

	if hasNext {
		o.renderer.Show(next, source)
		o.mu.Lock()
		o.current = &shownNote{note: next, source: source}
		o.mu.Unlock()
		metrics.IncNotesPlayed(string(source))
	} else {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}

	return o.sleep(o.transition / 2)
}

// retire finishes the outgoing note: pending notes move to history, borrowed
// history notes go back to the wall.
func (o *Orchestrator) retire(outgoing *shownNote) {
	if outgoing == nil {
		return
	}

	key := outgoing.note.Key()
	switch outgoing.source {
	case channel.SourcePending:
		o.mu.Lock()
		o.completedPending[key] = struct{}{}
		o.mu.Unlock()

		note := outgoing.note
		go func() {
			if err := o.store.MoveToHistory(context.Background(), note); err != nil {
				o.log.Warnf("Failed to move note %s to history, it will be shown again: %s", key, err)
				metrics.IncErrorCount(logger.ComponentStore)
				o.mu.Lock()
				delete(o.completedPending, key)
				o.mu.Unlock()
			}
		}()
	case channel.SourceHistory:
		if err := o.ch.Send(context.Background(), channel.DisplayExitDone{NoteID: key}); err != nil {
			o.log.Warnf("Failed to return note %s to the wall: %s", key, err)
			metrics.IncErrorCount(logger.ComponentChannel)
		}
	}
}

func (o *Orchestrator) handleMessage(msg channel.Message) {
	m, ok := msg.(channel.BorrowDeparting)
	if !ok {
		return
	}

	note := m.Note.ToNote()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.awaitingBorrow = false
	if o.borrowWaiter != nil {
		o.borrowWaiter <- note
		o.borrowWaiter = nil
		return
	}
	// No cycle is waiting; cache the note for the next history slot.
	o.borrowed = &note
}

func (o *Orchestrator) handlePendingSnapshot(items []models.Note) {
	o.mu.Lock()
	o.pending = items

	// The store confirming a removal lets us forget it.
	live := make(map[string]struct{}, len(items))
	for _, n := range items {
		live[n.Key()] = struct{}{}
	}
	for key := range o.completedPending {
		if _, ok := live[key]; !ok {
			delete(o.completedPending, key)
		}
	}

	depth := 0
	for _, n := range items {
		if _, done := o.completedPending[n.Key()]; !done {
			depth++
		}
	}
	o.mu.Unlock()

	metrics.SetPendingQueueDepth(depth)
}

// State reports the current queue classification.
func (o *Orchestrator) State() DisplayState {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := o.effectiveLenLocked()
	switch {
	case n >= 2:
		return StateQueueDrain
	case n == 1:
		return StateNewSingle
	default:
		return StateIdle
	}
}

func (o *Orchestrator) takePending() (models.Note, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.effectiveHeadLocked()
}

// effectiveHeadLocked returns the oldest pending note that is neither on
// screen right now nor already retired locally.
func (o *Orchestrator) effectiveHeadLocked() (models.Note, bool) {
	var currentKey string
	if o.current != nil {
		currentKey = o.current.note.Key()
	}
	for _, n := range o.pending {
		key := n.Key()
		if key == currentKey {
			continue
		}
		if _, done := o.completedPending[key]; done {
			continue
		}
		return n, true
	}
	return models.Note{}, false
}

func (o *Orchestrator) effectiveLenLocked() int {
	var currentKey string
	if o.current != nil {
		currentKey = o.current.note.Key()
	}
	n := 0
	for _, note := range o.pending {
		key := note.Key()
		if key == currentKey {
			continue
		}
		if _, done := o.completedPending[key]; done {
			continue
		}
		n++
	}
	return n
}

// requestBorrow sends BORROW_REQUEST unless a reply is already cached or
// outstanding.
func (o *Orchestrator) requestBorrow() {
	o.mu.Lock()
	if o.borrowed != nil || o.awaitingBorrow {
		o.mu.Unlock()
		return
	}
	o.awaitingBorrow = true
	o.mu.Unlock()

	if err := o.ch.Send(context.Background(), channel.BorrowRequest{}); err != nil {
		o.log.Debugf("Borrow request failed: %s", err)
		o.mu.Lock()
		o.awaitingBorrow = false
		o.mu.Unlock()
	}
}

// awaitBorrow returns a borrowed note, waiting up to the borrow timeout for
// an outstanding request before giving up.
func (o *Orchestrator) awaitBorrow() (models.Note, bool) {
	o.mu.Lock()
	if o.borrowed != nil {
		n := *o.borrowed
		o.borrowed = nil
		o.mu.Unlock()
		return n, true
	}
	if !o.awaitingBorrow {
		o.mu.Unlock()
		o.requestBorrow()
		o.mu.Lock()
		// The reply may already be here if the wall answered within the
		// send itself.
		if o.borrowed != nil {
			n := *o.borrowed
			o.borrowed = nil
			o.mu.Unlock()
			return n, true
		}
		if !o.awaitingBorrow {
			o.mu.Unlock()
			return models.Note{}, false
		}
	}
	waiter := make(chan models.Note, 1)
	o.borrowWaiter = waiter
	o.mu.Unlock()

	timer := time.NewTimer(o.borrowTimeout)
	defer timer.Stop()

	select {
	case n := <-waiter:
		return n, true
	case <-timer.C:
	case <-o.stopCh:
	}

	o.mu.Lock()
	o.borrowWaiter = nil
	// The request is considered dead; a later cycle may ask again.
	o.awaitingBorrow = false
	o.mu.Unlock()

	// The reply may have slipped in between the timeout and the lock.
	select {
	case n := <-waiter:
		return n, true
	default:
	}

	o.log.Debug("Borrow request timed out, no wall peer answered")
	metrics.IncBorrowTimeouts()
	return models.Note{}, false
}

// releaseUnusedBorrow hands a cached but preempted borrow back to the wall.
func (o *Orchestrator) releaseUnusedBorrow() {
	o.mu.Lock()
	cached := o.borrowed
	o.borrowed = nil
	o.mu.Unlock()

	if cached == nil {
		return
	}
	if err := o.ch.Send(context.Background(), channel.DisplayExitDone{NoteID: cached.Key()}); err != nil {
		o.log.Debugf("Failed to release unused borrow %s: %s", cached.Key(), err)
	}
}

// nextIdle rotates through a page of recent history when the wall does not
// answer, so the screen never freezes on one note.
func (o *Orchestrator) nextIdle() (models.Note, bool) {
	o.mu.Lock()
	needsRefresh := len(o.idlePool) == 0 || o.idleIndex >= len(o.idlePool)
	o.mu.Unlock()

	if needsRefresh {
		page, err := o.store.GetHistoryPage(context.Background(), o.idlePoolSize, "")
		if err != nil {
			o.log.Warnf("Failed to load idle pool: %s", err)
			metrics.IncErrorCount(logger.ComponentStore)
			return models.Note{}, false
		}
		// Shuffled so repeated fallbacks do not replay history in order.
		items := make([]models.Note, len(page.Items))
		copy(items, page.Items)
		rand.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})

		o.mu.Lock()
		o.idlePool = items
		o.idleIndex = 0
		o.mu.Unlock()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.idlePool) == 0 {
		return models.Note{}, false
	}

	// Skip the note already on screen when the pool has alternatives.
	for tries := 0; tries < len(o.idlePool); tries++ {
		n := o.idlePool[o.idleIndex%len(o.idlePool)]
		o.idleIndex++
		if o.current != nil && len(o.idlePool) > 1 && n.Key() == o.current.note.Key() {
			continue
		}
		return n, true
	}
	return o.idlePool[0], true
}

func (o *Orchestrator) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-o.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-o.stopCh:
		return false
	}
}
