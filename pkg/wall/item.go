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
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/models"
)

// State is the animation/lifecycle state of one wall occupant.
type State string

const (
	// StateVisible: normally shown on the wall.
	StateVisible State = "visible"
	// StateReserved: selected for borrowing, awaiting the confirmed hand-off.
	StateReserved State = "reserved"
	// StateExiting: hand-off confirmed, exit animation running.
	StateExiting State = "exiting"
	// StateAbsent: on loan to the display; the slot stays reserved, nothing
	// is rendered.
	StateAbsent State = "absent"
	// StateEnteringRight: flying in from the right (returned loan or fresh
	// submission).
	StateEnteringRight State = "entering-right"
	// StateEnteringLeft: flying in from the left (folded in from the store).
	StateEnteringLeft State = "entering-left"
	// StateRemovingTop: evicted upward; terminal, the item is deleted once
	// the animation finishes.
	StateRemovingTop State = "removing-top"
)

// Events of the occupant state machine.
const (
	EventReserve = "reserve"
	EventRelease = "release"
	EventDepart  = "depart"
	EventLoan    = "loan"
	EventEvict   = "evict"
	EventReturn  = "return"
	EventLand    = "land"
)

// LiveItem binds a note to a slot plus its current lifecycle state. The
// slot index is fixed for the occupant's lifetime; only geometry behind the
// index moves.
type LiveItem struct {
	Key       string
	Note      models.Note
	SlotIndex int

	machine *fsm.FSM
}

func newLiveItem(key string, note models.Note, slotIndex int, initial State, logger *zap.SugaredLogger) *LiveItem {
	item := &LiveItem{
		Key:       key,
		Note:      note,
		SlotIndex: slotIndex,
	}

	item.machine = fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: EventReserve, Src: []string{string(StateVisible)}, Dst: string(StateReserved)},
			{Name: EventRelease, Src: []string{string(StateReserved)}, Dst: string(StateVisible)},
			{Name: EventDepart, Src: []string{string(StateReserved)}, Dst: string(StateExiting)},
			{Name: EventLoan, Src: []string{string(StateExiting)}, Dst: string(StateAbsent)},
			// Eviction never touches items already mid-animation.
			{Name: EventEvict, Src: []string{string(StateVisible), string(StateReserved)}, Dst: string(StateRemovingTop)},
			// Return absorbs a DISPLAY_EXIT_DONE racing the loan timer, so
			// exiting is a legal source too.
			{Name: EventReturn, Src: []string{string(StateAbsent), string(StateExiting)}, Dst: string(StateEnteringRight)},
			{Name: EventLand, Src: []string{string(StateEnteringRight), string(StateEnteringLeft)}, Dst: string(StateVisible)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("Item %s: %s -> %s", key, e.Src, e.Dst)
			},
		},
	)

	return item
}

// State returns the current lifecycle state.
func (i *LiveItem) State() State {
	return State(i.machine.Current())
}

// setState drives the machine to the target state via its event graph.
// Invalid transitions come back as errors instead of corrupting the item.
func (i *LiveItem) setState(target State) error {
	var event string
	switch target {
	case StateReserved:
		event = EventReserve
	case StateVisible:
		if i.State() == StateReserved {
			event = EventRelease
		} else {
			event = EventLand
		}
	case StateExiting:
		event = EventDepart
	case StateAbsent:
		event = EventLoan
	case StateEnteringRight:
		event = EventReturn
	case StateRemovingTop:
		event = EventEvict
	case StateEnteringLeft:
		return fmt.Errorf("item %s: %s is an initial state only", i.Key, target)
	default:
		return fmt.Errorf("item %s: unknown state %q", i.Key, target)
	}

	if err := i.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("item %s: %s from %s: %w", i.Key, event, i.State(), err)
	}

	return nil
}
