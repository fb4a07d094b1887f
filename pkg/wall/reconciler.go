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
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/models"
	"github.com/splashdigilab/willMusic/pkg/slots"
)

// ItemView is a read-only snapshot of one wall occupant, geometry included,
// ready for a renderer or the state endpoint.
type ItemView struct {
	Key       string      `json:"key"`
	Note      models.Note `json:"note"`
	SlotIndex int         `json:"slotIndex"`
	State     State       `json:"state"`
	Slot      slots.Slot  `json:"slot"`
}

// Reconciler owns the wall occupancy: which notes hold which slots, in which
// lifecycle state. Store snapshots are folded in, never replayed wholesale,
// so locally animated items keep their slots and states across refreshes.
type Reconciler struct {
	mu sync.Mutex

	items map[string]*LiveItem
	// Tokens of notes the wall placed ahead of the store (hand-off placeholders
	// and local submissions). A snapshot row with a matching token confirms the
	// placeholder in place instead of spawning a duplicate.
	pendingTokens map[string]struct{}
	loaded        bool

	alloc    *slots.Allocator
	poolSize int
	log      *zap.SugaredLogger
}

func NewReconciler(alloc *slots.Allocator) *Reconciler {
	return &Reconciler{
		items:         make(map[string]*LiveItem),
		pendingTokens: make(map[string]struct{}),
		alloc:         alloc,
		poolSize:      alloc.PoolSize(),
		log:           logger.For(logger.ComponentWall),
	}
}

// Reconcile folds a history snapshot (newest first) into the current wall.
// The first snapshot fills the wall up to the pool size; later snapshots only
// confirm placeholders and append unknown notes while slots remain. It returns
// the keys of notes folded in as entering-left, for the caller to animate.
func (r *Reconciler) Reconcile(snapshot []models.Note) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range snapshot {
		if n.Token == "" {
			continue
		}
		if _, pending := r.pendingTokens[n.Token]; !pending {
			continue
		}
		if item := r.byTokenLocked(n.Token); item != nil {
			// Keep slot and state, adopt the store's canonical payload.
			item.Note = n
		}
		delete(r.pendingTokens, n.Token)
	}

	if !r.loaded {
		r.loaded = true
		count := len(snapshot)
		if count > r.poolSize {
			count = r.poolSize
		}
		for i := 0; i < count; i++ {
			n := snapshot[i]
			r.items[n.Key()] = newLiveItem(n.Key(), n, i, StateVisible, r.log)
		}
		r.log.Infof("Wall loaded with %d notes", count)
		return nil
	}

	var foldedIn []string
	for _, n := range snapshot {
		key := n.Key()
		if _, exists := r.items[key]; exists {
			continue
		}
		if r.occupancyLocked() >= r.poolSize {
			break
		}
		idx, ok := r.nextFreeSlotLocked()
		if !ok {
			break
		}
		r.items[key] = newLiveItem(key, n, idx, StateEnteringLeft, r.log)
		foldedIn = append(foldedIn, key)
	}

	return foldedIn
}

// Loaded reports whether the first snapshot has been applied.
func (r *Reconciler) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// PickVisible returns a uniformly random visible note, for lending to the
// display.
func (r *Reconciler) PickVisible() (models.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var visible []*LiveItem
	for _, item := range r.items {
		if item.State() == StateVisible {
			visible = append(visible, item)
		}
	}
	if len(visible) == 0 {
		return models.Note{}, false
	}
	return visible[rand.Intn(len(visible))].Note, true
}

// ReservedKey returns the key of a note currently reserved for borrowing.
func (r *Reconciler) ReservedKey() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.items {
		if item.State() == StateReserved {
			return item.Key, true
		}
	}
	return "", false
}

// EvictOldestAndInsert makes room for an arriving pending note: if no slot is
// free, the oldest visible or reserved occupant (by play timestamp, never-dated
// notes last) moves to removing-top and the newcomer pre-claims its slot as
// absent. The caller removes the victim once its exit animation ends.
func (r *Reconciler) EvictOldestAndInsert(note models.Note) (victimKey string, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := note.Key()
	if _, exists := r.items[key]; exists {
		return "", false
	}

	r.pendingTokens[note.Token] = struct{}{}

	var victim *LiveItem
	if r.occupancyLocked() >= r.poolSize {
		victim = r.oldestEvictableLocked()
	}

	var slotIdx int
	if victim != nil {
		slotIdx = victim.SlotIndex
		if err := victim.setState(StateRemovingTop); err != nil {
			r.log.Warnf("Failed to evict %s: %s", victim.Key, err)
			victim = nil
		}
	}
	if victim == nil {
		idx, ok := r.nextFreeSlotLocked()
		if !ok {
			// Every slot is held, some by items still animating out. The
			// overlap with a removing-top occupant is brief and tolerated.
			idx = r.removingSlotLocked()
		}
		slotIdx = idx
	}

	r.items[key] = newLiveItem(key, note, slotIdx, StateAbsent, r.log)

	if victim != nil {
		return victim.Key, true
	}
	return "", false
}

// SetItemState drives the keyed occupant to the target state.
func (r *Reconciler) SetItemState(key string, target State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		return fmt.Errorf("no wall item %q", key)
	}
	return item.setState(target)
}

// ItemState reports the current state of the keyed occupant.
func (r *Reconciler) ItemState(key string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		return "", false
	}
	return item.State(), true
}

// RemoveItem drops the keyed occupant, freeing its slot.
func (r *Reconciler) RemoveItem(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

// Items returns a geometry-resolved snapshot of every occupant.
func (r *Reconciler) Items() []ItemView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]ItemView, 0, len(r.items))
	for _, item := range r.items {
		views = append(views, ItemView{
			Key:       item.Key,
			Note:      item.Note,
			SlotIndex: item.SlotIndex,
			State:     item.State(),
			Slot:      r.alloc.Slot(item.SlotIndex),
		})
	}
	return views
}

// Count returns the number of occupants, removing-top included.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Reconciler) byTokenLocked(token string) *LiveItem {
	for _, item := range r.items {
		if item.Note.Token == token {
			return item
		}
	}
	return nil
}

// occupancyLocked counts the occupants that hold a slot going forward, i.e.
// everything except items animating out.
func (r *Reconciler) occupancyLocked() int {
	count := 0
	for _, item := range r.items {
		if item.State() != StateRemovingTop {
			count++
		}
	}
	return count
}

func (r *Reconciler) nextFreeSlotLocked() (int, bool) {
	used := make(map[int]bool, len(r.items))
	for _, item := range r.items {
		used[item.SlotIndex] = true
	}
	for i := 0; i < r.poolSize; i++ {
		if !used[i] {
			return i, true
		}
	}
	return 0, false
}

func (r *Reconciler) removingSlotLocked() int {
	for _, item := range r.items {
		if item.State() == StateRemovingTop {
			return item.SlotIndex
		}
	}
	return 0
}

func (r *Reconciler) oldestEvictableLocked() *LiveItem {
	var oldest *LiveItem
	for _, item := range r.items {
		state := item.State()
		if state != StateVisible && state != StateReserved {
			continue
		}
		if oldest == nil || playedBefore(item.Note, oldest.Note) {
			oldest = item
		}
	}
	return oldest
}

// playedBefore orders notes by play timestamp ascending, with never-dated
// notes sorting last so they survive eviction the longest.
func playedBefore(a, b models.Note) bool {
	if a.PlayedAt.IsZero() {
		return false
	}
	if b.PlayedAt.IsZero() {
		return true
	}
	return a.PlayedAt.Before(b.PlayedAt)
}
