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

// Package slots computes and tracks the fixed geometric placements on the
// live wall. A slot is pure geometry: note identity never lives here, items
// reference slots by index so the viewport can change under them.
package slots

import (
	"math"
	"math/rand"
	"sync"
)

const (
	// FillRatio is the share of a grid cell a note occupies.
	FillRatio = 0.78
	// MaxRotationDeg bounds the random tilt for the hand-scattered look.
	MaxRotationDeg = 10.0
)

// Slot is one placement: center, edge size and tilt, all in pixels/degrees.
type Slot struct {
	CX          float64 `json:"cx"`
	CY          float64 `json:"cy"`
	Size        float64 `json:"size"`
	RotationDeg float64 `json:"rotationDeg"`
}

// Compute arranges n slots in a near-square grid over a w x h viewport.
// Each slot gets independent jitter inside the leftover cell margin and a
// small random tilt, and the list is shuffled before handout so slot index
// does not correlate with screen position. Eviction order therefore never
// reads as "oldest first, reading order" on screen.
func Compute(w, h float64, n int, rnd *rand.Rand) []Slot {
	if n <= 0 || w <= 0 || h <= 0 {
		return nil
	}

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	if cols < 1 {
		cols = 1
	}
	rows := (n + cols - 1) / cols

	cellW := w / float64(cols)
	cellH := h / float64(rows)
	size := math.Floor(math.Min(cellW, cellH) * FillRatio)
	maxJX := math.Max(0, (cellW-size)/2)
	maxJY := math.Max(0, (cellH-size)/2)

	all := make([]Slot, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			all = append(all, Slot{
				CX:          (float64(c)+0.5)*cellW + (rnd.Float64()-0.5)*2*maxJX,
				CY:          (float64(r)+0.5)*cellH + (rnd.Float64()-0.5)*2*maxJY,
				Size:        size,
				RotationDeg: (rnd.Float64() - 0.5) * 2 * MaxRotationDeg,
			})
		}
	}

	rnd.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})

	return all[:n]
}

// Allocator owns the index-addressable slot list for one wall. Recomputing
// on viewport change only swaps geometry; indices held by live items stay
// valid.
type Allocator struct {
	mu       sync.RWMutex
	slots    []Slot
	poolSize int
	rnd      *rand.Rand
}

// NewAllocator creates an allocator for a fixed pool size.
func NewAllocator(poolSize int, rnd *rand.Rand) *Allocator {
	return &Allocator{
		poolSize: poolSize,
		rnd:      rnd,
	}
}

// PoolSize returns the fixed number of slots.
func (a *Allocator) PoolSize() int {
	return a.poolSize
}

// SetViewport recomputes all slot geometry for the new viewport.
func (a *Allocator) SetViewport(w, h float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slots = Compute(w, h, a.poolSize, a.rnd)
}

// Slot returns the geometry for a slot index. Unknown indices get a safe
// default so a render tick racing a resize never panics.
func (a *Allocator) Slot(index int) Slot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if index < 0 || index >= len(a.slots) {
		return Slot{Size: 100}
	}

	return a.slots[index]
}

// Slots returns a copy of the current slot list.
func (a *Allocator) Slots() []Slot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Slot, len(a.slots))
	copy(out, a.slots)

	return out
}
