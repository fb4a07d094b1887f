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

package slots

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCount(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for _, n := range []int{1, 2, 5, 9, 20} {
		got := Compute(800, 600, n, rnd)
		assert.Len(t, got, n)
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	assert.Nil(t, Compute(0, 600, 9, rnd))
	assert.Nil(t, Compute(800, 0, 9, rnd))
	assert.Nil(t, Compute(800, 600, 0, rnd))
}

func TestComputeGeometryBounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	w, h, n := 1200.0, 900.0, 20

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	cellW := w / float64(cols)
	cellH := h / float64(rows)
	wantSize := math.Floor(math.Min(cellW, cellH) * FillRatio)

	for _, s := range Compute(w, h, n, rnd) {
		assert.Equal(t, wantSize, s.Size)
		assert.LessOrEqual(t, math.Abs(s.RotationDeg), MaxRotationDeg)
		// Center stays inside its cell even with full jitter, so it is
		// always inside the viewport.
		assert.GreaterOrEqual(t, s.CX, 0.0)
		assert.LessOrEqual(t, s.CX, w)
		assert.GreaterOrEqual(t, s.CY, 0.0)
		assert.LessOrEqual(t, s.CY, h)
	}
}

func TestAllocatorResizeKeepsIndices(t *testing.T) {
	alloc := NewAllocator(9, rand.New(rand.NewSource(7)))
	alloc.SetViewport(800, 600)

	before := alloc.Slots()
	require.Len(t, before, 9)

	alloc.SetViewport(1200, 900)

	after := alloc.Slots()
	require.Len(t, after, 9)

	// Index-addressability survives the resize, only geometry changed.
	for i := range after {
		assert.NotEqual(t, Slot{}, alloc.Slot(i))
	}
	assert.NotEqual(t, before[0].Size, 0.0)
	assert.Greater(t, after[0].Size, before[0].Size)
}

func TestAllocatorUnknownIndexIsSafe(t *testing.T) {
	alloc := NewAllocator(5, rand.New(rand.NewSource(7)))

	got := alloc.Slot(17)
	assert.Equal(t, 100.0, got.Size)
}
