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
	"sync"

	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/models"
)

// Renderer receives what the display screen should show. Implementations
// must not block: they run inside the slot cycle.
type Renderer interface {
	// Show presents the note full-screen.
	Show(note models.Note, source channel.Source)
	// Clear blanks the screen at the transition midpoint.
	Clear()
}

// LogRenderer writes the shown notes to the log. Used headless and in demos.
type LogRenderer struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	current *models.Note
}

func NewLogRenderer() *LogRenderer {
	return &LogRenderer{log: logger.For(logger.ComponentDisplay)}
}

func (r *LogRenderer) Show(note models.Note, source channel.Source) {
	r.mu.Lock()
	r.current = &note
	r.mu.Unlock()
	r.log.Infof("Showing %s note %s: %q", source, note.Key(), note.Content)
}

func (r *LogRenderer) Clear() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Current returns the note on screen, if any.
func (r *LogRenderer) Current() *models.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	n := *r.current
	return &n
}
