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

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/splashdigilab/willMusic/pkg/models"
)

func playedNote(token, content string, playedAt time.Time) models.Note {
	return models.Note{
		ID:       token,
		Content:  content,
		Token:    token,
		Status:   models.StatusPlayed,
		PlayedAt: playedAt,
	}
}

func TestDeduplicateByContentDropsCloseDuplicates(t *testing.T) {
	at := time.UnixMilli(1_000_000_000)

	items := []models.Note{
		playedNote("a", "same words", at.Add(5*time.Second)),
		playedNote("b", "same words", at), // 5s apart: duplicate
		playedNote("c", "different", at),
	}

	got := DeduplicateByContent(items)

	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Token)
	assert.Equal(t, "c", got[1].Token)
}

func TestDeduplicateByContentKeepsDistantRepeats(t *testing.T) {
	at := time.UnixMilli(1_000_000_000)

	// Same content played a minute apart is a genuine resubmission.
	items := []models.Note{
		playedNote("a", "same words", at.Add(time.Minute)),
		playedNote("b", "same words", at),
	}

	got := DeduplicateByContent(items)
	assert.Len(t, got, 2)
}

func TestDeduplicateByContentDifferentStyle(t *testing.T) {
	at := time.UnixMilli(1_000_000_000)

	a := playedNote("a", "same words", at)
	b := playedNote("b", "same words", at)
	b.Style.BackgroundColor = "#FF9CEE"

	got := DeduplicateByContent([]models.Note{a, b})
	assert.Len(t, got, 2, "different decoration is a different note")
}
