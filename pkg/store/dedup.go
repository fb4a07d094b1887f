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
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/splashdigilab/willMusic/pkg/models"
)

// DuplicateWindow is how close two plays of identical content must be to
// count as the same submission written twice by a pre-transactional client.
const DuplicateWindow = 10 * time.Second

// contentSignature folds the visible identity of a note. Two notes with the
// same signature look pixel-identical on the wall.
func contentSignature(n models.Note) string {
	stickers, _ := json.Marshal(n.Style.Stickers)

	return fmt.Sprintf("%s|%s|%s|%s|%s",
		n.Content, n.Style.BackgroundColor, n.Style.Pattern, stickers, n.Style.Drawing)
}

// DeduplicateByContent drops notes whose content matches an earlier note in
// the list played within DuplicateWindow. Input is newest-first; the first
// occurrence wins. This self-heals duplicates left behind by older
// non-atomic write paths.
func DeduplicateByContent(items []models.Note) []models.Note {
	lastPlayed := make(map[string]int64, len(items))
	out := make([]models.Note, 0, len(items))

	for _, item := range items {
		sig := contentSignature(item)
		playedAt := item.PlayedAt.UnixMilli()
		if !item.Played() {
			playedAt = 0
		}

		if last, ok := lastPlayed[sig]; ok {
			delta := playedAt - last
			if delta < 0 {
				delta = -delta
			}
			if delta < DuplicateWindow.Milliseconds() {
				continue
			}
		}

		lastPlayed[sig] = playedAt
		out = append(out, item)
	}

	return out
}
