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

package models

import (
	"time"
)

// WireNote is the channel form of a note. Timestamps are flattened to epoch
// milliseconds before send and reconstructed after receive, so the payload
// stays plain serializable data regardless of the store's timestamp type.
type WireNote struct {
	ID          string    `json:"id,omitempty"`
	Content     string    `json:"content"`
	Style       NoteStyle `json:"style"`
	Token       string    `json:"token"`
	TimestampMs int64     `json:"timestampMs"`
	Status      Status    `json:"status"`
	PlayedAtMs  *int64    `json:"playedAtMs,omitempty"`
}

// ToWire flattens the note for the cross-screen channel.
func (n Note) ToWire() WireNote {
	w := WireNote{
		ID:          n.ID,
		Content:     n.Content,
		Style:       n.Style,
		Token:       n.Token,
		TimestampMs: n.SubmittedAt.UnixMilli(),
		Status:      n.Status,
	}
	if n.Played() {
		ms := n.PlayedAt.UnixMilli()
		w.PlayedAtMs = &ms
	}

	return w
}

// ToNote reconstructs the note from its wire form. Millisecond precision is
// all the channel guarantees, which is enough for every ordering decision
// made on either screen.
func (w WireNote) ToNote() Note {
	n := Note{
		ID:          w.ID,
		Content:     w.Content,
		Style:       w.Style,
		Token:       w.Token,
		SubmittedAt: time.UnixMilli(w.TimestampMs),
		Status:      w.Status,
	}
	if w.Status == StatusPlayed && w.PlayedAtMs != nil {
		n.PlayedAt = time.UnixMilli(*w.PlayedAtMs)
	}

	return n
}
