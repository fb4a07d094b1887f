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

// Package models holds the shared data model of the installation: visitor
// notes, their decoration payload, submission tokens and the wire form used
// on the cross-screen channel.
package models

import (
	"time"
)

// Status is the lifecycle status of a note.
type Status string

const (
	// StatusWaiting marks a note sitting in the pending queue.
	StatusWaiting Status = "waiting"
	// StatusPlayed marks a note that has been shown and moved to history.
	StatusPlayed Status = "played"
)

// TokenStatus is the lifecycle status of a submission token.
type TokenStatus string

const (
	TokenUnused TokenStatus = "unused"
	TokenUsed   TokenStatus = "used"
)

// StickerInstance is one sticker placed on a note by the editor.
type StickerInstance struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// NoteStyle is the decoration payload produced by the editor. The services
// never interpret it beyond carrying it through serialization; the fields
// exist so the payload survives round trips without loss.
type NoteStyle struct {
	BackgroundColor string            `json:"backgroundColor"`
	TextColor       string            `json:"textColor"`
	FontSize        int               `json:"fontSize"`
	FontFamily      string            `json:"fontFamily,omitempty"`
	Rotation        float64           `json:"rotation,omitempty"`
	Pattern         string            `json:"pattern,omitempty"`
	Stickers        []StickerInstance `json:"stickers,omitempty"`
	// Drawing is the serialized freehand drawing (path data), opaque here.
	Drawing string `json:"drawing,omitempty"`
}

// Note is one visitor submission. A pending note has a zero PlayedAt; the
// atomic move to history stamps PlayedAt and flips Status to played.
type Note struct {
	// ID is the stable document identifier. In the current store design it
	// equals Token, which makes duplicate submissions per token impossible
	// at the storage layer itself.
	ID          string    `json:"id,omitempty"`
	Content     string    `json:"content"`
	Style       NoteStyle `json:"style"`
	Token       string    `json:"token"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      Status    `json:"status"`
	PlayedAt    time.Time `json:"playedAt,omitempty"`
}

// Key returns the identity used for slot bookkeeping and wire messages:
// the document ID, falling back to the token for notes that have not been
// confirmed by the store yet.
func (n Note) Key() string {
	if n.ID != "" {
		return n.ID
	}

	return n.Token
}

// Played reports whether the note carries a confirmed play timestamp.
func (n Note) Played() bool {
	return !n.PlayedAt.IsZero()
}

// AsPlayed returns a copy of the note in played status. A zero playedAt is
// allowed and marks a placeholder awaiting server confirmation.
func (n Note) AsPlayed(playedAt time.Time) Note {
	n.Status = StatusPlayed
	n.PlayedAt = playedAt

	return n
}

// Token is a one-time submission ticket.
type Token struct {
	ID        string      `json:"id"`
	Status    TokenStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// CreateNoteForm is the submission payload accepted from the editor.
type CreateNoteForm struct {
	Content string    `json:"content" binding:"required"`
	Style   NoteStyle `json:"style"`
}
