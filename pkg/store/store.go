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

// Package store is the durable document store shared by every screen and
// kiosk: pending queue, play history and one-time submission tokens. All
// contended writes go through atomic move-or-noop transactions; it is the
// only lock-like discipline in the system.
package store

import (
	"context"
	"errors"

	"github.com/splashdigilab/willMusic/pkg/models"
)

var (
	// ErrTokenInvalid: the submission token does not exist.
	ErrTokenInvalid = errors.New("token does not exist")
	// ErrTokenConsumed: the token was already used.
	ErrTokenConsumed = errors.New("token already used")
	// ErrAlreadySubmitted: a note for this token already exists.
	ErrAlreadySubmitted = errors.New("note already submitted for this token")
	// ErrStoreUnavailable wraps transport or permission failures. Callers
	// surface these; the store never silently retries on its own.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// PendingCallback receives the full pending snapshot, ordered by submission
// time ascending, on every observed change.
type PendingCallback func(items []models.Note)

// HistoryCallback receives the newest N history notes, newest first,
// deduplicated by token, on every observed change.
type HistoryCallback func(items []models.Note)

// HistoryPage is one page of the archive, newest first. An empty Cursor
// means the archive is exhausted.
type HistoryPage struct {
	Items  []models.Note
	Cursor string
}

// Store is the remote queue store contract consumed by both screens and the
// submission API.
type Store interface {
	// CreateNote atomically creates a pending note and consumes the token.
	// Fails with ErrTokenInvalid, ErrTokenConsumed or ErrAlreadySubmitted;
	// the returned id equals the token in the current design.
	CreateNote(ctx context.Context, form models.CreateNoteForm, token string) (string, error)

	// SubscribePending pushes pending snapshots until unsubscribed.
	SubscribePending(cb PendingCallback) (unsubscribe func())

	// SubscribeHistory pushes the latest pageSize history notes until
	// unsubscribed.
	SubscribeHistory(pageSize int, cb HistoryCallback) (unsubscribe func())

	// GetHistoryPage reads one archive page. Pass an empty cursor for the
	// first page.
	GetHistoryPage(ctx context.Context, pageSize int, cursor string) (HistoryPage, error)

	// MoveToHistory atomically retires a pending note. It is idempotent: if
	// the pending record is already gone the call is a silent no-op, and an
	// existing history record for the same token is never double-written.
	MoveToHistory(ctx context.Context, note models.Note) error

	// ValidateToken reports whether the token exists and is still unused.
	ValidateToken(ctx context.Context, token string) (bool, error)

	// CreateToken mints a new unused submission token.
	CreateToken(ctx context.Context) (string, error)

	Close() error
}
