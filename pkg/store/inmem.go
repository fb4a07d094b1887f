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
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splashdigilab/willMusic/pkg/models"
)

// MemoryStore implements Store in process memory. It backs tests and the
// single-machine demo mode; snapshot callbacks fire synchronously on the
// mutating goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  map[string]models.Token
	pending map[string]models.Note // doc id -> waiting note
	history map[string]models.Note // doc id -> played note

	pendingSubs map[int]PendingCallback
	historySubs map[int]historySub
	nextSub     int

	// now is injectable so tests control play timestamps.
	now func() time.Time
}

type historySub struct {
	pageSize int
	cb       HistoryCallback
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:      make(map[string]models.Token),
		pending:     make(map[string]models.Note),
		history:     make(map[string]models.Note),
		pendingSubs: make(map[int]PendingCallback),
		historySubs: make(map[int]historySub),
		now:         time.Now,
	}
}

// SetClock replaces the store clock, for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreateNote(_ context.Context, form models.CreateNoteForm, token string) (string, error) {
	m.mu.Lock()

	tok, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()

		return "", ErrTokenInvalid
	}
	if tok.Status != models.TokenUnused {
		m.mu.Unlock()

		return "", ErrTokenConsumed
	}
	if _, exists := m.pending[token]; exists {
		m.mu.Unlock()

		return "", ErrAlreadySubmitted
	}
	if _, exists := m.history[token]; exists {
		m.mu.Unlock()

		return "", ErrAlreadySubmitted
	}

	tok.Status = models.TokenUsed
	m.tokens[token] = tok
	m.pending[token] = models.Note{
		ID:          token,
		Content:     form.Content,
		Style:       form.Style,
		Token:       token,
		SubmittedAt: m.now(),
		Status:      models.StatusWaiting,
	}

	pendingCbs, snapshot := m.pendingNotifyLocked()
	m.mu.Unlock()

	for _, cb := range pendingCbs {
		cb(snapshot)
	}

	return token, nil
}

func (m *MemoryStore) MoveToHistory(_ context.Context, note models.Note) error {
	id := note.Key()

	m.mu.Lock()

	current, exists := m.pending[id]
	if !exists {
		// Already moved by a concurrent caller: silent no-op.
		m.mu.Unlock()

		return nil
	}

	delete(m.pending, id)
	if _, dup := m.history[id]; !dup {
		m.history[id] = current.AsPlayed(m.now())
	}

	// Self-healing: delete orphaned duplicates written under a different
	// doc id by older clients.
	for docID, h := range m.history {
		if docID != id && h.Token == current.Token {
			delete(m.history, docID)
		}
	}

	pendingCbs, pendingSnap := m.pendingNotifyLocked()
	historyCbs := make([]func(), 0, len(m.historySubs))
	for _, sub := range m.historySubs {
		sub := sub
		snap := m.historySnapshotLocked(sub.pageSize)
		historyCbs = append(historyCbs, func() { sub.cb(snap) })
	}
	m.mu.Unlock()

	for _, cb := range pendingCbs {
		cb(pendingSnap)
	}
	for _, cb := range historyCbs {
		cb()
	}

	return nil
}

func (m *MemoryStore) SubscribePending(cb PendingCallback) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.pendingSubs[id] = cb
	snapshot := m.pendingSnapshotLocked()
	m.mu.Unlock()

	// Initial snapshot, like a live query's first result set.
	cb(snapshot)

	return func() {
		m.mu.Lock()
		delete(m.pendingSubs, id)
		m.mu.Unlock()
	}
}

func (m *MemoryStore) SubscribeHistory(pageSize int, cb HistoryCallback) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.historySubs[id] = historySub{pageSize: pageSize, cb: cb}
	snapshot := m.historySnapshotLocked(pageSize)
	m.mu.Unlock()

	cb(snapshot)

	return func() {
		m.mu.Lock()
		delete(m.historySubs, id)
		m.mu.Unlock()
	}
}

func (m *MemoryStore) GetHistoryPage(_ context.Context, pageSize int, cursor string) (HistoryPage, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return HistoryPage{}, ErrStoreUnavailable
		}
		offset = parsed
	}

	m.mu.Lock()
	all := m.historySnapshotLocked(0)
	m.mu.Unlock()

	if offset >= len(all) {
		return HistoryPage{}, nil
	}

	end := offset + pageSize
	next := strconv.Itoa(end)
	if end >= len(all) {
		end = len(all)
		next = ""
	}

	return HistoryPage{Items: all[offset:end], Cursor: next}, nil
}

func (m *MemoryStore) ValidateToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[token]

	return ok && tok.Status == models.TokenUnused, nil
}

func (m *MemoryStore) CreateToken(_ context.Context) (string, error) {
	id := uuid.NewString()

	m.mu.Lock()
	m.tokens[id] = models.Token{ID: id, Status: models.TokenUnused, CreatedAt: m.now()}
	m.mu.Unlock()

	return id, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pendingSubs = make(map[int]PendingCallback)
	m.historySubs = make(map[int]historySub)

	return nil
}

// HistoryLen reports the number of history documents, including any
// duplicates not yet healed.
func (m *MemoryStore) HistoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.history)
}

// putHistoryDoc writes a history document under an arbitrary doc id,
// emulating the pre-transactional write path. Test seam.
func (m *MemoryStore) putHistoryDoc(docID string, note models.Note) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[docID] = note
}

func (m *MemoryStore) pendingSnapshotLocked() []models.Note {
	out := make([]models.Note, 0, len(m.pending))
	for _, n := range m.pending {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})

	return out
}

func (m *MemoryStore) historySnapshotLocked(pageSize int) []models.Note {
	all := make([]models.Note, 0, len(m.history))
	for docID, n := range m.history {
		n.ID = docID
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].PlayedAt.After(all[j].PlayedAt)
	})

	// Dedup by token: the canonical (newest) record wins.
	seen := make(map[string]struct{}, len(all))
	deduped := all[:0]
	for _, n := range all {
		if _, ok := seen[n.Token]; ok {
			continue
		}
		seen[n.Token] = struct{}{}
		deduped = append(deduped, n)
	}

	deduped = DeduplicateByContent(deduped)
	if pageSize > 0 && len(deduped) > pageSize {
		deduped = deduped[:pageSize]
	}

	return deduped
}

func (m *MemoryStore) pendingNotifyLocked() ([]PendingCallback, []models.Note) {
	cbs := make([]PendingCallback, 0, len(m.pendingSubs))
	for _, cb := range m.pendingSubs {
		cbs = append(cbs, cb)
	}

	return cbs, m.pendingSnapshotLocked()
}
