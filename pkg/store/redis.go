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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/models"
)

const (
	defaultPrefix       = "willmusic"
	defaultPollInterval = 500 * time.Millisecond

	// selfHealScanDepth bounds how far into history the duplicate scan
	// reaches. Duplicates only ever appear near the head, written seconds
	// apart by racing displays.
	selfHealScanDepth = 200

	pageCacheExpiration = 10 * time.Second
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Client       *redis.Client
	Prefix       string
	PollInterval time.Duration
	Logger       *zap.SugaredLogger
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// RedisStore implements Store on a shared Redis instance. Documents are
// JSON blobs keyed by token; the pending and history queues are sorted sets
// scored by submit/play time, so "snapshot ordered by time" is a range read.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	poll   time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time

	// pageCache keeps archive pages hot for the infinite-scroll wall.
	pageCache *gocache.Cache

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisStore creates a store on the given client. The client is owned by
// the caller.
func NewRedisStore(opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RedisStore{
		rdb:       opts.Client,
		prefix:    opts.Prefix,
		poll:      opts.PollInterval,
		logger:    opts.Logger,
		now:       opts.Now,
		pageCache: gocache.New(pageCacheExpiration, 2*pageCacheExpiration),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RedisStore) tokenKey(id string) string { return r.prefix + ":token:" + id }
func (r *RedisStore) noteKey(id string) string  { return r.prefix + ":note:" + id }
func (r *RedisStore) pendingKey() string        { return r.prefix + ":queue:pending" }
func (r *RedisStore) historyKey() string        { return r.prefix + ":queue:history" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
}

// HealthCheck pings Redis, for the liveness/readiness endpoints.
func (r *RedisStore) HealthCheck() healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return r.rdb.Ping(ctx).Err()
	}
}

func (r *RedisStore) CreateNote(ctx context.Context, form models.CreateNoteForm, token string) (string, error) {
	note := models.Note{
		ID:          token,
		Content:     form.Content,
		Style:       form.Style,
		Token:       token,
		SubmittedAt: r.now(),
		Status:      models.StatusWaiting,
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return "", fmt.Errorf("marshaling note: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, r.tokenKey(token), "status").Result()
		if errors.Is(err, redis.Nil) {
			return ErrTokenInvalid
		}
		if err != nil {
			return unavailable(err)
		}
		if models.TokenStatus(status) != models.TokenUnused {
			return ErrTokenConsumed
		}

		exists, err := tx.Exists(ctx, r.noteKey(token)).Result()
		if err != nil {
			return unavailable(err)
		}
		if exists > 0 {
			return ErrAlreadySubmitted
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.tokenKey(token), "status", string(models.TokenUsed))
			pipe.Set(ctx, r.noteKey(token), raw, 0)
			pipe.ZAdd(ctx, r.pendingKey(), &redis.Z{
				Score:  float64(note.SubmittedAt.UnixMilli()),
				Member: token,
			})

			return nil
		})
		if err != nil {
			return unavailable(err)
		}

		return nil
	}

	err = r.rdb.Watch(ctx, txf, r.tokenKey(token), r.noteKey(token))
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent submission with the same token won the race.
		return "", ErrTokenConsumed
	}
	if err != nil {
		return "", err
	}

	return token, nil
}

func (r *RedisStore) MoveToHistory(ctx context.Context, note models.Note) error {
	id := note.Key()
	if id == "" {
		return fmt.Errorf("note has no id")
	}

	played := note.AsPlayed(r.now())
	played.ID = id

	txf := func(tx *redis.Tx) error {
		_, err := tx.ZScore(ctx, r.pendingKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			// Already moved by a concurrent display: silent no-op.
			return nil
		}
		if err != nil {
			return unavailable(err)
		}

		_, err = tx.ZScore(ctx, r.historyKey(), id).Result()
		historyExists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable(err)
		}

		raw, err := json.Marshal(played)
		if err != nil {
			return fmt.Errorf("marshaling note: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, r.pendingKey(), id)
			if !historyExists {
				pipe.Set(ctx, r.noteKey(id), raw, 0)
				pipe.ZAdd(ctx, r.historyKey(), &redis.Z{
					Score:  float64(played.PlayedAt.UnixMilli()),
					Member: id,
				})
			}

			return nil
		})
		if err != nil {
			return unavailable(err)
		}

		return nil
	}

	err := r.rdb.Watch(ctx, txf, r.pendingKey(), r.historyKey())
	if errors.Is(err, redis.TxFailedErr) {
		// The concurrent mover's write is authoritative; ours is a no-op.
		return nil
	}
	if err != nil {
		return err
	}

	r.pageCache.Flush()

	// Best-effort duplicate cleanup, never on the display's critical path.
	go r.selfHeal(note.Token)

	return nil
}

// selfHeal deletes orphaned history records written under a different doc
// id than their token by pre-transactional clients. Failures are logged
// only; this must never block or fail the display loop.
func (r *RedisStore) selfHeal(token string) {
	ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	defer cancel()

	members, err := r.rdb.ZRevRange(ctx, r.historyKey(), 0, selfHealScanDepth-1).Result()
	if err != nil {
		r.logger.Warnf("Self-heal scan failed: %s", err)

		return
	}

	for _, member := range members {
		if member == token {
			continue
		}

		raw, err := r.rdb.Get(ctx, r.noteKey(member)).Bytes()
		if err != nil {
			continue
		}

		var doc models.Note
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if doc.Token != token {
			continue
		}

		pipe := r.rdb.Pipeline()
		pipe.ZRem(ctx, r.historyKey(), member)
		pipe.Del(ctx, r.noteKey(member))
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warnf("Self-heal delete of duplicate %s failed: %s", member, err)

			continue
		}
		r.logger.Infof("Self-healed duplicate history record %s for token %s", member, token)
	}
}

func (r *RedisStore) SubscribePending(cb PendingCallback) func() {
	ctx, cancel := context.WithCancel(r.ctx)

	go r.pollLoop(ctx, func(ctx context.Context) ([]models.Note, error) {
		return r.fetchPending(ctx)
	}, func(items []models.Note) { cb(items) })

	return cancel
}

func (r *RedisStore) SubscribeHistory(pageSize int, cb HistoryCallback) func() {
	ctx, cancel := context.WithCancel(r.ctx)

	go r.pollLoop(ctx, func(ctx context.Context) ([]models.Note, error) {
		return r.fetchHistory(ctx, pageSize)
	}, func(items []models.Note) { cb(items) })

	return cancel
}

// pollLoop drives one subscription: fetch, push on change, back off on
// errors. Change detection compares the marshaled snapshot, which also
// catches in-place document edits.
func (r *RedisStore) pollLoop(ctx context.Context, fetch func(context.Context) ([]models.Note, error), push func([]models.Note)) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever, the installation outlives hiccups
	bo.MaxInterval = 10 * time.Second

	var last []byte
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		items, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			r.logger.Warnf("Snapshot fetch failed, retrying in %s: %s", wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			continue
		}
		bo.Reset()

		fingerprint, _ := json.Marshal(items)
		if first || string(fingerprint) != string(last) {
			first = false
			last = fingerprint
			push(items)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

func (r *RedisStore) fetchPending(ctx context.Context) ([]models.Note, error) {
	members, err := r.rdb.ZRange(ctx, r.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	return r.fetchDocs(ctx, members)
}

func (r *RedisStore) fetchHistory(ctx context.Context, pageSize int) ([]models.Note, error) {
	members, err := r.rdb.ZRevRange(ctx, r.historyKey(), 0, int64(pageSize)-1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	items, err := r.fetchDocs(ctx, members)
	if err != nil {
		return nil, err
	}

	return DeduplicateByContent(dedupByToken(items)), nil
}

// fetchDocs resolves sorted-set members to documents, preserving order and
// skipping members whose document vanished mid-read.
func (r *RedisStore) fetchDocs(ctx context.Context, members []string) ([]models.Note, error) {
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.noteKey(m)
	}

	raws, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]models.Note, 0, len(raws))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}

		var n models.Note
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			r.logger.Warnf("Skipping malformed note document %s: %s", members[i], err)

			continue
		}
		n.ID = members[i]
		out = append(out, n)
	}

	return out, nil
}

func dedupByToken(items []models.Note) []models.Note {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, n := range items {
		if _, ok := seen[n.Token]; ok {
			continue
		}
		seen[n.Token] = struct{}{}
		out = append(out, n)
	}

	return out
}

func (r *RedisStore) GetHistoryPage(ctx context.Context, pageSize int, cursor string) (HistoryPage, error) {
	cacheKey := strconv.Itoa(pageSize) + ":" + cursor
	if cached, ok := r.pageCache.Get(cacheKey); ok {
		return cached.(HistoryPage), nil
	}

	offset := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return HistoryPage{}, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		offset = parsed
	}

	total, err := r.rdb.ZCard(ctx, r.historyKey()).Result()
	if err != nil {
		return HistoryPage{}, unavailable(err)
	}

	members, err := r.rdb.ZRevRange(ctx, r.historyKey(), offset, offset+int64(pageSize)-1).Result()
	if err != nil {
		return HistoryPage{}, unavailable(err)
	}

	items, err := r.fetchDocs(ctx, members)
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Items: DeduplicateByContent(dedupByToken(items))}
	if offset+int64(pageSize) < total {
		page.Cursor = strconv.FormatInt(offset+int64(pageSize), 10)
	}

	r.pageCache.SetDefault(cacheKey, page)

	return page, nil
}

func (r *RedisStore) ValidateToken(ctx context.Context, token string) (bool, error) {
	status, err := r.rdb.HGet(ctx, r.tokenKey(token), "status").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}

	return models.TokenStatus(status) == models.TokenUnused, nil
}

func (r *RedisStore) CreateToken(ctx context.Context) (string, error) {
	id := uuid.NewString()

	err := r.rdb.HSet(ctx, r.tokenKey(id),
		"status", string(models.TokenUnused),
		"createdAtMs", r.now().UnixMilli(),
	).Err()
	if err != nil {
		return "", unavailable(err)
	}

	return id, nil
}

// Close stops every subscription poll loop.
func (r *RedisStore) Close() error {
	r.cancel()

	return nil
}
