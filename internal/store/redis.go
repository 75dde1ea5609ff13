package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/resume-tracker/internal/ledger"
)

// RedisStore is a Redis implementation of ledger.Store.
//
// Layout: a sorted set of link ids scored by insertion sequence, one hash per
// link and one list of JSON-encoded view events per link.
type RedisStore struct {
	client   *redis.Client
	indexKey string // "ledger:links" sorted set of ids
	seqKey   string // "ledger:seq" insertion counter
	prefix   string // "ledger:" for per-link keys
}

// NewRedisStore creates a new Redis-backed ledger store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		indexKey: "ledger:links",
		seqKey:   "ledger:seq",
		prefix:   "ledger:",
	}
}

func (r *RedisStore) linkKey(id ledger.LinkID) string {
	return r.prefix + "link:" + string(id)
}

func (r *RedisStore) eventsKey(id ledger.LinkID) string {
	return r.prefix + "events:" + string(id)
}

// Ping checks Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey, 0, -1).Result()
	if err != nil {
		return nil, ledger.StorageError("redis: read index", err)
	}

	pipe := r.client.Pipeline()
	fields := make([]*redis.MapStringStringCmd, len(ids))
	events := make([]*redis.StringSliceCmd, len(ids))

	for i, id := range ids {
		fields[i] = pipe.HGetAll(ctx, r.linkKey(ledger.LinkID(id)))
		events[i] = pipe.LRange(ctx, r.eventsKey(ledger.LinkID(id)), 0, -1)
	}

	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, ledger.StorageError("redis: read links", err)
		}
	}

	links := make([]ledger.TrackedLink, 0, len(ids))

	for i, id := range ids {
		link, err := decodeRedisLink(fields[i].Val(), events[i].Val())
		if err != nil {
			return nil, ledger.StorageError("redis: decode link "+id, err)
		}

		links = append(links, link)
	}

	return &ledger.Snapshot{Links: links}, nil
}

func (r *RedisStore) Save(ctx context.Context, _ *ledger.Snapshot, change ledger.Change) error {
	var err error

	switch change.Kind {
	case ledger.ChangeCreated:
		err = r.create(ctx, change.Link)
	case ledger.ChangeViewed:
		err = r.view(ctx, change.Link, change.Event)
	case ledger.ChangeDeleted:
		err = r.remove(ctx, change.LinkID)
	case ledger.ChangeWiped:
		err = r.wipe(ctx)
	default:
		err = fmt.Errorf("unknown change kind %q", change.Kind)
	}

	if err != nil {
		return ledger.StorageError("redis: apply "+string(change.Kind), err)
	}

	return nil
}

// create writes the hash and the index entry in one transaction. The index is
// scored by a counter so links read back in the order they were created.
func (r *RedisStore) create(ctx context.Context, link *ledger.TrackedLink) error {
	key := r.linkKey(link.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if exists != 0 {
			return fmt.Errorf("link %q already exists", link.ID)
		}

		seq, err := tx.Incr(ctx, r.seqKey).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				"id":           string(link.ID),
				"artifact_ref": link.ArtifactRef,
				"display_name": link.DisplayName,
				"created_at":   link.CreatedAt.Format(time.RFC3339Nano),
				"view_count":   0,
			})
			pipe.ZAdd(ctx, r.indexKey, redis.Z{
				Score:  float64(seq),
				Member: string(link.ID),
			})

			return nil
		})

		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return errConcurrentUpdate
	}

	return err
}

// view appends the event only if the stored count still matches the count the change was based on.
func (r *RedisStore) view(ctx context.Context, link *ledger.TrackedLink, event *ledger.ViewEvent) error {
	key := r.linkKey(link.ID)

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		count, err := tx.HGet(ctx, key, "view_count").Int()
		if err != nil {
			return err
		}

		if count != link.ViewCount-1 {
			return errConcurrentUpdate
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"view_count", link.ViewCount,
				"last_viewed_at", event.Timestamp.Format(time.RFC3339Nano),
			)
			pipe.RPush(ctx, r.eventsKey(link.ID), payload)

			return nil
		})

		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return errConcurrentUpdate
	}

	return err
}

func (r *RedisStore) remove(ctx context.Context, id ledger.LinkID) error {
	var removed *redis.IntCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.linkKey(id), r.eventsKey(id))
		removed = pipe.ZRem(ctx, r.indexKey, string(id))

		return nil
	})
	if err != nil {
		return err
	}

	if removed.Val() != 1 {
		return errConcurrentUpdate
	}

	return nil
}

func (r *RedisStore) wipe(ctx context.Context) error {
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		ids, err := tx.ZRange(ctx, r.indexKey, 0, -1).Result()
		if err != nil {
			return err
		}

		keys := make([]string, 0, 2*len(ids)+1)
		for _, id := range ids {
			keys = append(keys, r.linkKey(ledger.LinkID(id)), r.eventsKey(ledger.LinkID(id)))
		}

		keys = append(keys, r.indexKey)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)

			return nil
		})

		return err
	}, r.indexKey)
}

func decodeRedisLink(fields map[string]string, rawEvents []string) (ledger.TrackedLink, error) {
	var link ledger.TrackedLink

	if len(fields) == 0 {
		return link, errors.New("link hash is missing")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return link, fmt.Errorf("created_at: %w", err)
	}

	count, err := strconv.Atoi(fields["view_count"])
	if err != nil {
		return link, fmt.Errorf("view_count: %w", err)
	}

	link = ledger.TrackedLink{
		ID:          ledger.LinkID(fields["id"]),
		ArtifactRef: fields["artifact_ref"],
		DisplayName: fields["display_name"],
		CreatedAt:   createdAt.UTC(),
		ViewCount:   count,
		Events:      make([]ledger.ViewEvent, 0, len(rawEvents)),
	}

	if raw, ok := fields["last_viewed_at"]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return link, fmt.Errorf("last_viewed_at: %w", err)
		}

		ts = ts.UTC()
		link.LastViewedAt = &ts
	}

	for _, raw := range rawEvents {
		var event ledger.ViewEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return link, fmt.Errorf("event: %w", err)
		}

		event.Timestamp = event.Timestamp.UTC()
		link.Events = append(link.Events, event)
	}

	return link, nil
}
