package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hrsuite/approval-engine/types"
)

const (
	templatePrefix = "template:"
	draftPrefix    = "draft:"
	actionsPrefix  = "actions:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// The draft record tree lives under draft:<id>; the action history is a
// separate Redis list under actions:<id>, appended with RPUSH so persisted
// entries are never rewritten.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// draftRecord is the stored form of a snapshot minus its action history,
// which lives in its own list key.
type draftRecord struct {
	Draft     types.Draft      `json:"draft"`
	Route     *types.Route     `json:"route,omitempty"`
	Stages    []types.Stage    `json:"stages,omitempty"`
	Approvers []types.Approver `json:"approvers,omitempty"`
	Version   uint64           `json:"version"`
}

// SaveTemplate stores a route template in Redis.
func (s *RedisStorage) SaveTemplate(ctx context.Context, tpl types.RouteTemplate) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(tpl)
		if err != nil {
			return fmt.Errorf("failed to marshal template %d: %v", tpl.ID, err)
		}
		key := fmt.Sprintf("%s%d", templatePrefix, tpl.ID)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// GetTemplate retrieves a route template from Redis.
func (s *RedisStorage) GetTemplate(ctx context.Context, id uint64) (types.RouteTemplate, error) {
	return withContext(ctx, func() (types.RouteTemplate, error) {
		key := fmt.Sprintf("%s%d", templatePrefix, id)
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.RouteTemplate{}, fmt.Errorf("%w: key=%s", ErrTemplateNotFound, key)
		} else if err != nil {
			return types.RouteTemplate{}, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var tpl types.RouteTemplate
		if err := json.Unmarshal(data, &tpl); err != nil {
			return types.RouteTemplate{}, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return tpl, nil
	})
}

// CreateDraft stores the initial snapshot of a new draft.
func (s *RedisStorage) CreateDraft(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		record := draftRecord{
			Draft:     snap.Draft,
			Route:     snap.Route,
			Stages:    snap.Stages,
			Approvers: snap.Approvers,
			Version:   snap.Version,
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal draft %d: %v", snap.Draft.ID, err)
		}

		key := fmt.Sprintf("%s%d", draftPrefix, snap.Draft.ID)
		set, err := s.client.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		if !set {
			return fmt.Errorf("%w: draft %d already exists", ErrConflict, snap.Draft.ID)
		}

		actionsKey := fmt.Sprintf("%s%d", actionsPrefix, snap.Draft.ID)
		for _, a := range snap.Actions {
			entry, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to marshal action %d: %v", a.ID, err)
			}
			if err := s.client.RPush(ctx, actionsKey, entry).Err(); err != nil {
				return fmt.Errorf("failed to append to %s: %v", actionsKey, err)
			}
		}
		return nil
	})
}

// GetSnapshot retrieves the current snapshot of a draft from Redis.
func (s *RedisStorage) GetSnapshot(ctx context.Context, draftID uint64) (types.Snapshot, error) {
	return withContext(ctx, func() (types.Snapshot, error) {
		key := fmt.Sprintf("%s%d", draftPrefix, draftID)
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.Snapshot{}, fmt.Errorf("%w: key=%s", ErrDraftNotFound, key)
		} else if err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var record draftRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}

		actionsKey := fmt.Sprintf("%s%d", actionsPrefix, draftID)
		entries, err := s.client.LRange(ctx, actionsKey, 0, -1).Result()
		if err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to read %s: %v", actionsKey, err)
		}
		actions := make([]types.Action, 0, len(entries))
		for _, entry := range entries {
			var a types.Action
			if err := json.Unmarshal([]byte(entry), &a); err != nil {
				return types.Snapshot{}, fmt.Errorf("failed to unmarshal action in %s: %v", actionsKey, err)
			}
			actions = append(actions, a)
		}

		return types.Snapshot{
			Draft:     record.Draft,
			Route:     record.Route,
			Stages:    record.Stages,
			Approvers: record.Approvers,
			Actions:   actions,
			Version:   record.Version,
		}, nil
	})
}

// UpdateSnapshot commits a mutated snapshot using WATCH plus a version check,
// so concurrent writers to the same draft lose with ErrConflict instead of
// overwriting each other.
func (s *RedisStorage) UpdateSnapshot(ctx context.Context, snap types.Snapshot) error {
	key := fmt.Sprintf("%s%d", draftPrefix, snap.Draft.ID)
	actionsKey := fmt.Sprintf("%s%d", actionsPrefix, snap.Draft.ID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: key=%s", ErrDraftNotFound, key)
		} else if err != nil {
			return fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var current draftRecord
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		if current.Version != snap.Version {
			return fmt.Errorf("%w: draft %d read at version %d, stored version %d",
				ErrConflict, snap.Draft.ID, snap.Version, current.Version)
		}

		persisted, err := tx.LLen(ctx, actionsKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read length of %s: %v", actionsKey, err)
		}
		if int(persisted) > len(snap.Actions) {
			return fmt.Errorf("%w: draft %d action log ahead of snapshot", ErrConflict, snap.Draft.ID)
		}

		next := draftRecord{
			Draft:     snap.Draft,
			Route:     snap.Route,
			Stages:    snap.Stages,
			Approvers: snap.Approvers,
			Version:   snap.Version + 1,
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal draft %d: %v", snap.Draft.ID, err)
		}

		appended := make([][]byte, 0, len(snap.Actions)-int(persisted))
		for _, a := range snap.Actions[persisted:] {
			entry, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to marshal action %d: %v", a.ID, err)
			}
			appended = append(appended, entry)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for _, entry := range appended {
				pipe.RPush(ctx, actionsKey, entry)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: draft %d modified concurrently", ErrConflict, snap.Draft.ID)
	}
	return err
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
