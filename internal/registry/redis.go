package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/podushkina/watermarkd/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	taskPrefix       = "watermarkd:task:"
	maxUpdateRetries = 16
)

// Redis stores each task as a JSON value under its own key. Keys expire
// after ttl, and every update refreshes the expiry, so redis itself
// enforces the retention window even when no sweep runs.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Insert(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	ok, err := r.client.SetNX(ctx, taskPrefix+t.ID, data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.client.Get(ctx, taskPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

func (r *Redis) Update(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error) {
	key := taskPrefix + id

	for i := 0; i < maxUpdateRetries; i++ {
		var updated *task.Task

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return fmt.Errorf("get task: %w", err)
			}

			var t task.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("unmarshal task: %w", err)
			}
			if err := fn(&t); err != nil {
				return err
			}

			out, err := json.Marshal(&t)
			if err != nil {
				return fmt.Errorf("marshal task: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, r.ttl)
				return nil
			})
			if err != nil {
				return err
			}

			updated = &t
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("update task %s: too many concurrent modifications", id)
}

func (r *Redis) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}

			var t task.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			if !t.UpdatedAt.Before(cutoff) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)

		// A concurrent update means the task is fresh again.
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return removed, fmt.Errorf("evict %s: %w", key, err)
		}
	}

	return removed, nil
}

func (r *Redis) List(ctx context.Context) ([]*task.Task, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return []*task.Task{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}

	tasks := make([]*task.Task, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}

		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (r *Redis) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, taskPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return keys, nil
}
