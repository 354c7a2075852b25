package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// RedisQueue is a Redis-list backed queue. Pop moves the task into a
// processing hash so a crashed worker leaves a visible trace instead of
// losing the task silently.
type RedisQueue struct {
	client     *redis.Client
	name       string
	processing string
	logger     *logrus.Logger
}

func NewRedisQueue(cfg *config.Config, logger *logrus.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{
		client:     client,
		name:       cfg.Queue.Name,
		processing: cfg.Queue.Name + ":processing",
		logger:     logger,
	}, nil
}

func (q *RedisQueue) Push(ctx context.Context, task *models.PushTask) error {
	if task.ID == "" {
		task.ID = newTaskID()
		task.CreatedAt = time.Now()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*models.PushTask, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(result))
	}

	var task models.PushTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, err
	}

	if err := q.client.HSet(ctx, q.processing, task.ID, result[1]).Err(); err != nil {
		q.logger.WithError(err).Warn("Failed to track task in processing set")
	}

	return &task, nil
}

func (q *RedisQueue) Complete(ctx context.Context, task *models.PushTask) error {
	return q.client.HDel(ctx, q.processing, task.ID).Err()
}

func (q *RedisQueue) Retry(ctx context.Context, task *models.PushTask) error {
	task.Attempts++
	if err := q.client.HDel(ctx, q.processing, task.ID).Err(); err != nil {
		q.logger.WithError(err).Warn("Failed to remove task from processing set")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, data).Err()
}
