package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

const orderKeyPrefix = "order:"

const maxTxRetries = 5

// RedisStore keeps orders as JSON blobs. The settle transition runs inside
// a WATCH transaction so duplicate notifications cannot both observe the
// pending state.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStore(cfg *config.Config, logger *logrus.Logger) (*RedisStore, error) {
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

	return &RedisStore{client: client, logger: logger}, nil
}

func orderKey(orderNo string) string {
	return orderKeyPrefix + orderNo
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, orderNo string) (*Order, error) {
	data, err := c.Get(ctx, orderKey(orderNo)).Result()
	if err == redis.Nil {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal([]byte(data), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *RedisStore) save(ctx context.Context, c redis.Cmdable, order *Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.Set(ctx, orderKey(order.OrderNo), data, 0).Err()
}

func (s *RedisStore) Create(ctx context.Context, openID, packageID string) (*Order, error) {
	pkg, err := LookupPackage(packageID)
	if err != nil {
		return nil, err
	}

	order := &Order{
		OrderNo:   newOrderNo(),
		OpenID:    openID,
		PackageID: pkg.ID,
		Amount:    pkg.Amount,
		Credits:   pkg.Credits,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if err := s.save(ctx, s.client, order); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_no": order.OrderNo,
		"open_id":  openID,
		"package":  pkg.ID,
		"amount":   pkg.Amount,
	}).Info("Order created")

	return order, nil
}

func (s *RedisStore) Get(ctx context.Context, orderNo string) (*Order, error) {
	return s.load(ctx, s.client, orderNo)
}

func (s *RedisStore) SetPayParams(ctx context.Context, orderNo, payParams string) error {
	txn := func(tx *redis.Tx) error {
		order, err := s.load(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		order.PayParams = payParams

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, err := json.Marshal(order)
			if err != nil {
				return err
			}
			pipe.Set(ctx, orderKey(orderNo), data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, orderKey(orderNo))
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("order %s: transaction contention, giving up", orderNo)
}

func (s *RedisStore) MarkSettled(ctx context.Context, orderNo string) (*Order, error) {
	var settled *Order

	txn := func(tx *redis.Tx) error {
		order, err := s.load(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		if order.Status == StatusSettled {
			return ErrAlreadySettled
		}

		order.Status = StatusSettled
		order.SettledAt = time.Now()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, err := json.Marshal(order)
			if err != nil {
				return err
			}
			pipe.Set(ctx, orderKey(orderNo), data, 0)
			return nil
		})
		if err == nil {
			settled = order
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, orderKey(orderNo))
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return settled, nil
	}
	return nil, fmt.Errorf("order %s: transaction contention, giving up", orderNo)
}
