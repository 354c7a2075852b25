package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

const accountKeyPrefix = "account:"

// maxTxRetries bounds optimistic-lock retries when concurrent writers touch
// the same account key.
const maxTxRetries = 5

// RedisStore keeps accounts as JSON blobs in Redis. Mutations run inside
// WATCH transactions so a concurrent debit cannot pass the balance check
// against a stale value.
type RedisStore struct {
	client *redis.Client
	cfg    *config.CreditConfig
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

	return &RedisStore{
		client: client,
		cfg:    &cfg.Credit,
		logger: logger,
	}, nil
}

// Client exposes the underlying connection so other components (the task
// queue) can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func accountKey(openID string) string {
	return accountKeyPrefix + openID
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, openID string) (*Account, error) {
	data, err := c.Get(ctx, accountKey(openID)).Result()
	if err == redis.Nil {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	var acct Account
	if err := json.Unmarshal([]byte(data), &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *RedisStore) save(ctx context.Context, pipe redis.Pipeliner, acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	pipe.Set(ctx, accountKey(acct.OpenID), data, 0)
	return nil
}

// mutate runs fn against the current account state inside a WATCH
// transaction, creating the account first if needed. fn may return a domain
// error to abort with no write.
func (s *RedisStore) mutate(ctx context.Context, openID string, fn func(*Account) error) (*Account, error) {
	var result *Account

	txn := func(tx *redis.Tx) error {
		acct, err := s.load(ctx, tx, openID)
		if err == ErrAccountNotFound {
			now := time.Now()
			acct = &Account{
				OpenID:       openID,
				Balance:      s.cfg.InitialGrant,
				FirstSeenAt:  now,
				LastActiveAt: now,
			}
			s.logger.WithFields(logrus.Fields{
				"open_id": openID,
				"grant":   s.cfg.InitialGrant,
			}).Info("Created account with free grant")
		} else if err != nil {
			return err
		}

		if err := fn(acct); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.save(ctx, pipe, acct)
		})
		if err == nil {
			result = acct
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, accountKey(openID))
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("account %s: transaction contention, giving up", openID)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, openID string) (*Account, error) {
	return s.mutate(ctx, openID, func(*Account) error { return nil })
}

func (s *RedisStore) Get(ctx context.Context, openID string) (*Account, error) {
	return s.load(ctx, s.client, openID)
}

func (s *RedisStore) Debit(ctx context.Context, openID string, amount int, note string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct, err := s.mutate(ctx, openID, func(a *Account) error {
		if a.Balance < amount {
			return ErrInsufficientCredits
		}
		now := time.Now()
		a.Balance -= amount
		a.TotalDebits += amount
		a.LastActiveAt = now
		a.History = trimHistory(append(a.History, HistoryEntry{
			Amount: amount,
			Note:   note,
			At:     now,
		}), s.cfg.HistoryLimit)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *RedisStore) Credit(ctx context.Context, openID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct, err := s.mutate(ctx, openID, func(a *Account) error {
		a.Balance += amount
		a.LastActiveAt = time.Now()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *RedisStore) Accounts(ctx context.Context) ([]*Account, error) {
	var accounts []*Account

	iter := s.client.Scan(ctx, 0, accountKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var acct Account
		if err := json.Unmarshal([]byte(data), &acct); err != nil {
			s.logger.WithError(err).WithField("key", iter.Val()).Warn("Skipping corrupt account record")
			continue
		}
		accounts = append(accounts, &acct)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}
