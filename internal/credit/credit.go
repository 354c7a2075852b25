package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

var (
	// ErrInsufficientCredits is returned by Debit when the balance cannot
	// cover the requested amount. The balance is left untouched.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned for zero or negative debit/credit amounts.
	ErrInvalidAmount = errors.New("amount must be a positive integer")

	// ErrAccountNotFound is returned by read operations for accounts that
	// have never been created.
	ErrAccountNotFound = errors.New("account not found")
)

// HistoryEntry records a single metered chat turn.
type HistoryEntry struct {
	Amount int       `json:"amount"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Account holds the credit balance and usage counters for one WeChat user,
// keyed by their OpenID.
type Account struct {
	OpenID       string         `json:"open_id"`
	Balance      int            `json:"balance"`
	TotalDebits  int            `json:"total_debits"`
	FirstSeenAt  time.Time      `json:"first_seen_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// Store defines credit ledger operations. Implementations must make each
// call atomic with respect to concurrent callers: two debits may never both
// pass the balance check against a stale balance.
type Store interface {
	// GetOrCreate returns the account, creating it with the initial free
	// grant on first contact.
	GetOrCreate(ctx context.Context, openID string) (*Account, error)

	// Get returns the account or ErrAccountNotFound. Read-only.
	Get(ctx context.Context, openID string) (*Account, error)

	// Debit atomically checks balance >= amount and decrements it,
	// returning the new balance. ErrInsufficientCredits leaves the
	// account unchanged. Each successful debit appends a history entry,
	// trimmed to the most recent HistoryLimit entries.
	Debit(ctx context.Context, openID string, amount int, note string) (int, error)

	// Credit unconditionally increments the balance and returns the new
	// value. The account is created if it does not exist yet.
	Credit(ctx context.Context, openID string, amount int) (int, error)

	// Accounts returns all known accounts, for the admin endpoints.
	Accounts(ctx context.Context) ([]*Account, error)
}

// NewStore builds the configured backend
func NewStore(cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		return NewRedisStore(cfg, logger)
	case "memory":
		return NewMemoryStore(&cfg.Credit, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func trimHistory(h []HistoryEntry, limit int) []HistoryEntry {
	if limit > 0 && len(h) > limit {
		return h[len(h)-limit:]
	}
	return h
}
