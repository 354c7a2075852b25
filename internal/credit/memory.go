package credit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

// MemoryStore keeps accounts in a process-local map. All mutations happen
// under one mutex so the check-then-mutate in Debit appears atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	cfg      *config.CreditConfig
	logger   *logrus.Logger
}

func NewMemoryStore(cfg *config.CreditConfig, logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		cfg:      cfg,
		logger:   logger,
	}
}

// getOrCreateLocked must be called with the mutex held.
func (s *MemoryStore) getOrCreateLocked(openID string) *Account {
	acct, ok := s.accounts[openID]
	if !ok {
		now := time.Now()
		acct = &Account{
			OpenID:       openID,
			Balance:      s.cfg.InitialGrant,
			FirstSeenAt:  now,
			LastActiveAt: now,
		}
		s.accounts[openID] = acct
		s.logger.WithFields(logrus.Fields{
			"open_id": openID,
			"grant":   s.cfg.InitialGrant,
		}).Info("Created account with free grant")
	}
	return acct
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, openID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAccount(s.getOrCreateLocked(openID)), nil
}

func (s *MemoryStore) Get(ctx context.Context, openID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[openID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (s *MemoryStore) Debit(ctx context.Context, openID string, amount int, note string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(openID)
	if acct.Balance < amount {
		return 0, ErrInsufficientCredits
	}

	now := time.Now()
	acct.Balance -= amount
	acct.TotalDebits += amount
	acct.LastActiveAt = now
	acct.History = trimHistory(append(acct.History, HistoryEntry{
		Amount: amount,
		Note:   note,
		At:     now,
	}), s.cfg.HistoryLimit)

	return acct.Balance, nil
}

func (s *MemoryStore) Credit(ctx context.Context, openID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(openID)
	acct.Balance += amount
	acct.LastActiveAt = time.Now()

	return acct.Balance, nil
}

func (s *MemoryStore) Accounts(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]*Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accounts = append(accounts, cloneAccount(acct))
	}
	return accounts, nil
}

// cloneAccount copies the account so callers never share the map's backing
// state outside the lock.
func cloneAccount(a *Account) *Account {
	c := *a
	c.History = append([]HistoryEntry(nil), a.History...)
	return &c
}
