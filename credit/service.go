package credit

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/draftmesh/core"
)

type account struct {
	balance int
	tier    string
}

// LedgerEntry is one booking of the in-memory service.
type LedgerEntry struct {
	UserID    string
	SessionID string
	Amount    int
	Balance   int
}

// InMemoryService is a process local core.CreditService. Unknown users are
// opened lazily on the configured default tier.
type InMemoryService struct {
	mu             sync.Mutex
	accounts       map[string]*account
	ledger         []LedgerEntry
	defaultTier    string
	defaultBalance int
	estimator      *Estimator
}

var _ core.CreditService = (*InMemoryService)(nil)

// NewInMemoryService creates a service opening new accounts on defaultTier.
func NewInMemoryService(defaultTier string, estimator *Estimator) *InMemoryService {
	if defaultTier == "" {
		defaultTier = DefaultTier
	}

	if estimator == nil {
		estimator = NewEstimator(nil, true)
	}

	return &InMemoryService{
		accounts:    make(map[string]*account),
		defaultTier: defaultTier,
		estimator:   estimator,
	}
}

func (s *InMemoryService) accountLocked(userID string) *account {
	a, ok := s.accounts[userID]
	if !ok {
		balance := s.defaultBalance
		if balance <= 0 {
			balance = CreditsForTier(s.defaultTier)
		}

		a = &account{balance: balance, tier: s.defaultTier}
		s.accounts[userID] = a
	}

	return a
}

// SetDefaultBalance overrides the tier allocation of accounts opened later.
func (s *InMemoryService) SetDefaultBalance(balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultBalance = balance
}

// SetBalance overwrites a user's balance and tier.
func (s *InMemoryService) SetBalance(userID string, balance int, tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tier == "" {
		tier = s.defaultTier
	}

	s.accounts[userID] = &account{balance: balance, tier: tier}
}

// Grant adds credits to a user's balance.
func (s *InMemoryService) Grant(userID string, amount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(userID)
	a.balance += amount

	return a.balance
}

// GetBalance implements core.CreditService.
func (s *InMemoryService) GetBalance(_ context.Context, userID string) (core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(userID)

	return core.Balance{Balance: a.balance, Tier: a.tier, TierCredits: CreditsForTier(a.tier)}, nil
}

// Estimate implements core.CreditService.
func (s *InMemoryService) Estimate(ctx context.Context, req core.EstimateRequest) (core.CreditEstimate, error) {
	est := s.estimator.Estimate(req.Agents, req.MaxRounds, req.DocumentWordCount)

	bal, err := s.GetBalance(ctx, req.UserID)
	if err != nil {
		return core.CreditEstimate{}, err
	}

	return WithBalance(est, bal.Balance), nil
}

// Charge implements core.CreditService.
func (s *InMemoryService) Charge(_ context.Context, userID string, amount int, sessionID string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("charge amount must not be negative: %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(userID)
	if amount > a.balance {
		return a.balance, fmt.Errorf("%w: charge %d exceeds balance %d", core.ErrInsufficientCredits, amount, a.balance)
	}

	a.balance -= amount
	s.ledger = append(s.ledger, LedgerEntry{UserID: userID, SessionID: sessionID, Amount: amount, Balance: a.balance})

	return a.balance, nil
}

// Ledger returns a copy of all bookings.
func (s *InMemoryService) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]LedgerEntry(nil), s.ledger...)
}
