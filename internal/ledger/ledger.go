// Package ledger owns the in-memory account store and the coin credit rules,
// including daily-cap enforcement.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tg_rewards_bot/internal/domain"
	"tg_rewards_bot/internal/logging"
)

// Ledger is the authoritative store of accounts. All mutations are serialized
// behind a single lock; readers take snapshots and never observe a
// half-applied multi-account update.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	logger   *logrus.Entry
}

// New constructs an empty Ledger.
func New(logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Ledger{
		accounts: make(map[string]*domain.Account),
		logger:   logger,
	}
}

// GetOrCreate returns the account for id, creating it when absent. Creation
// is idempotent: an existing account is returned unchanged and the supplied
// display name is ignored. The returned bool reports whether a new account
// was created.
func (l *Ledger) GetOrCreate(id, displayName string, now time.Time) (domain.Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[id]; ok {
		return *acct, false
	}

	if displayName == "" {
		displayName = domain.DefaultDisplayName
	}

	acct := &domain.Account{
		UserID:           id,
		DisplayName:      displayName,
		JoinedAt:         now,
		LastCoinCreditAt: now,
	}
	l.accounts[id] = acct

	l.logger.WithFields(logging.Fields{
		"event":        "account_registered",
		"user_id":      id,
		"display_name": displayName,
	}).Info("registered new account")

	return *acct, true
}

// CreditWithDailyCap credits up to requested coins to the account, limited by
// the remaining daily allowance. On the first credit of a new calendar day
// the daily counter resets to the full requested amount. Returns the amount
// actually granted, which may be zero.
func (l *Ledger) CreditWithDailyCap(id string, requested int64, now time.Time) (int64, error) {
	if requested < 0 {
		return 0, fmt.Errorf("credit %d to %s: %w", requested, id, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return 0, fmt.Errorf("credit to %s: %w", id, domain.ErrAccountNotFound)
	}

	granted := requested
	if sameCalendarDay(acct.LastCoinCreditAt, now) {
		remaining := domain.DailyCoinCap - acct.CoinsCreditedToday
		if remaining < 0 {
			remaining = 0
		}
		if granted > remaining {
			granted = remaining
		}
		acct.CoinsCreditedToday += granted
	} else {
		acct.CoinsCreditedToday = granted
	}

	if granted > 0 {
		acct.CoinBalance += granted
		acct.LastCoinCreditAt = now

		l.logger.WithFields(logging.Fields{
			"event":   "coins_credited",
			"user_id": id,
			"granted": granted,
			"balance": acct.CoinBalance,
		}).Info("credited coins")
	}

	return granted, nil
}

// CreditRaw unconditionally credits amount to the account, bypassing the
// daily cap. The daily counter still advances so later capped credits see
// reduced headroom.
func (l *Ledger) CreditRaw(id string, amount int64) error {
	return l.Update(func(tx *Tx) error {
		return tx.CreditRaw(id, amount)
	})
}

// Get returns a copy of the account for id.
func (l *Ledger) Get(id string) (domain.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[id]
	if !ok {
		return domain.Account{}, false
	}

	return *acct, true
}

// Len returns the number of accounts.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.accounts)
}

// Snapshot returns a copy of every account. The copy is consistent: no
// in-flight mutation is partially visible.
func (l *Ledger) Snapshot() []domain.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accounts := make([]domain.Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		accounts = append(accounts, *acct)
	}

	return accounts
}

// Restore replaces the ledger contents with the given accounts. Used once at
// startup to reload persisted state; not safe to call while operations are
// in flight with external visibility expectations.
func (l *Ledger) Restore(accounts []domain.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*domain.Account, len(accounts))
	for i := range accounts {
		acct := accounts[i]
		l.accounts[acct.UserID] = &acct
	}
}

// Tx provides access to accounts while the ledger lock is held.
type Tx struct {
	l *Ledger
}

// Account returns the live account for id. Mutations through the pointer are
// only legal for the duration of the enclosing Update call.
func (tx *Tx) Account(id string) (*domain.Account, bool) {
	acct, ok := tx.l.accounts[id]
	return acct, ok
}

// CreditRaw credits amount to the account without cap checks, advancing the
// daily counter alongside the balance. The last-credit timestamp is left
// untouched so bonus credits never shift the day-rollover detection.
func (tx *Tx) CreditRaw(id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit %d to %s: %w", amount, id, domain.ErrInvalidAmount)
	}

	acct, ok := tx.l.accounts[id]
	if !ok {
		return fmt.Errorf("credit to %s: %w", id, domain.ErrAccountNotFound)
	}

	acct.CoinBalance += amount
	acct.CoinsCreditedToday += amount
	return nil
}

// Update runs fn with exclusive access to the ledger. Everything fn does is
// applied atomically with respect to snapshots and concurrent operations.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return fn(&Tx{l: l})
}

// sameCalendarDay compares calendar dates in b's location. Stored timestamps
// decode as UTC after a restore while live credits carry the local zone, so
// both instants must be viewed in one zone before extracting the date.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
