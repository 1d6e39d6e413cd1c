// Package referral implements referral attribution and the ranked
// leaderboard view on top of the ledger.
package referral

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"tg_rewards_bot/internal/domain"
	"tg_rewards_bot/internal/ledger"
	"tg_rewards_bot/internal/logging"
)

// Engine mutates two accounts per successful attribution and computes
// leaderboard reads. Attribution is atomic: a concurrent snapshot either sees
// the whole referral applied or none of it.
type Engine struct {
	ledger *ledger.Ledger
	logger *logrus.Entry
}

// NewEngine constructs an Engine over the given ledger.
func NewEngine(l *ledger.Ledger, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Engine{
		ledger: l,
		logger: logger,
	}
}

// Result reports the outcome of an attribution attempt. Notice is non-nil
// only when the outcome is ReferralAttributed.
type Result struct {
	Outcome domain.ReferralOutcome
	Notice  *domain.ReferralNotice
}

// Attribute links newUserID to referrerID and pays out both bonuses.
// Preconditions are checked in order and short-circuit without touching any
// account: self-referral, unknown referrer, and already-referred are normal
// skipped outcomes rather than errors. The new user's account must already
// exist; callers register it first.
func (e *Engine) Attribute(newUserID, referrerID string) (Result, error) {
	var res Result

	err := e.ledger.Update(func(tx *ledger.Tx) error {
		newAcct, ok := tx.Account(newUserID)
		if !ok {
			return fmt.Errorf("attribute referral for %s: %w", newUserID, domain.ErrAccountNotFound)
		}

		if referrerID == newUserID {
			res.Outcome = domain.ReferralSkippedSelf
			return nil
		}

		refAcct, ok := tx.Account(referrerID)
		if !ok {
			res.Outcome = domain.ReferralSkippedUnknownReferrer
			return nil
		}

		if newAcct.ReferredBy != "" {
			res.Outcome = domain.ReferralSkippedAlreadyReferred
			return nil
		}

		newAcct.ReferredBy = referrerID
		if err := tx.CreditRaw(newUserID, domain.ReferredBonus); err != nil {
			return err
		}

		refAcct.ReferralCount++
		if err := tx.CreditRaw(referrerID, domain.ReferrerBonus); err != nil {
			return err
		}

		res.Outcome = domain.ReferralAttributed
		res.Notice = &domain.ReferralNotice{
			ReferrerID:  referrerID,
			NewUserID:   newUserID,
			NewUserName: newAcct.DisplayName,
			Bonus:       domain.ReferrerBonus,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Outcome == domain.ReferralAttributed {
		e.logger.WithFields(logging.Fields{
			"event":       "referral_attributed",
			"user_id":     newUserID,
			"referrer_id": referrerID,
		}).Info("processed referral")
	} else {
		e.logger.WithFields(logging.Fields{
			"event":       "referral_skipped",
			"user_id":     newUserID,
			"referrer_id": referrerID,
			"outcome":     res.Outcome,
		}).Debug("skipped referral")
	}

	return res, nil
}

// TopRanked computes the leaderboard over the current ledger snapshot:
// accounts with at least the minimum referral count, sorted by coins
// descending, then referrals descending, then join date ascending, truncated
// to limit. A non-positive limit falls back to the default leaderboard size.
func (e *Engine) TopRanked(limit int) []domain.LeaderboardEntry {
	if limit <= 0 {
		limit = domain.LeaderboardLimit
	}

	ranked := make([]domain.Account, 0)
	for _, acct := range e.ledger.Snapshot() {
		if acct.ReferralCount >= domain.LeaderboardMinReferrals {
			ranked = append(ranked, acct)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CoinBalance != b.CoinBalance {
			return a.CoinBalance > b.CoinBalance
		}
		if a.ReferralCount != b.ReferralCount {
			return a.ReferralCount > b.ReferralCount
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ranked))
	for _, acct := range ranked {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:    acct.UserID,
			Username:  acct.DisplayName,
			Coins:     acct.CoinBalance,
			Referrals: acct.ReferralCount,
			JoinDate:  acct.JoinedAt,
		})
	}

	return entries
}
