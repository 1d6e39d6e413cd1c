package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tg_rewards_bot/internal/domain"
	"tg_rewards_bot/internal/logging"
)

type accountUpserter interface {
	Upsert(ctx context.Context, account domain.Account) error
}

type ledgerSnapshotter interface {
	Snapshot() []domain.Account
}

// Syncer periodically flushes ledger snapshots to the account repository so
// state survives restarts. Flush errors are logged and retried on the next
// tick; the in-memory ledger stays authoritative throughout.
type Syncer struct {
	repo     accountUpserter
	ledger   ledgerSnapshotter
	interval time.Duration
	logger   *logrus.Entry
}

// NewSyncer constructs a Syncer flushing at the given interval.
func NewSyncer(repo accountUpserter, ledger ledgerSnapshotter, interval time.Duration, logger *logrus.Entry) *Syncer {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Syncer{
		repo:     repo,
		ledger:   ledger,
		interval: interval,
		logger:   logger,
	}
}

const finalFlushTimeout = 10 * time.Second

// Run flushes on every interval tick until the context is canceled, then
// performs one final bounded flush so shutdown never drops recent state.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			s.Flush(flushCtx)
			cancel()
			s.logger.WithField("event", "syncer_stopped").Info("account syncer stopped")
			return
		}
	}
}

// Flush upserts every account in the current ledger snapshot. Individual
// failures are logged and do not abort the remaining accounts.
func (s *Syncer) Flush(ctx context.Context) {
	accounts := s.ledger.Snapshot()

	failed := 0
	for _, acct := range accounts {
		if err := s.repo.Upsert(ctx, acct); err != nil {
			failed++
			s.logger.WithFields(logging.Fields{
				"event":   "account_flush_error",
				"user_id": acct.UserID,
			}).WithError(err).Warn("failed to persist account")
		}
	}

	s.logger.WithFields(logging.Fields{
		"event":    "accounts_flushed",
		"accounts": len(accounts),
		"failed":   failed,
	}).Debug("flushed account snapshot")
}
