package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_rewards_bot/internal/domain"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	hookLogger, _ := logtest.NewNullLogger()
	return New(logrus.NewEntry(hookLogger))
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	acct, created := l.GetOrCreate("u1", "alice", now)
	if !created {
		t.Fatalf("expected first call to create the account")
	}
	if acct.UserID != "u1" || acct.DisplayName != "alice" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if acct.CoinBalance != 0 || acct.ReferralCount != 0 || acct.CoinsCreditedToday != 0 {
		t.Fatalf("expected zeroed counters, got %+v", acct)
	}
	if !acct.JoinedAt.Equal(now) || !acct.LastCoinCreditAt.Equal(now) {
		t.Fatalf("expected timestamps fixed at creation, got %+v", acct)
	}
	if acct.ReferredBy != "" {
		t.Fatalf("expected no referrer on creation, got %q", acct.ReferredBy)
	}

	again, created := l.GetOrCreate("u1", "other-name", now.Add(time.Hour))
	if created {
		t.Fatalf("expected second call to be a no-op")
	}
	if again.DisplayName != "alice" {
		t.Fatalf("expected display name to be ignored on existing account, got %q", again.DisplayName)
	}
	if !again.JoinedAt.Equal(now) {
		t.Fatalf("expected joined timestamp unchanged, got %v", again.JoinedAt)
	}
	if l.Len() != 1 {
		t.Fatalf("expected a single account, got %d", l.Len())
	}
}

func TestGetOrCreateDefaultsDisplayName(t *testing.T) {
	l := newTestLedger(t)

	acct, _ := l.GetOrCreate("u1", "", time.Now())
	if acct.DisplayName != domain.DefaultDisplayName {
		t.Fatalf("expected default display name %q, got %q", domain.DefaultDisplayName, acct.DisplayName)
	}
}

func TestCreditWithDailyCapScenario(t *testing.T) {
	l := newTestLedger(t)
	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	l.GetOrCreate("u1", "alice", day1)

	granted, err := l.CreditWithDailyCap("u1", 40, day1.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 40 {
		t.Fatalf("expected 40 granted, got %d", granted)
	}

	granted, err = l.CreditWithDailyCap("u1", 80, day1.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 60 {
		t.Fatalf("expected cap to limit grant to 60, got %d", granted)
	}

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 100 {
		t.Fatalf("expected balance 100 at the cap, got %d", acct.CoinBalance)
	}
	if acct.CoinsCreditedToday != 100 {
		t.Fatalf("expected daily counter at 100, got %d", acct.CoinsCreditedToday)
	}

	granted, err = l.CreditWithDailyCap("u1", 25, day1.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 0 {
		t.Fatalf("expected no headroom left, got %d", granted)
	}

	day2 := day1.Add(24 * time.Hour)
	granted, err = l.CreditWithDailyCap("u1", 10, day2)
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 10 {
		t.Fatalf("expected full grant on a new day, got %d", granted)
	}

	acct, _ = l.Get("u1")
	if acct.CoinBalance != 110 {
		t.Fatalf("expected balance 110, got %d", acct.CoinBalance)
	}
	if acct.CoinsCreditedToday != 10 {
		t.Fatalf("expected daily counter reset to 10, got %d", acct.CoinsCreditedToday)
	}
	if !acct.LastCoinCreditAt.Equal(day2) {
		t.Fatalf("expected last credit timestamp to advance, got %v", acct.LastCoinCreditAt)
	}
}

func TestCreditNewDayResetsUncapped(t *testing.T) {
	l := newTestLedger(t)
	day1 := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)

	l.GetOrCreate("u1", "alice", day1)

	day2 := day1.Add(time.Hour)
	granted, err := l.CreditWithDailyCap("u1", 150, day2)
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 150 {
		t.Fatalf("expected new-day grant of the full 150, got %d", granted)
	}

	acct, _ := l.Get("u1")
	if acct.CoinsCreditedToday != 150 {
		t.Fatalf("expected daily counter set to the granted amount, got %d", acct.CoinsCreditedToday)
	}
}

func TestCreditZeroGrantsNothing(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	l.GetOrCreate("u1", "alice", now)

	granted, err := l.CreditWithDailyCap("u1", 0, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 0 {
		t.Fatalf("expected zero grant, got %d", granted)
	}

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 0 {
		t.Fatalf("expected balance untouched, got %d", acct.CoinBalance)
	}
	if !acct.LastCoinCreditAt.Equal(now) {
		t.Fatalf("expected last credit timestamp untouched on zero grant, got %v", acct.LastCoinCreditAt)
	}
}

func TestCreditNegativeIsRejected(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()

	l.GetOrCreate("u1", "alice", now)

	_, err := l.CreditWithDailyCap("u1", -5, now)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 0 || acct.CoinsCreditedToday != 0 {
		t.Fatalf("expected account untouched after rejected credit, got %+v", acct)
	}

	if err := l.CreditRaw("u1", -5); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount from raw credit, got %v", err)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.CreditWithDailyCap("ghost", 10, time.Now())
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if err := l.CreditRaw("ghost", 10); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound from raw credit, got %v", err)
	}
}

func TestCreditRawBypassesCapButCountsTowardIt(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	l.GetOrCreate("u1", "alice", now)

	if err := l.CreditRaw("u1", 150); err != nil {
		t.Fatalf("CreditRaw returned error: %v", err)
	}

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 150 {
		t.Fatalf("expected raw credit to bypass the cap, got balance %d", acct.CoinBalance)
	}
	if acct.CoinsCreditedToday != 150 {
		t.Fatalf("expected daily counter to advance, got %d", acct.CoinsCreditedToday)
	}
	if !acct.LastCoinCreditAt.Equal(now) {
		t.Fatalf("expected raw credit to leave the last credit timestamp, got %v", acct.LastCoinCreditAt)
	}

	granted, err := l.CreditWithDailyCap("u1", 30, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 0 {
		t.Fatalf("expected no headroom after raw credit, got %d", granted)
	}
}

func TestCreditAfterRestoreComparesDaysInOneZone(t *testing.T) {
	l := newTestLedger(t)
	zone := time.FixedZone("UTC-5", -5*60*60)

	// Persisted timestamps decode as UTC. 02:00 UTC on Mar 11 is still
	// Mar 10 at 21:00 in UTC-5, so a credit later that local evening must
	// count as the same day.
	restoredAt := time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)
	l.Restore([]domain.Account{{
		UserID:             "u1",
		DisplayName:        "alice",
		CoinBalance:        100,
		CoinsCreditedToday: 100,
		JoinedAt:           restoredAt,
		LastCoinCreditAt:   restoredAt,
	}})

	sameLocalDay := time.Date(2025, 3, 10, 22, 0, 0, 0, zone)
	granted, err := l.CreditWithDailyCap("u1", 100, sameLocalDay)
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 0 {
		t.Fatalf("expected no headroom within the same local day, got %d", granted)
	}

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 100 || acct.CoinsCreditedToday != 100 {
		t.Fatalf("expected account untouched at the cap, got %+v", acct)
	}

	nextLocalDay := time.Date(2025, 3, 11, 8, 0, 0, 0, zone)
	granted, err = l.CreditWithDailyCap("u1", 100, nextLocalDay)
	if err != nil {
		t.Fatalf("CreditWithDailyCap returned error: %v", err)
	}
	if granted != 100 {
		t.Fatalf("expected full grant on the next local day, got %d", granted)
	}
}

func TestConcurrentCreditsDoNotLoseUpdates(t *testing.T) {
	l := newTestLedger(t)
	l.GetOrCreate("u1", "alice", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.CreditRaw("u1", 5); err != nil {
				t.Errorf("CreditRaw returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 100 {
		t.Fatalf("expected balance 100 after 20 concurrent credits of 5, got %d", acct.CoinBalance)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	l := newTestLedger(t)
	l.GetOrCreate("u1", "alice", time.Now())

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 account in snapshot, got %d", len(snap))
	}

	snap[0].CoinBalance = 999

	acct, _ := l.Get("u1")
	if acct.CoinBalance != 0 {
		t.Fatalf("expected snapshot mutation to leave ledger untouched, got %d", acct.CoinBalance)
	}
}

func TestRestoreReplacesState(t *testing.T) {
	l := newTestLedger(t)
	l.GetOrCreate("stale", "old", time.Now())

	joined := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Restore([]domain.Account{
		{UserID: "u1", DisplayName: "alice", CoinBalance: 40, JoinedAt: joined, LastCoinCreditAt: joined},
		{UserID: "u2", DisplayName: "bob", ReferralCount: 3, JoinedAt: joined, LastCoinCreditAt: joined},
	})

	if l.Len() != 2 {
		t.Fatalf("expected 2 accounts after restore, got %d", l.Len())
	}

	if _, ok := l.Get("stale"); ok {
		t.Fatalf("expected pre-restore account to be gone")
	}

	acct, ok := l.Get("u1")
	if !ok || acct.CoinBalance != 40 {
		t.Fatalf("expected restored account with balance 40, got %+v", acct)
	}
}
