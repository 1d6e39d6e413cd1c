package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_rewards_bot/internal/domain"
)

type recordingUpserter struct {
	mu       sync.Mutex
	upserted []string
	errFor   map[string]error
}

func (r *recordingUpserter) Upsert(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.errFor[account.UserID]; ok {
		return err
	}

	r.upserted = append(r.upserted, account.UserID)
	return nil
}

func (r *recordingUpserter) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.upserted))
	copy(out, r.upserted)
	return out
}

type staticSnapshotter struct {
	accounts []domain.Account
}

func (s staticSnapshotter) Snapshot() []domain.Account {
	return s.accounts
}

func TestFlushUpsertsEveryAccount(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	repo := &recordingUpserter{}
	snap := staticSnapshotter{accounts: []domain.Account{
		{UserID: "u1"},
		{UserID: "u2"},
	}}

	syncer := NewSyncer(repo, snap, time.Minute, logrus.NewEntry(hookLogger))
	syncer.Flush(context.Background())

	ids := repo.ids()
	if len(ids) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(ids))
	}
}

func TestFlushContinuesPastFailures(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	repo := &recordingUpserter{errFor: map[string]error{"bad": errors.New("write failed")}}
	snap := staticSnapshotter{accounts: []domain.Account{
		{UserID: "bad"},
		{UserID: "good"},
	}}

	syncer := NewSyncer(repo, snap, time.Minute, logrus.NewEntry(hookLogger))
	syncer.Flush(context.Background())

	ids := repo.ids()
	if len(ids) != 1 || ids[0] != "good" {
		t.Fatalf("expected the healthy account to flush, got %v", ids)
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "account_flush_error" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a flush error log entry")
	}
}

func TestRunFlushesOnCancel(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	repo := &recordingUpserter{}
	snap := staticSnapshotter{accounts: []domain.Account{{UserID: "u1"}}}

	syncer := NewSyncer(repo, snap, time.Hour, logrus.NewEntry(hookLogger))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncer.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to return after cancel")
	}

	if len(repo.ids()) != 1 {
		t.Fatalf("expected a final flush on shutdown, got %v", repo.ids())
	}
}
