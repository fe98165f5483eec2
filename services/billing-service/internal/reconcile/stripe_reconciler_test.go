package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
)

type fakeSource struct {
	subs       []storage.Subscription
	listErr    error
	failFor    string
	reconciled []string
	ran        chan struct{}
}

func (f *fakeSource) ListForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit < len(f.subs) {
		return f.subs[:limit], nil
	}
	return f.subs, nil
}

func (f *fakeSource) Reconcile(ctx context.Context, sub storage.Subscription) error {
	if sub.ClientID == f.failFor {
		return errors.New("stripe down")
	}
	f.reconciled = append(f.reconciled, sub.ClientID)
	if f.ran != nil && len(f.reconciled) == 1 {
		close(f.ran)
	}
	return nil
}

type fakeLock struct {
	attempts int
	grantAt  int
	unlocked bool
}

func (l *fakeLock) TryLock(ctx context.Context, key int64) (bool, error) {
	l.attempts++
	return l.attempts >= l.grantAt, nil
}

func (l *fakeLock) Unlock(ctx context.Context, key int64) error {
	l.unlocked = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileOnceSkipsAndContinues(t *testing.T) {
	src := &fakeSource{
		subs: []storage.Subscription{
			{ClientID: "c1", StripeSubscriptionID: "sub_1"},
			{ClientID: "c2", StripeSubscriptionID: ""},
			{ClientID: "c3", StripeSubscriptionID: "sub_3"},
			{ClientID: "c4", StripeSubscriptionID: "sub_4"},
		},
		failFor: "c3",
	}
	r := NewStripeReconciler(src, &fakeLock{}, testLogger(), Config{})
	if got := r.ReconcileOnce(context.Background()); got != 2 {
		t.Fatalf("reconciled = %d want 2", got)
	}
	if len(src.reconciled) != 2 || src.reconciled[0] != "c1" || src.reconciled[1] != "c4" {
		t.Fatalf("unexpected reconciled set: %v", src.reconciled)
	}
}

func TestReconcileOnceHonorsBatchSize(t *testing.T) {
	src := &fakeSource{subs: []storage.Subscription{
		{ClientID: "c1", StripeSubscriptionID: "sub_1"},
		{ClientID: "c2", StripeSubscriptionID: "sub_2"},
	}}
	r := NewStripeReconciler(src, &fakeLock{}, testLogger(), Config{BatchSize: 1})
	if got := r.ReconcileOnce(context.Background()); got != 1 {
		t.Fatalf("reconciled = %d want 1", got)
	}
}

func TestReconcileOnceListError(t *testing.T) {
	r := NewStripeReconciler(&fakeSource{listErr: errors.New("db")}, &fakeLock{}, testLogger(), Config{})
	if got := r.ReconcileOnce(context.Background()); got != 0 {
		t.Fatalf("reconciled = %d want 0", got)
	}
}

func TestRunWaitsForLockAndReleases(t *testing.T) {
	src := &fakeSource{
		subs: []storage.Subscription{{ClientID: "c1", StripeSubscriptionID: "sub_1"}},
		ran:  make(chan struct{}),
	}
	lock := &fakeLock{grantAt: 3}
	r := NewStripeReconciler(src, lock, testLogger(), Config{Interval: time.Hour})
	r.standby = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-src.ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("reconciler never ran")
	}
	cancel()
	<-done
	if lock.attempts != 3 {
		t.Fatalf("lock attempts = %d want 3", lock.attempts)
	}
	if !lock.unlocked {
		t.Fatalf("lock not released on shutdown")
	}
}

func TestRunStopsWhileStandingBy(t *testing.T) {
	lock := &fakeLock{grantAt: 1 << 30}
	r := NewStripeReconciler(&fakeSource{}, lock, testLogger(), Config{})
	r.standby = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)
	if lock.unlocked {
		t.Fatalf("unlock called without holding the lock")
	}
}
