package referral

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/store"
)

func newTestService(t *testing.T, rules Rules) (*Service, *store.SQLiteRepo) {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ref.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, rules, "Europe/Moscow", zap.NewNop()), repo
}

func TestRedeemAppliesRewardOnce(t *testing.T) {
	svc, repo := newTestService(t, Rules{Threshold: 2, RewardDays: 30})
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	code, err := svc.EnsureCode(ctx, 100)
	if err != nil || code != "u100" {
		t.Fatalf("EnsureCode = %q, %v", code, err)
	}
	for _, id := range []int64{201, 202} {
		if _, err := svc.EnsureCode(ctx, id); err != nil {
			t.Fatal(err)
		}
		if ref, err := svc.Redeem(ctx, id, code, now); err != nil || ref != 100 {
			t.Fatalf("Redeem(%d) = %d, %v", id, ref, err)
		}
	}

	// The same redemption processed again is rejected and credits nothing.
	if _, err := svc.Redeem(ctx, 202, code, now); !errors.Is(err, store.ErrAlreadyReferred) {
		t.Fatalf("repeat Redeem err = %v", err)
	}
	if err := svc.ApplyRewards(ctx, 100, now); err != nil {
		t.Fatalf("ApplyRewards: %v", err)
	}

	u, _ := repo.GetUser(ctx, 100)
	want := now.Add(30 * 24 * time.Hour)
	if u.ReferralCount != 2 || u.SubscriptionExpiry == nil || !u.SubscriptionExpiry.Equal(want) {
		t.Fatalf("referrer count=%d expiry=%v, want 2 and %v", u.ReferralCount, u.SubscriptionExpiry, want)
	}
	pay := store.Payment{ChargeID: "ch_202", UserID: 202, Amount: 100, Currency: "XTR", PaidAt: now}
	if err := repo.ApplyPayment(ctx, pay, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	st, err := svc.Stats(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if st.Invited != 2 || st.PaidInvited != 1 || st.Rewards != 1 || st.NextRewardAt != 2 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestRedeemRejectsSelfReferral(t *testing.T) {
	svc, repo := newTestService(t, Rules{Threshold: 1, RewardDays: 30})
	ctx := context.Background()
	code, _ := svc.EnsureCode(ctx, 5)
	if _, err := svc.Redeem(ctx, 5, code, time.Now()); !errors.Is(err, store.ErrSelfReferral) {
		t.Fatalf("err = %v, want ErrSelfReferral", err)
	}
	u, _ := repo.GetUser(ctx, 5)
	if u.ReferralCount != 0 || u.SubscriptionExpiry != nil {
		t.Fatalf("self referral changed profile: %+v", u)
	}
}

func TestRewardsDisabledByDefault(t *testing.T) {
	svc, repo := newTestService(t, Rules{RewardDays: 30})
	ctx := context.Background()
	code, _ := svc.EnsureCode(ctx, 1)
	_, _ = svc.EnsureCode(ctx, 2)
	if _, err := svc.Redeem(ctx, 2, code, time.Now()); err != nil {
		t.Fatal(err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.SubscriptionExpiry != nil {
		t.Fatalf("reward granted with threshold 0: %v", u.SubscriptionExpiry)
	}
}

func TestLifetimeThreshold(t *testing.T) {
	svc, repo := newTestService(t, Rules{LifetimeThreshold: 1})
	ctx := context.Background()
	code, _ := svc.EnsureCode(ctx, 1)
	_, _ = svc.EnsureCode(ctx, 2)
	if _, err := svc.Redeem(ctx, 2, code, time.Now()); err != nil {
		t.Fatal(err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if !u.LifetimeFree {
		t.Fatal("lifetime access not granted")
	}
}

func TestLink(t *testing.T) {
	if got := Link("@astro_bot", "u7"); got != "https://t.me/astro_bot?start=u7" {
		t.Fatalf("Link = %q", got)
	}
}
