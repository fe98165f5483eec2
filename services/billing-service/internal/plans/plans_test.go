package plans

import "testing"

func TestPaidIsSortedAndExcludesFree(t *testing.T) {
	paid := Paid()
	if len(paid) != 6 {
		t.Fatalf("expected 6 paid plans, got %d", len(paid))
	}
	for i, p := range paid {
		if p.Tier == TierFree {
			t.Fatalf("free plan listed as paid")
		}
		if i > 0 && paid[i-1].PriceCents > p.PriceCents {
			t.Fatalf("plans not sorted by price at %d", i)
		}
	}
	if paid[0].Tier != TierAIBasic || paid[5].Tier != TierHumanElite {
		t.Fatalf("unexpected order: first=%s last=%s", paid[0].Tier, paid[5].Tier)
	}
}

func TestForTierFallsBackToFree(t *testing.T) {
	if got := ForTier("platinum").Tier; got != TierFree {
		t.Fatalf("unknown tier resolved to %q", got)
	}
	if got := ForTier(TierHumanPremium).HumanSessionsPerMonth; got != 4 {
		t.Fatalf("human_premium sessions = %d", got)
	}
}

func TestEffectiveTier(t *testing.T) {
	cases := []struct {
		tier, status, want string
	}{
		{TierAIElite, StatusActive, TierAIElite},
		{TierAIElite, StatusTrialing, TierAIElite},
		{TierAIElite, StatusPastDue, TierFree},
		{TierAIElite, StatusCanceled, TierFree},
		{"legacy", StatusActive, TierFree},
	}
	for _, tc := range cases {
		if got := EffectiveTier(tc.tier, tc.status); got != tc.want {
			t.Fatalf("EffectiveTier(%q, %q) = %q want %q", tc.tier, tc.status, got, tc.want)
		}
	}
}

func TestRemaining(t *testing.T) {
	if got := Remaining(Unlimited, 5000); got != Unlimited {
		t.Fatalf("unlimited remaining = %d", got)
	}
	if got := Remaining(4, 1); got != 3 {
		t.Fatalf("remaining = %d", got)
	}
	if got := Remaining(2, 3); got != 0 {
		t.Fatalf("overused remaining = %d", got)
	}
}
