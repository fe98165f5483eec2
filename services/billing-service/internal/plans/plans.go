// Package plans is the subscription catalog. Other services rely on the
// tier names and limits carried in billing events, so keep them stable.
package plans

import "sort"

const (
	TierFree         = "free"
	TierAIBasic      = "ai_basic"
	TierAIPremium    = "ai_premium"
	TierAIElite      = "ai_elite"
	TierHumanBasic   = "human_basic"
	TierHumanPremium = "human_premium"
	TierHumanElite   = "human_elite"
)

// Unlimited marks a limit without a cap.
const Unlimited = -1

// TrialDays is the free trial granted on a first subscription checkout.
const TrialDays = 7

type Plan struct {
	Tier                  string   `json:"tier"`
	Name                  string   `json:"name"`
	PriceCents            int64    `json:"price_cents"`
	AIMessagesPerMonth    int      `json:"ai_messages_per_month"`
	HumanSessionsPerMonth int      `json:"human_sessions_per_month"`
	SessionMinutes        int      `json:"session_minutes,omitempty"`
	Features              []string `json:"features"`
}

var catalog = map[string]Plan{
	TierFree: {
		Tier:               TierFree,
		Name:               "Free",
		AIMessagesPerMonth: 100,
		Features:           []string{"AI coaching via text", "Crisis detection & alerts"},
	},
	TierAIBasic: {
		Tier:               TierAIBasic,
		Name:               "AI Coaching - Basic",
		PriceCents:         2900,
		AIMessagesPerMonth: 500,
		Features: []string{
			"24/7 AI coaching via text",
			"Crisis detection & alerts",
			"Progress tracking",
		},
	},
	TierAIPremium: {
		Tier:                  TierAIPremium,
		Name:                  "AI Coaching - Premium",
		PriceCents:            14900,
		AIMessagesPerMonth:    1000,
		HumanSessionsPerMonth: 1,
		SessionMinutes:        30,
		Features: []string{
			"Everything in AI Basic",
			"1 live session per month (30 min)",
			"Personalized action plans",
		},
	},
	TierAIElite: {
		Tier:                  TierAIElite,
		Name:                  "AI Coaching - Elite",
		PriceCents:            29900,
		AIMessagesPerMonth:    Unlimited,
		HumanSessionsPerMonth: 4,
		SessionMinutes:        30,
		Features: []string{
			"Everything in AI Premium",
			"4 live sessions per month (30 min each)",
			"Priority scheduling",
		},
	},
	TierHumanBasic: {
		Tier:                  TierHumanBasic,
		Name:                  "Human Coaching - Basic",
		PriceCents:            80000,
		AIMessagesPerMonth:    Unlimited,
		HumanSessionsPerMonth: 2,
		SessionMinutes:        60,
		Features: []string{
			"2 live sessions per month (60 min each)",
			"24/7 AI coaching between sessions",
			"Email support",
		},
	},
	TierHumanPremium: {
		Tier:                  TierHumanPremium,
		Name:                  "Human Coaching - Premium",
		PriceCents:            120000,
		AIMessagesPerMonth:    Unlimited,
		HumanSessionsPerMonth: 4,
		SessionMinutes:        60,
		Features: []string{
			"4 live sessions per month (60 min each)",
			"Priority scheduling",
			"Text, email & phone support",
		},
	},
	TierHumanElite: {
		Tier:                  TierHumanElite,
		Name:                  "Human Coaching - Elite",
		PriceCents:            200000,
		AIMessagesPerMonth:    Unlimited,
		HumanSessionsPerMonth: 8,
		SessionMinutes:        60,
		Features: []string{
			"8 live sessions per month (60 min each)",
			"Direct coach access (text/email)",
			"Emergency session availability",
		},
	},
}

// Lookup returns the plan for a purchasable or free tier.
func Lookup(tier string) (Plan, bool) {
	p, ok := catalog[tier]
	return p, ok
}

// ForTier is Lookup falling back to the free plan.
func ForTier(tier string) Plan {
	if p, ok := catalog[tier]; ok {
		return p
	}
	return catalog[TierFree]
}

// Paid lists the purchasable plans, cheapest first.
func Paid() []Plan {
	out := make([]Plan, 0, len(catalog)-1)
	for tier, p := range catalog {
		if tier == TierFree {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}

// Remaining returns how much of limit is left after used, or Unlimited.
func Remaining(limit, used int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
