package subscriptions

import (
	"time"

	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
)

// MonthOf returns the first day of t's calendar month in UTC, the key usage
// is metered under.
func MonthOf(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// UsageReport compares a month's consumption against the plan. Limits of -1
// are unlimited.
type UsageReport struct {
	Month                  string `json:"month"`
	AIMessagesUsed         int    `json:"ai_messages_used"`
	AIMessagesLimit        int    `json:"ai_messages_limit"`
	AIMessagesRemaining    int    `json:"ai_messages_remaining"`
	HumanSessionsUsed      int    `json:"human_sessions_used"`
	HumanSessionsIncluded  int    `json:"human_sessions_included"`
	HumanSessionsRemaining int    `json:"human_sessions_remaining"`
}

func BuildUsageReport(plan plans.Plan, u storage.Usage) UsageReport {
	return UsageReport{
		Month:                  u.Month.Format("2006-01"),
		AIMessagesUsed:         u.AIMessagesUsed,
		AIMessagesLimit:        plan.AIMessagesPerMonth,
		AIMessagesRemaining:    plans.Remaining(plan.AIMessagesPerMonth, u.AIMessagesUsed),
		HumanSessionsUsed:      u.HumanSessionsUsed,
		HumanSessionsIncluded:  plan.HumanSessionsPerMonth,
		HumanSessionsRemaining: plans.Remaining(plan.HumanSessionsPerMonth, u.HumanSessionsUsed),
	}
}
