package plans

// Subscription statuses. Only trialing and active grant the plan's limits.
const (
	StatusNone     = "none"
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

func Entitled(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// EffectiveTier is the tier whose limits apply to a subscription.
func EffectiveTier(tier, status string) string {
	if !Entitled(status) {
		return TierFree
	}
	if _, ok := catalog[tier]; !ok {
		return TierFree
	}
	return tier
}
