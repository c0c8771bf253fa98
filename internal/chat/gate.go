package chat

import (
	"strings"

	"github.com/venturekit/planner/internal/domain"
)

// Decision is the usage gate's verdict on a send attempt.
type Decision string

const (
	Allowed      Decision = "allowed"
	BlockedEmpty Decision = "blocked_empty"
	BlockedBusy  Decision = "blocked_busy"
	BlockedQuota Decision = "blocked_quota"
)

// Limits are the per-tier message allowances, supplied by config. The
// accounting behind the counters belongs to billing.
type Limits struct {
	FreeLimit int
	PaidLimit int
}

// Decide is the pure send gate. The busy check is ordered before the
// quota check so a user with an in-flight response sees "busy", never
// "quota", regardless of counters.
func Decide(usage domain.UsageSnapshot, hasInFlight bool, input string, limits Limits) Decision {
	if len(strings.TrimSpace(input)) == 0 {
		return BlockedEmpty
	}
	if hasInFlight {
		return BlockedBusy
	}

	freeRemaining := limits.FreeLimit - usage.FreeUsed
	if freeRemaining < 0 {
		freeRemaining = 0
	}
	if freeRemaining == 0 {
		paidOK := usage.Subscription == domain.SubscriptionPaid && usage.PaidUsed < limits.PaidLimit
		if !paidOK {
			return BlockedQuota
		}
	}
	return Allowed
}
