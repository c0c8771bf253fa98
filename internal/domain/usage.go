package domain

// SubscriptionStatus is the billing tier of the current user.
type SubscriptionStatus string

const (
	SubscriptionFree    SubscriptionStatus = "free"
	SubscriptionPaid    SubscriptionStatus = "paid"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// UsageSnapshot is a read-only view of the user's message counters.
// It is produced by the billing collaborator; the planner only observes.
type UsageSnapshot struct {
	FreeUsed     int                `json:"freeUsed"`
	PaidUsed     int                `json:"paidUsed"`
	Subscription SubscriptionStatus `json:"subscriptionStatus"`
}
