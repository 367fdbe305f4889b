package model

import "time"

// ResourceType names a billable resource guarded by usage quotas.
type ResourceType string

const (
	// ResourceTransactions counts ingested transactions per billing period.
	ResourceTransactions ResourceType = "transactions"
	// ResourceSyncs counts sync attempts per billing period.
	ResourceSyncs ResourceType = "syncs"
)

// UsageCounter is a per-tenant, per-resource, per-billing-period counter.
//
// Used never exceeds Limit after a successful reservation; the limit check
// and the increment happen in a single atomic step at the storage layer.
type UsageCounter struct {
	UpdatedAt time.Time
	TenantID  string
	Resource  ResourceType
	Period    string
	Used      int64
	Limit     int64
}

// BillingPeriod returns the period key for a point in time, e.g. "2026-08".
func BillingPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
