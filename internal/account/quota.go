package account

import (
	"strings"
	"time"
)

// Unlimited as a plan limit disables that bucket.
const Unlimited = -1

// Limits is one plan's quota.
type Limits struct {
	Daily   int
	Monthly int
}

// Plans maps plan names to limits with a fallback tier for unknown plans.
type Plans struct {
	limits   map[string]Limits
	fallback string
}

// DefaultPlans is individual (1/day, 15/month) and pro (15/day, 200/month).
func DefaultPlans() Plans {
	return NewPlans(map[string]Limits{
		"individual": {Daily: 1, Monthly: 15},
		"pro":        {Daily: 15, Monthly: 200},
	}, "individual")
}

func NewPlans(limits map[string]Limits, fallback string) Plans {
	m := make(map[string]Limits, len(limits))
	for k, v := range limits {
		m[strings.ToLower(k)] = v
	}
	return Plans{limits: m, fallback: strings.ToLower(fallback)}
}

// For returns the limits of plan, or of the fallback tier.
func (p Plans) For(plan string) Limits {
	if l, ok := p.limits[strings.ToLower(strings.TrimSpace(plan))]; ok {
		return l
	}
	return p.limits[p.fallback]
}

// Known reports whether plan is defined.
func (p Plans) Known(plan string) bool {
	_, ok := p.limits[strings.ToLower(strings.TrimSpace(plan))]
	return ok
}

// Quota is what an account may still generate. Remainders of unlimited
// buckets are Unlimited.
type Quota struct {
	DailyRemaining   int `json:"daily_remaining"`
	MonthlyRemaining int `json:"monthly_remaining"`
	DailyLimit       int `json:"daily_limit"`
	MonthlyLimit     int `json:"monthly_limit"`
}

// Allows is true when both buckets have room.
func (q Quota) Allows() bool {
	return q.DailyRemaining != 0 && q.MonthlyRemaining != 0
}

const (
	dateLayout  = "2006-01-02"
	monthLayout = "200601"
)

// Rollover returns a copy of a with counters reset for every bucket whose
// stamp no longer matches now. It is idempotent within a period.
func Rollover(a Account, now time.Time) Account {
	today := now.Format(dateLayout)
	month := now.Format(monthLayout)
	if a.DailyDate != today {
		a.DailyCount = 0
		a.DailyDate = today
	}
	if a.MonthStamp != month {
		a.MonthCount = 0
		a.MonthStamp = month
	}
	return a
}

// QuotaOf computes the quota of a at now under plans.
func QuotaOf(a Account, plans Plans, now time.Time) Quota {
	limits := plans.For(a.Plan)
	r := Rollover(a, now)
	return Quota{
		DailyRemaining:   remaining(limits.Daily, r.DailyCount),
		MonthlyRemaining: remaining(limits.Monthly, r.MonthCount),
		DailyLimit:       limits.Daily,
		MonthlyLimit:     limits.Monthly,
	}
}

func remaining(limit, used int) int {
	if limit < 0 {
		return Unlimited
	}
	return max(0, limit-used)
}
