package models

import "math"

type Plan struct {
	Name         string `json:"name"`
	MinutesQuota int    `json:"minutes_quota"`
	MaxAgents    int    `json:"max_agents"`
}

const DefaultPlan = "free"

var plans = map[string]Plan{
	"free":     {Name: "free", MinutesQuota: 30, MaxAgents: 1},
	"starter":  {Name: "starter", MinutesQuota: 300, MaxAgents: 3},
	"pro":      {Name: "pro", MinutesQuota: 1500, MaxAgents: 10},
	"business": {Name: "business", MinutesQuota: 6000, MaxAgents: 50},
}

// LookupPlan returns the named plan and whether it exists.
func LookupPlan(name string) (Plan, bool) {
	p, ok := plans[name]
	return p, ok
}

// PlanFor falls back to the free plan for unknown names.
func PlanFor(name string) Plan {
	if p, ok := plans[name]; ok {
		return p
	}
	return plans[DefaultPlan]
}

// PlanNames lists plans from smallest to largest.
func PlanNames() []string {
	return []string{"free", "starter", "pro", "business"}
}

// BilledMinutes rounds a call duration up to whole minutes.
func BilledMinutes(durationSecs int) int {
	if durationSecs <= 0 {
		return 0
	}
	return int(math.Ceil(float64(durationSecs) / 60))
}
