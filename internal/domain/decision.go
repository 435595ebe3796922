package domain

import "time"

// Tier is a cost/complexity class used to pick an execution backend.
type Tier string

const (
	TierQuick    Tier = "quick"
	TierDeep     Tier = "deep"
	TierEnforcer Tier = "enforcer"
)

// Tiers lists tiers from cheapest to most expensive.
var Tiers = []Tier{TierQuick, TierDeep, TierEnforcer}

// Rank orders tiers by expected cost; unknown tiers rank below quick.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Classification is the tier classifier's verdict on a task description.
type Classification struct {
	Tier              Tier
	Backends          []string
	EstimatedHours    float64
	ComplexityScore   int
	MatchedIndicators []string
}

// Action is the escalation policy's routing choice.
type Action string

const (
	ActionHandleLocal Action = "handle_local"
	ActionEscalate    Action = "escalate"
	ActionIgnore      Action = "ignore"
)

// Decision records why an opportunity was routed the way it was. It is
// appended to the decision log and never stored with the opportunity.
type Decision struct {
	RunID         string    `json:"run_id,omitempty"`
	OpportunityID string    `json:"opportunity_id"`
	SignalType    string    `json:"signal_type"`
	Action        Action    `json:"action"`
	Tier          Tier      `json:"tier"`
	Backends      []string  `json:"backends,omitempty"`
	ChosenBackend string    `json:"chosen_backend,omitempty"`
	Reasoning     string    `json:"reasoning"`
	Escalated     bool      `json:"escalated"`
	HumanApproval bool      `json:"human_approval"`
	CooldownKey   string    `json:"cooldown_key,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// CooldownEntry is a persisted suppression window for one logical event.
type CooldownEntry struct {
	Key        string
	SignalType string
	StableKey  string
	FiredAt    time.Time
	ExpiresAt  time.Time
}

// CooldownKey joins the signal type and stable key into a store key.
func CooldownKey(signalType, stableKey string) string {
	return signalType + ":" + stableKey
}
