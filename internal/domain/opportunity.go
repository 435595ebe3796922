package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status enumerates the lifecycle of an opportunity.
type Status string

const (
	StatusPending  Status = "pending"
	StatusDrafted  Status = "drafted"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusDrafted, StatusApproved, StatusRejected}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDrafted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusDrafted: true},
	StatusDrafted: {
		StatusPending:  true,
		StatusDrafted:  true,
		StatusApproved: true,
		StatusRejected: true,
	},
}

// CanTransition reports whether from -> to is a legal move. drafted -> drafted
// is allowed so a re-draft can replace the artifact in place.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Opportunity is a scored candidate unit of work tracked by the store.
type Opportunity struct {
	ID         string
	Source     string
	Kind       string
	Title      string
	Context    string
	URL        string
	Score      float64
	Status     Status
	Draft      string
	Payload    json.RawMessage
	DetectedAt time.Time
	UpdatedAt  time.Time
}

// SignalType is the key the escalation policy reasons about.
func (o Opportunity) SignalType() string {
	return o.Kind
}

// HasDraft reports whether a generated artifact is attached.
func (o Opportunity) HasDraft() bool {
	return o.Status != StatusPending && o.Draft != ""
}

// DeriveID builds the stable identifier used when a signal carries none.
func DeriveID(source, context string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + context))
	return hex.EncodeToString(sum[:8])
}

// PendingFilter narrows the pending queue to opportunities worth drafting.
// The zero value matches every pending opportunity.
type PendingFilter struct {
	ExcludeKinds []string
	MinScore     float64
}

// Matches reports whether opp passes the filter.
func (f PendingFilter) Matches(opp Opportunity) bool {
	if opp.Score < f.MinScore {
		return false
	}
	for _, k := range f.ExcludeKinds {
		if opp.Kind == k {
			return false
		}
	}
	return true
}

// StatusCounts maps each status to the number of records in it.
type StatusCounts map[Status]int

// Total sums all counts.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
