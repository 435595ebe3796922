package domain

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Well-known signal sources. The set is open: any non-empty tag is accepted.
const (
	SourceSocial   = "social"
	SourceEmail    = "email"
	SourceManual   = "manual"
	SourceInternal = "internal"
)

// Signal is the ingestion envelope pushed by external scanners. Payload holds
// the source-specific body and is kept opaque by the pipeline.
type Signal struct {
	ID         string          `json:"id,omitempty"`
	Source     string          `json:"source"`
	Kind       string          `json:"kind"`
	Title      string          `json:"title"`
	Context    string          `json:"context"`
	URL        string          `json:"url,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the common envelope and returns a *ValidationError on the
// first problem found.
func (s Signal) Validate() error {
	switch {
	case strings.TrimSpace(s.Source) == "":
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	case strings.TrimSpace(s.Kind) == "":
		return &ValidationError{Field: "kind", Reason: "must not be empty"}
	case strings.TrimSpace(s.Title) == "":
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	case strings.TrimSpace(s.Context) == "":
		return &ValidationError{Field: "context", Reason: "must not be empty"}
	}

	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{Field: "url", Reason: "must be an absolute http(s) url"}
		}
	}

	if len(s.Payload) > 0 && !json.Valid(s.Payload) {
		return &ValidationError{Field: "payload", Reason: "must be valid json"}
	}

	return nil
}

// ToOpportunity converts a validated signal into a pending opportunity.
func (s Signal) ToOpportunity(score float64, now time.Time) Opportunity {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = DeriveID(s.Source, s.Context)
	}

	detected := s.DetectedAt
	if detected.IsZero() {
		detected = now
	}

	return Opportunity{
		ID:         id,
		Source:     strings.TrimSpace(s.Source),
		Kind:       strings.TrimSpace(s.Kind),
		Title:      strings.TrimSpace(s.Title),
		Context:    s.Context,
		URL:        s.URL,
		Score:      score,
		Status:     StatusPending,
		Payload:    s.Payload,
		DetectedAt: detected.UTC(),
		UpdatedAt:  now.UTC(),
	}
}
