package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLegalTransitions(t *testing.T) {
	legal := [][2]Status{
		{StatusPending, StatusDrafted},
		{StatusDrafted, StatusPending},
		{StatusDrafted, StatusDrafted},
		{StatusDrafted, StatusApproved},
		{StatusDrafted, StatusRejected},
	}

	count := 0
	for _, from := range Statuses {
		for _, to := range Statuses {
			if CanTransition(from, to) {
				count++
			}
		}
	}
	assert.Equal(t, len(legal), count)

	for _, pair := range legal {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(Statuses).Draw(t, "from")
		to := rapid.SampledFrom(Statuses).Draw(t, "to")

		if from.Terminal() && CanTransition(from, to) {
			t.Fatalf("terminal %s must not move to %s", from, to)
		}
		if CanTransition(from, to) && to == StatusApproved && from != StatusDrafted {
			t.Fatalf("only drafted items can be approved, got %s", from)
		}
	})
}

func TestUnknownStatusCannotTransition(t *testing.T) {
	assert.False(t, Status("archived").Valid())
	assert.False(t, CanTransition("archived", StatusDrafted))
	assert.False(t, CanTransition(StatusPending, "archived"))
}

func validSignal() Signal {
	return Signal{
		Source:  SourceSocial,
		Kind:    "question",
		Title:   "Need help with a Go service",
		Context: "Our API falls over under load, can anyone help?",
	}
}

func TestSignalValidate(t *testing.T) {
	require.NoError(t, validSignal().Validate())

	cases := map[string]func(*Signal){
		"source":  func(s *Signal) { s.Source = "  " },
		"kind":    func(s *Signal) { s.Kind = "" },
		"title":   func(s *Signal) { s.Title = "" },
		"context": func(s *Signal) { s.Context = "\n" },
		"url":     func(s *Signal) { s.URL = "ftp://example.com/x" },
		"payload": func(s *Signal) { s.Payload = json.RawMessage(`{"broken"`) },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			s := validSignal()
			mutate(&s)

			err := s.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
			assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestToOpportunityDerivesStableID(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s := validSignal()

	a := s.ToOpportunity(4.5, now)
	b := s.ToOpportunity(1.0, now.Add(time.Hour))

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, now, a.DetectedAt)
	assert.Equal(t, "question", a.SignalType())
	assert.False(t, a.HasDraft())

	s.ID = "explicit"
	assert.Equal(t, "explicit", s.ToOpportunity(0, now).ID)

	other := validSignal()
	other.Source = SourceEmail
	assert.NotEqual(t, a.ID, other.ToOpportunity(0, now).ID)
}

func TestVerdictTargets(t *testing.T) {
	assert.Equal(t, StatusApproved, VerdictApproved.TargetStatus())
	assert.Equal(t, StatusApproved, VerdictEdited.TargetStatus())
	assert.Equal(t, StatusRejected, VerdictRejected.TargetStatus())
	assert.False(t, Verdict("maybe").Valid())

	final := "sent text"
	assert.Equal(t, "sent text", FeedbackRecord{DraftText: "draft", FinalText: &final}.ExampleText())
	assert.Equal(t, "draft", FeedbackRecord{DraftText: "draft"}.ExampleText())
}

func TestInvalidTransitionErrorMatches(t *testing.T) {
	err := fmt.Errorf("update: %w", &InvalidTransitionError{ID: "x", From: StatusApproved, To: StatusDrafted})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, IsRetryableGeneration(fmt.Errorf("call: %w", ErrGenerationEmpty)))
	assert.False(t, IsRetryableGeneration(ErrBackendUnavailable))
}

func TestStatusCountsTotal(t *testing.T) {
	assert.Equal(t, 5, StatusCounts{StatusPending: 2, StatusApproved: 3}.Total())
}
