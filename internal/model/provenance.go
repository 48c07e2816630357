package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ProvenanceEventType tags the kind of event appended to an attribution
// record's provenance chain.
type ProvenanceEventType string

const (
	EventCreate    ProvenanceEventType = "create"
	EventScore     ProvenanceEventType = "score"
	EventReview    ProvenanceEventType = "review"
	EventSupersede ProvenanceEventType = "supersede"
)

// CreateDetail records the initial compilation of a record.
type CreateDetail struct {
	EntityCount int      `json:"entity_count"`
	Sources     []Source `json:"sources,omitempty"`
}

// ScoreDetail records a confidence computation.
type ScoreDetail struct {
	Confidence      float64 `json:"confidence"`
	SourceAgreement float64 `json:"source_agreement"`
	Scorer          string  `json:"scorer"`
}

// ReviewDetail records a human review decision.
type ReviewDetail struct {
	Reviewer string `json:"reviewer"`
	Outcome  string `json:"outcome"`
	Notes    string `json:"notes,omitempty"`
}

// SupersedeDetail records replacement by a newer version.
type SupersedeDetail struct {
	PreviousVersion int    `json:"previous_version"`
	Reason          string `json:"reason,omitempty"`
}

// ProvenanceEvent is one append-only entry in a record's audit trail. Exactly
// one detail arm is populated, matching Type; the JSON codec enforces this
// rather than letting mismatched payloads pass through silently.
type ProvenanceEvent struct {
	Type      ProvenanceEventType `json:"type"`
	At        time.Time           `json:"at"`
	Create    *CreateDetail       `json:"create,omitempty"`
	Score     *ScoreDetail        `json:"score,omitempty"`
	Review    *ReviewDetail       `json:"review,omitempty"`
	Supersede *SupersedeDetail    `json:"supersede,omitempty"`
}

// Validate checks that the populated detail arm matches the event type.
func (e ProvenanceEvent) Validate() error {
	populated := 0
	var match bool
	if e.Create != nil {
		populated++
		match = match || e.Type == EventCreate
	}
	if e.Score != nil {
		populated++
		match = match || e.Type == EventScore
	}
	if e.Review != nil {
		populated++
		match = match || e.Type == EventReview
	}
	if e.Supersede != nil {
		populated++
		match = match || e.Type == EventSupersede
	}

	switch e.Type {
	case EventCreate, EventScore, EventReview, EventSupersede:
	default:
		return eris.Errorf("model: unknown provenance event type %q", e.Type)
	}
	if populated != 1 || !match {
		return eris.Errorf("model: provenance event %q has mismatched detail payload", e.Type)
	}
	return nil
}

// UnmarshalJSON decodes and validates an event in one step.
func (e *ProvenanceEvent) UnmarshalJSON(data []byte) error {
	type alias ProvenanceEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return eris.Wrap(err, "model: provenance event")
	}
	*e = ProvenanceEvent(a)
	return e.Validate()
}

// NewCreateEvent builds a create event stamped at t.
func NewCreateEvent(t time.Time, detail CreateDetail) ProvenanceEvent {
	return ProvenanceEvent{Type: EventCreate, At: t, Create: &detail}
}

// NewScoreEvent builds a score event stamped at t.
func NewScoreEvent(t time.Time, detail ScoreDetail) ProvenanceEvent {
	return ProvenanceEvent{Type: EventScore, At: t, Score: &detail}
}

// NewReviewEvent builds a review event stamped at t.
func NewReviewEvent(t time.Time, detail ReviewDetail) ProvenanceEvent {
	return ProvenanceEvent{Type: EventReview, At: t, Review: &detail}
}

// NewSupersedeEvent builds a supersede event stamped at t.
func NewSupersedeEvent(t time.Time, detail SupersedeDetail) ProvenanceEvent {
	return ProvenanceEvent{Type: EventSupersede, At: t, Supersede: &detail}
}
