package model

import "time"

// Role is the contribution role a credit asserts.
type Role string

const (
	RolePerformer Role = "performer"
	RoleComposer  Role = "composer"
	RoleLyricist  Role = "lyricist"
	RoleProducer  Role = "producer"
	RoleEngineer  Role = "engineer"
	RoleFeatured  Role = "featured"
	RoleRemixer   Role = "remixer"
)

// Credit asserts that one resolved entity contributed to a work in a role.
type Credit struct {
	EntityID   string         `json:"entity_id"`
	Role       Role           `json:"role"`
	RoleDetail string         `json:"role_detail,omitempty"`
	Confidence float64        `json:"confidence"`
	Sources    []Source       `json:"sources"`
	Assurance  AssuranceLevel `json:"assurance_level"`
}

// ConformalSet is a coverage-guaranteed prediction set produced by the
// conformal scorer. CalibrationError is always the absolute gap between
// marginal coverage and the requested coverage level.
type ConformalSet struct {
	CoverageLevel    float64             `json:"coverage_level"`
	Sets             map[string][]string `json:"sets,omitempty"`
	MarginalCoverage float64             `json:"marginal_coverage"`
	CalibrationError float64             `json:"calibration_error"`
	Method           string              `json:"method"`
	CalibrationSize  int                 `json:"calibration_size"`
}

// AttributionRecord is the final attribution verdict for a work. Records are
// never deleted, only superseded: version increments and provenance appends.
type AttributionRecord struct {
	ID              string            `json:"id"`
	WorkEntityID    string            `json:"work_entity_id"`
	Credits         []Credit          `json:"credits"`
	Assurance       AssuranceLevel    `json:"assurance_level"`
	ConfidenceScore float64           `json:"confidence_score"`
	Conformal       ConformalSet      `json:"conformal_set"`
	SourceAgreement float64           `json:"source_agreement"`
	NeedsReview     bool              `json:"needs_review"`
	ReviewReason    string            `json:"review_reason,omitempty"`
	ReviewPriority  float64           `json:"review_priority"`
	Provenance      []ProvenanceEvent `json:"provenance"`
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
