package models

import (
	"fmt"
	"time"
)

// MatchOutcome classifies the confidence of a link
type MatchOutcome string

const (
	MatchOutcomeNoMatch           MatchOutcome = "NO_MATCH"
	MatchOutcomePossibleMatch     MatchOutcome = "POSSIBLE_MATCH"
	MatchOutcomePossibleDuplicate MatchOutcome = "POSSIBLE_DUPLICATE"
	MatchOutcomeMatch             MatchOutcome = "MATCH"
)

// LinkSource records who asserted a link
type LinkSource string

const (
	LinkSourceAuto   LinkSource = "AUTO"
	LinkSourceManual LinkSource = "MANUAL"
)

// Link is a directed edge from a golden record to a source resource (or to another golden record).
// At most one link exists per (GoldenID, SourceID).
type Link struct {
	ID           string       `json:"id" db:"id"`
	GoldenID     string       `json:"golden_id" db:"golden_id"`
	SourceID     string       `json:"source_id" db:"source_id"`
	SourceType   string       `json:"source_type" db:"source_type"`
	SourceGolden bool         `json:"source_golden" db:"source_golden"`
	MatchOutcome MatchOutcome `json:"match_outcome" db:"match_outcome"`
	LinkSource   LinkSource   `json:"link_source" db:"link_source"`
	Score        *float64     `json:"score,omitempty" db:"score"`
	Version      int          `json:"version" db:"version"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

func (l Link) Key() LinkKey {
	return LinkKey{GoldenID: l.GoldenID, SourceID: l.SourceID}
}

// LinkKey identifies a link
type LinkKey struct {
	GoldenID string
	SourceID string
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%s|%s", k.GoldenID, k.SourceID)
}

// LinkRequest asserts a match outcome between a golden record and a source resource.
// A NO_MATCH outcome removes the link.
type LinkRequest struct {
	GoldenID     string       `json:"golden_id" validate:"required"`
	SourceID     string       `json:"source_id" validate:"required"`
	MatchOutcome MatchOutcome `json:"match_outcome" validate:"required,oneof=MATCH POSSIBLE_MATCH POSSIBLE_DUPLICATE NO_MATCH"`
	LinkSource   LinkSource   `json:"link_source" validate:"omitempty,oneof=AUTO MANUAL"`
	Score        *float64     `json:"score,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// LinkResult is the outcome of a link assertion. Link is nil when the link was removed or never existed.
type LinkResult struct {
	Link          *Link  `json:"link,omitempty"`
	Action        string `json:"action"`
	GoldenRemoved bool   `json:"golden_removed"`
}

// LinkFilter narrows link listings. Empty fields match everything.
type LinkFilter struct {
	GoldenID     string       `query:"golden_id"`
	SourceID     string       `query:"source_id"`
	MatchOutcome MatchOutcome `query:"match_outcome"`
	LinkSource   LinkSource   `query:"link_source"`
	Limit        int          `query:"limit"`
	Offset       int          `query:"offset"`
}

// LinkListResponse is the response for listing links
type LinkListResponse struct {
	Items      []Link `json:"items"`
	TotalCount int    `json:"total_count"`
}
