// Package outcome is the match-outcome state machine. Outcomes are ordered by confidence
// (NO_MATCH < POSSIBLE_MATCH < POSSIBLE_DUPLICATE < MATCH). Any outcome may follow any other;
// NO_MATCH is never stored, so moving to it removes the link.
package outcome

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Action is what the link store must do to apply a transition.
type Action string

const (
	ActionCreate Action = "created"
	ActionUpdate Action = "updated"
	ActionDelete Action = "deleted"
	ActionNoop   Action = "unchanged"
)

var ranks = map[models.MatchOutcome]int{
	models.MatchOutcomeNoMatch:           0,
	models.MatchOutcomePossibleMatch:     1,
	models.MatchOutcomePossibleDuplicate: 2,
	models.MatchOutcomeMatch:             3,
}

// Parse accepts any casing, e.g. "possible_match".
func Parse(value string) (models.MatchOutcome, error) {
	o := models.MatchOutcome(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := ranks[o]; !ok {
		return "", fmt.Errorf("unknown match outcome: %s", value)
	}
	return o, nil
}

func Valid(o models.MatchOutcome) bool {
	_, ok := ranks[o]
	return ok
}

// Rank orders outcomes by confidence. Unknown outcomes rank below NO_MATCH.
func Rank(o models.MatchOutcome) int {
	r, ok := ranks[o]
	if !ok {
		return -1
	}
	return r
}

func AtLeast(o, floor models.MatchOutcome) bool {
	return Rank(o) >= Rank(floor)
}

// Persisted reports whether a link with outcome o is stored.
func Persisted(o models.MatchOutcome) bool {
	return AtLeast(o, models.MatchOutcomePossibleMatch)
}

func ValidLinkSource(s models.LinkSource) bool {
	return s == models.LinkSourceAuto || s == models.LinkSourceManual
}

// Transition decides how to move from current (nil when no link exists) to next.
// Re-asserting the same outcome with a different source is an update.
func Transition(current *models.Link, next models.MatchOutcome, source models.LinkSource) Action {
	if current == nil {
		if Persisted(next) {
			return ActionCreate
		}
		return ActionNoop
	}
	if !Persisted(next) {
		return ActionDelete
	}
	if current.MatchOutcome == next && current.LinkSource == source {
		return ActionNoop
	}
	return ActionUpdate
}

// Best returns the highest-confidence outcome, NO_MATCH for none.
func Best(outcomes ...models.MatchOutcome) models.MatchOutcome {
	best := models.MatchOutcomeNoMatch
	for _, o := range outcomes {
		if Rank(o) > Rank(best) {
			best = o
		}
	}
	return best
}
