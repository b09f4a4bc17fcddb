package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    models.MatchOutcome
		wantErr bool
	}{
		{"MATCH", models.MatchOutcomeMatch, false},
		{"possible_match", models.MatchOutcomePossibleMatch, false},
		{" POSSIBLE_DUPLICATE ", models.MatchOutcomePossibleDuplicate, false},
		{"NO_MATCH", models.MatchOutcomeNoMatch, false},
		{"MAYBE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrdering(t *testing.T) {
	ordered := []models.MatchOutcome{
		models.MatchOutcomeNoMatch,
		models.MatchOutcomePossibleMatch,
		models.MatchOutcomePossibleDuplicate,
		models.MatchOutcomeMatch,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, Rank(ordered[i-1]), Rank(ordered[i]))
		assert.True(t, AtLeast(ordered[i], ordered[i-1]))
		assert.False(t, AtLeast(ordered[i-1], ordered[i]))
	}
	assert.Equal(t, -1, Rank("BOGUS"))
}

func TestPersisted(t *testing.T) {
	assert.False(t, Persisted(models.MatchOutcomeNoMatch))
	assert.True(t, Persisted(models.MatchOutcomePossibleMatch))
	assert.True(t, Persisted(models.MatchOutcomePossibleDuplicate))
	assert.True(t, Persisted(models.MatchOutcomeMatch))
	assert.False(t, Persisted("BOGUS"))
}

func TestTransition(t *testing.T) {
	existing := &models.Link{MatchOutcome: models.MatchOutcomePossibleMatch, LinkSource: models.LinkSourceAuto}

	tests := []struct {
		name    string
		current *models.Link
		next    models.MatchOutcome
		source  models.LinkSource
		want    Action
	}{
		{"new link", nil, models.MatchOutcomeMatch, models.LinkSourceAuto, ActionCreate},
		{"no match without link", nil, models.MatchOutcomeNoMatch, models.LinkSourceAuto, ActionNoop},
		{"upgrade", existing, models.MatchOutcomeMatch, models.LinkSourceAuto, ActionUpdate},
		{"downgrade", &models.Link{MatchOutcome: models.MatchOutcomeMatch, LinkSource: models.LinkSourceAuto}, models.MatchOutcomePossibleMatch, models.LinkSourceAuto, ActionUpdate},
		{"same outcome new source", existing, models.MatchOutcomePossibleMatch, models.LinkSourceManual, ActionUpdate},
		{"same outcome same source", existing, models.MatchOutcomePossibleMatch, models.LinkSourceAuto, ActionNoop},
		{"no match removes link", existing, models.MatchOutcomeNoMatch, models.LinkSourceManual, ActionDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.current, tt.next, tt.source))
		})
	}
}

func TestBest(t *testing.T) {
	assert.Equal(t, models.MatchOutcomeNoMatch, Best())
	assert.Equal(t, models.MatchOutcomePossibleDuplicate, Best(models.MatchOutcomePossibleMatch, models.MatchOutcomePossibleDuplicate, models.MatchOutcomeNoMatch))
}
