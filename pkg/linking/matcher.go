package linking

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Match is a matcher's verdict on one candidate
type Match struct {
	Outcome models.MatchOutcome
	// Score is the share of compared fields that agreed, between 0 and 1
	Score float64
}

// Matcher scores a source resource against a golden record candidate
type Matcher interface {
	Match(ctx context.Context, source, candidate *models.Resource) Match
}

// FieldMatcher compares payload fields selected by JMESPath expressions, e.g. "birthDate" or
// "name[0].family". Every field equal and present on both sides is a MATCH, some equal is a
// POSSIBLE_MATCH, none is NO_MATCH. Strings are compared after normalizeText.
type FieldMatcher struct {
	fields []*jmespath.JMESPath
}

// NewFieldMatcher compiles one expression per field. Blank fields are ignored.
func NewFieldMatcher(fields []string) (*FieldMatcher, error) {
	m := &FieldMatcher{}
	for _, f := range fields {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		compiled, err := jmespath.Compile(f)
		if err != nil {
			return nil, fmt.Errorf("invalid match field %q: %w", f, err)
		}
		m.fields = append(m.fields, compiled)
	}
	return m, nil
}

func (m *FieldMatcher) Match(_ context.Context, source, candidate *models.Resource) Match {
	noMatch := Match{Outcome: models.MatchOutcomeNoMatch}
	if len(m.fields) == 0 || source.ResourceType != candidate.ResourceType {
		return noMatch
	}

	var left, right any
	if err := source.Data.Decode(&left); err != nil {
		return noMatch
	}
	if err := candidate.Data.Decode(&right); err != nil {
		return noMatch
	}

	equal := 0
	for _, field := range m.fields {
		l, lerr := field.Search(left)
		r, rerr := field.Search(right)
		if lerr != nil || rerr != nil || l == nil || r == nil {
			continue
		}
		if valuesEqual(l, r) {
			equal++
		}
	}

	result := Match{Score: float64(equal) / float64(len(m.fields))}
	switch {
	case equal == len(m.fields):
		result.Outcome = models.MatchOutcomeMatch
	case equal > 0:
		result.Outcome = models.MatchOutcomePossibleMatch
	default:
		result.Outcome = models.MatchOutcomeNoMatch
	}
	return result
}

func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return normalizeText(as) == normalizeText(bs)
	}
	return reflect.DeepEqual(a, b)
}

// normalizeText lowercases s, drops punctuation and collapses whitespace runs, so
// "O'Brien,  Mary" and "obrien mary" compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) && !space:
			b.WriteRune(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
