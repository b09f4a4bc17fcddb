package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type recordingWriter struct {
	statements []Statement
	err        error
}

func (w *recordingWriter) Write(_ context.Context, statements ...Statement) error {
	w.statements = append(w.statements, statements...)
	return w.err
}

func newTestProjector(w writer) *Projector {
	return &Projector{graph: w, logger: ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})}
}

func TestProjector_ProjectLink(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProjector(w)

	link := &models.Link{
		GoldenID:     "g1",
		SourceID:     "s1",
		SourceType:   "Patient",
		MatchOutcome: models.MatchOutcomePossibleMatch,
		LinkSource:   models.LinkSourceAuto,
		Version:      3,
	}
	require.NoError(t, p.ProjectLink(context.Background(), link))
	require.Len(t, w.statements, 1)

	params := w.statements[0].Params
	assert.Equal(t, "g1", params["golden_id"])
	assert.Equal(t, "s1", params["source_id"])
	assert.Equal(t, "POSSIBLE_MATCH", params["match_outcome"])
	assert.Equal(t, "AUTO", params["link_source"])
	assert.Equal(t, 3, params["version"])
	assert.Contains(t, w.statements[0].Cypher, "MERGE (g)-[r:LINKED]->(s)")
}

func TestProjector_RemoveLinksAndResources(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProjector(w)
	ctx := context.Background()

	require.NoError(t, p.RemoveLinks(ctx, []models.LinkKey{{GoldenID: "g1", SourceID: "s1"}}))
	require.NoError(t, p.RemoveResources(ctx, []string{"g1"}))
	require.Len(t, w.statements, 2)

	pairs := w.statements[0].Params["pairs"].([]map[string]any)
	assert.Equal(t, []map[string]any{{"golden_id": "g1", "source_id": "s1"}}, pairs)
	assert.Equal(t, []string{"g1"}, w.statements[1].Params["ids"])
	assert.Contains(t, w.statements[1].Cypher, "DETACH DELETE")
}

func TestProjector_EmptyInputsSkipWrites(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProjector(w)

	require.NoError(t, p.RemoveLinks(context.Background(), nil))
	require.NoError(t, p.RemoveResources(context.Background(), []string{}))
	assert.Empty(t, w.statements)
}

func TestProjector_NilIsNoop(t *testing.T) {
	var p *Projector
	assert.NoError(t, p.ProjectGolden(context.Background(), &models.Resource{ID: "g1"}))
	assert.NoError(t, p.RemoveResources(context.Background(), []string{"g1"}))
}

func TestProjector_WriteError(t *testing.T) {
	p := newTestProjector(&recordingWriter{err: errors.New("bolt: connection refused")})
	err := p.ProjectGolden(context.Background(), &models.Resource{ID: "g1", MDMManaged: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
