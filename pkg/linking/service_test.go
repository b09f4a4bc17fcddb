package linking

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/internal/testutil"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/golden"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/outcome"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
)

type fixture struct {
	links     *link.Repository
	resources *resource.Repository
	recorder  *testutil.Recorder
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewSQLite(t)
	logger := testutil.Logger()
	links := link.NewRepository(db, logger)
	resources := resource.NewRepository(db, logger)
	registry := resourcetype.NewRegistry([]string{"Patient", "Practitioner"}, func(kind string) resourcetype.Store {
		return resources.Scoped(kind)
	})
	recorder := &testutil.Recorder{}
	emitter := events.NewEmitter(recorder, logger)
	manager := golden.NewManager(logger, links, resources, registry, emitter, nil)
	matcher, err := NewFieldMatcher([]string{"family", "given", "birthDate"})
	require.NoError(t, err)

	return &fixture{
		links:     links,
		resources: resources,
		recorder:  recorder,
		service: NewService(logger, links, resources, registry, manager, keylock.NewLocal(),
			matcher, emitter, nil),
	}
}

func (f *fixture) create(t *testing.T, kind string, golden bool, data string) *models.Resource {
	t.Helper()
	r, err := f.resources.Create(context.Background(), &models.Resource{ResourceType: kind, MDMManaged: golden, Data: []byte(data)})
	require.NoError(t, err)
	return r
}

const jane = `{"family":"Doe","given":"Jane","birthDate":"1990-01-01"}`

func TestService_CreateOrUpdateLinkUpsertsOneLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)

	first, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{
		GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomePossibleMatch, LinkSource: models.LinkSourceAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, string(outcome.ActionCreate), first.Action)

	second, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{
		GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeMatch,
	})
	require.NoError(t, err)
	assert.Equal(t, string(outcome.ActionUpdate), second.Action)
	assert.Equal(t, models.MatchOutcomeMatch, second.Link.MatchOutcome)
	assert.Equal(t, models.LinkSourceManual, second.Link.LinkSource, "link source defaults to MANUAL")
	assert.Equal(t, first.Link.ID, second.Link.ID)

	byTarget, err := f.service.FindLinksByTarget(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, models.MatchOutcomeMatch, byTarget[0].MatchOutcome)

	bySource, err := f.service.FindLinksBySource(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	again, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{
		GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeMatch,
	})
	require.NoError(t, err)
	assert.Equal(t, string(outcome.ActionNoop), again.Action)
	assert.Equal(t, second.Link.Version, again.Link.Version)

	assert.Equal(t, []string{"link.upserted", "link.upserted"}, f.recorder.Types())
}

func TestService_CreateOrUpdateLinkConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)

	outcomes := []models.MatchOutcome{
		models.MatchOutcomePossibleMatch,
		models.MatchOutcomePossibleDuplicate,
		models.MatchOutcomeMatch,
	}

	var eg errgroup.Group
	for i := 0; i < 12; i++ {
		next := outcomes[i%len(outcomes)]
		eg.Go(func() error {
			_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{
				GoldenID: g.ID, SourceID: s.ID, MatchOutcome: next, LinkSource: models.LinkSourceAuto,
			})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	links, err := f.service.FindLinksByTarget(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, outcome.Persisted(links[0].MatchOutcome))
}

func TestService_CreateOrUpdateLinkNoMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("removes the link and the orphaned golden record", func(t *testing.T) {
		g := f.create(t, "Patient", true, jane)
		s := f.create(t, "Patient", false, jane)
		_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeMatch})
		require.NoError(t, err)

		result, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: "no_match"})
		require.NoError(t, err)
		assert.Equal(t, string(outcome.ActionDelete), result.Action)
		assert.Nil(t, result.Link)
		assert.True(t, result.GoldenRemoved)

		_, err = f.resources.Get(ctx, g.ID)
		assert.True(t, httperror.IsNotFound(err))
		_, err = f.resources.Get(ctx, s.ID)
		assert.NoError(t, err)
	})

	t.Run("keeps a golden record with other links", func(t *testing.T) {
		g := f.create(t, "Patient", true, jane)
		s1 := f.create(t, "Patient", false, jane)
		s2 := f.create(t, "Patient", false, jane)
		for _, s := range []*models.Resource{s1, s2} {
			_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeMatch})
			require.NoError(t, err)
		}

		result, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s1.ID, MatchOutcome: models.MatchOutcomeNoMatch})
		require.NoError(t, err)
		assert.False(t, result.GoldenRemoved)

		_, err = f.resources.Get(ctx, g.ID)
		assert.NoError(t, err)
	})

	t.Run("without a link is a no-op", func(t *testing.T) {
		g := f.create(t, "Patient", true, jane)
		s := f.create(t, "Patient", false, jane)

		result, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeNoMatch})
		require.NoError(t, err)
		assert.Equal(t, string(outcome.ActionNoop), result.Action)
		assert.Nil(t, result.Link)

		_, err = f.resources.Get(ctx, g.ID)
		assert.NoError(t, err, "a no-op never deletes the golden record")
	})
}

func TestService_ApplyAfterGoldenDeletedIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)
	require.NoError(t, f.resources.Delete(ctx, g.ID))

	_, err := f.service.apply(ctx, assertion{
		golden:     g,
		source:     s,
		outcome:    models.MatchOutcomeMatch,
		linkSource: models.LinkSourceManual,
	})
	require.Error(t, err)
	assert.True(t, httperror.IsNotFound(err))

	links, err := f.links.FindBySource(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.Empty(t, f.recorder.Types())
}

// Removing a golden record's last link races a new link to the same record. Either the new link
// lands first and the record survives with it, or the record is gone and the new link is a 404.
func TestService_LastLinkRemovalRacesNewLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		g := f.create(t, "Patient", true, jane)
		s1 := f.create(t, "Patient", false, jane)
		s2 := f.create(t, "Patient", false, jane)
		_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s1.ID, MatchOutcome: models.MatchOutcomeMatch})
		require.NoError(t, err)

		var linkErr error
		var race errgroup.Group
		race.Go(func() error {
			_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s1.ID, MatchOutcome: models.MatchOutcomeNoMatch})
			return err
		})
		race.Go(func() error {
			_, linkErr = f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s2.ID, MatchOutcome: models.MatchOutcomeMatch})
			return nil
		})
		require.NoError(t, race.Wait())

		links, err := f.links.FindBySource(ctx, s2.ID)
		require.NoError(t, err)
		_, getErr := f.resources.Get(ctx, g.ID)

		if linkErr == nil {
			require.NoError(t, getErr)
			require.Len(t, links, 1)
			assert.Equal(t, g.ID, links[0].GoldenID)
		} else {
			assert.True(t, httperror.IsNotFound(linkErr), linkErr.Error())
			assert.True(t, httperror.IsNotFound(getErr))
			assert.Empty(t, links)
		}
	}
}

func TestService_CreateOrUpdateLinkValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)
	observation := f.create(t, "Observation", false, `{}`)

	tests := []struct {
		name       string
		req        models.LinkRequest
		badRequest bool
		notFound   bool
	}{
		{name: "unknown outcome", req: models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: "MAYBE"}, badRequest: true},
		{name: "unknown link source", req: models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: "MATCH", LinkSource: "ROBOT"}, badRequest: true},
		{name: "self link", req: models.LinkRequest{GoldenID: g.ID, SourceID: g.ID, MatchOutcome: "MATCH"}, badRequest: true},
		{name: "target is not golden", req: models.LinkRequest{GoldenID: s.ID, SourceID: g.ID, MatchOutcome: "MATCH"}, badRequest: true},
		{name: "unsupported source type", req: models.LinkRequest{GoldenID: g.ID, SourceID: observation.ID, MatchOutcome: "MATCH"}, badRequest: true},
		{name: "missing golden", req: models.LinkRequest{GoldenID: "missing", SourceID: s.ID, MatchOutcome: "MATCH"}, notFound: true},
		{name: "missing source", req: models.LinkRequest{GoldenID: g.ID, SourceID: "missing", MatchOutcome: "MATCH"}, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateOrUpdateLink(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.badRequest, httperror.IsBadRequest(err))
			assert.Equal(t, tt.notFound, httperror.IsNotFound(err))
		})
	}

	links, err := f.links.FindByEntity(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestService_CreateResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateResource(ctx, models.CreateResourceRequest{ResourceType: "Patient", Data: []byte(jane)})
	require.NoError(t, err)
	assert.True(t, first.GoldenCreated)
	require.Len(t, first.Links, 1)
	goldenID := first.Links[0].GoldenID

	second, err := f.service.CreateResource(ctx, models.CreateResourceRequest{ResourceType: "Patient", Data: []byte(jane)})
	require.NoError(t, err)
	assert.False(t, second.GoldenCreated)
	require.Len(t, second.Links, 1)
	assert.Equal(t, goldenID, second.Links[0].GoldenID)
	assert.Equal(t, models.MatchOutcomeMatch, second.Links[0].MatchOutcome)
	assert.Equal(t, models.LinkSourceAuto, second.Links[0].LinkSource)

	partial, err := f.service.CreateResource(ctx, models.CreateResourceRequest{
		ResourceType: "Patient",
		Data:         []byte(`{"family":"Doe","given":"John","birthDate":"1970-02-02"}`),
	})
	require.NoError(t, err)
	require.Len(t, partial.Links, 1)
	assert.Equal(t, models.MatchOutcomePossibleMatch, partial.Links[0].MatchOutcome)

	stranger, err := f.service.CreateResource(ctx, models.CreateResourceRequest{
		ResourceType: "Patient",
		Data:         []byte(`{"family":"Roe","given":"Richard","birthDate":"1950-03-03"}`),
	})
	require.NoError(t, err)
	assert.True(t, stranger.GoldenCreated)
	assert.NotEqual(t, goldenID, stranger.Links[0].GoldenID)

	managed, err := f.resources.SearchManaged(ctx, "Patient")
	require.NoError(t, err)
	assert.Len(t, managed, 2)
}

func TestService_CreateResourceRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateResource(context.Background(), models.CreateResourceRequest{ResourceType: "Observation", Data: []byte(`{}`)})
	require.Error(t, err)
	assert.True(t, httperror.IsBadRequest(err))

	sources, err := f.resources.SearchSources(context.Background(), "Observation")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestService_UpdateLinksForSourceKeepsManualLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)

	_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{
		GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomePossibleDuplicate, LinkSource: models.LinkSourceManual,
	})
	require.NoError(t, err)

	links, created, err := f.service.UpdateLinksForSource(ctx, s)
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, links, 1)
	assert.Equal(t, models.MatchOutcomePossibleDuplicate, links[0].MatchOutcome)
	assert.Equal(t, models.LinkSourceManual, links[0].LinkSource)
}

func TestService_DeleteSourceEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateResource(ctx, models.CreateResourceRequest{ResourceType: "Patient", Data: []byte(jane)})
	require.NoError(t, err)
	goldenID := created.Links[0].GoldenID
	sourceID := created.Resource.ID

	other, err := f.service.CreateResource(ctx, models.CreateResourceRequest{ResourceType: "Patient", Data: []byte(jane)})
	require.NoError(t, err)
	require.Equal(t, goldenID, other.Links[0].GoldenID)

	first, err := f.service.DeleteSourceEntity(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.LinksRemoved)
	assert.Empty(t, first.GoldenRecordsRemoved, "golden record still has a source")

	_, err = f.resources.Get(ctx, goldenID)
	require.NoError(t, err)

	second, err := f.service.DeleteSourceEntity(ctx, other.Resource.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{goldenID}, second.GoldenRecordsRemoved)

	_, err = f.resources.Get(ctx, goldenID)
	assert.True(t, httperror.IsNotFound(err))
	_, err = f.resources.Get(ctx, other.Resource.ID)
	assert.True(t, httperror.IsNotFound(err))

	remaining, err := f.links.FindByEntity(ctx, goldenID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Contains(t, f.recorder.Types(), "golden.deleted")
	assert.Contains(t, f.recorder.Types(), "link.deleted")
}

func TestService_DeleteSourceEntityNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.DeleteSourceEntity(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, httperror.IsNotFound(err))
}

func TestService_ListLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Patient", true, jane)
	s := f.create(t, "Patient", false, jane)
	_, err := f.service.CreateOrUpdateLink(ctx, models.LinkRequest{GoldenID: g.ID, SourceID: s.ID, MatchOutcome: models.MatchOutcomeMatch})
	require.NoError(t, err)

	list, err := f.service.ListLinks(ctx, models.LinkFilter{MatchOutcome: "match"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)

	_, err = f.service.ListLinks(ctx, models.LinkFilter{MatchOutcome: "sometimes"})
	require.Error(t, err)
	assert.True(t, httperror.IsBadRequest(err))
}
