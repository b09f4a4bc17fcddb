package golden

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/internal/testutil"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
)

type fixture struct {
	links     *link.Repository
	resources *resource.Repository
	recorder  *testutil.Recorder
	manager   *Manager
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

	return &fixture{
		links:     links,
		resources: resources,
		recorder:  recorder,
		manager:   NewManager(logger, links, resources, registry, events.NewEmitter(recorder, logger), nil),
	}
}

func (f *fixture) createResource(t *testing.T, kind string, golden bool) *models.Resource {
	t.Helper()
	r, err := f.resources.Create(context.Background(), &models.Resource{
		ResourceType: kind,
		MDMManaged:   golden,
		Data:         []byte(`{"family":"Doe"}`),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) link(t *testing.T, golden, source *models.Resource) {
	t.Helper()
	_, err := f.links.CreateOrUpdate(context.Background(), &models.Link{
		GoldenID:     golden.ID,
		SourceID:     source.ID,
		SourceType:   source.ResourceType,
		SourceGolden: source.IsGolden(),
		MatchOutcome: models.MatchOutcomeMatch,
		LinkSource:   models.LinkSourceAuto,
	})
	require.NoError(t, err)
}

func TestManager_CreateGoldenRecordFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.createResource(t, "Patient", false)

	golden, created, err := f.manager.CreateGoldenRecordFor(ctx, source)
	require.NoError(t, err)

	assert.True(t, golden.MDMManaged)
	assert.Equal(t, "Patient", golden.ResourceType)
	assert.JSONEq(t, `{"family":"Doe"}`, string(golden.Data))

	assert.Equal(t, golden.ID, created.GoldenID)
	assert.Equal(t, source.ID, created.SourceID)
	assert.Equal(t, models.MatchOutcomeMatch, created.MatchOutcome)
	assert.Equal(t, models.LinkSourceAuto, created.LinkSource)
	assert.False(t, created.SourceGolden)

	managed, err := f.resources.SearchManaged(ctx, "Patient")
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, golden.ID, managed[0].ID)

	assert.Equal(t, []string{"golden.created", "link.upserted"}, f.recorder.Types())
}

func TestManager_CreateGoldenRecordForRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("golden source", func(t *testing.T) {
		golden := f.createResource(t, "Patient", true)
		_, _, err := f.manager.CreateGoldenRecordFor(ctx, golden)
		require.Error(t, err)
		assert.True(t, httperror.IsBadRequest(err))
	})

	t.Run("unsupported type", func(t *testing.T) {
		observation := f.createResource(t, "Observation", false)
		_, _, err := f.manager.CreateGoldenRecordFor(ctx, observation)
		require.Error(t, err)
		assert.True(t, httperror.IsBadRequest(err))
	})

	assert.Empty(t, f.recorder.Types())
}

func TestManager_DeleteIfOrphaned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.createResource(t, "Patient", false)
	golden, _, err := f.manager.CreateGoldenRecordFor(ctx, source)
	require.NoError(t, err)

	deleted, err := f.manager.DeleteIfOrphaned(ctx, golden.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "linked golden record must survive")

	_, err = f.links.Delete(ctx, golden.ID, source.ID)
	require.NoError(t, err)

	deleted, err = f.manager.DeleteIfOrphaned(ctx, golden.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.resources.Get(ctx, golden.ID)
	assert.True(t, httperror.IsNotFound(err))

	managed, err := f.resources.SearchManaged(ctx, "Patient")
	require.NoError(t, err)
	assert.Empty(t, managed)

	_, err = f.resources.Get(ctx, source.ID)
	assert.NoError(t, err, "source resources are never deleted as orphans")

	assert.Contains(t, f.recorder.Types(), "golden.deleted")
}

func TestManager_DeleteIfOrphanedCountsBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createResource(t, "Patient", true)
	child := f.createResource(t, "Patient", true)
	f.link(t, parent, child)

	deleted, err := f.manager.DeleteIfOrphaned(ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "a golden record that is the source of a link is not orphaned")

	deleted, err = f.manager.DeleteIfOrphaned(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestManager_DeleteOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphanPatient := f.createResource(t, "Patient", true)
	orphanPractitioner := f.createResource(t, "Practitioner", true)
	linked := f.createResource(t, "Patient", true)
	source := f.createResource(t, "Patient", false)
	f.link(t, linked, source)

	removed, err := f.manager.DeleteOrphans(ctx, []string{
		orphanPatient.ID, orphanPractitioner.ID, orphanPatient.ID, linked.ID, source.ID, "missing",
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{orphanPatient.ID, orphanPractitioner.ID}, ids)

	_, err = f.resources.Get(ctx, linked.ID)
	assert.NoError(t, err)
	_, err = f.resources.Get(ctx, source.ID)
	assert.NoError(t, err)

	assert.Empty(t, f.recorder.Types(), "DeleteOrphans leaves announcements to the caller")
	f.manager.Announce(ctx, removed)
	assert.Equal(t, []string{"golden.deleted", "golden.deleted"}, f.recorder.Types())
}

func TestManager_DeleteOrphansEmpty(t *testing.T) {
	f := newFixture(t)
	removed, err := f.manager.DeleteOrphans(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
