// Package golden manages the lifecycle of golden records: creating one for an unmatched
// source and deleting the ones left without links.
package golden

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Manager creates and retires golden records
type Manager struct {
	logger    ectologger.Logger
	links     *link.Repository
	resources *resource.Repository
	registry  *resourcetype.Registry
	emitter   *events.Emitter
	projector *graph.Projector
}

// NewManager creates a new golden record manager. emitter and projector may be nil.
func NewManager(
	logger ectologger.Logger,
	links *link.Repository,
	resources *resource.Repository,
	registry *resourcetype.Registry,
	emitter *events.Emitter,
	projector *graph.Projector,
) *Manager {
	return &Manager{
		logger:    logger,
		links:     links,
		resources: resources,
		registry:  registry,
		emitter:   emitter,
		projector: projector,
	}
}

// CreateGoldenRecordFor creates a managed resource of the source's type seeded with the source's
// payload and links it to the source as MATCH/AUTO. Both writes commit together.
func (m *Manager) CreateGoldenRecordFor(ctx context.Context, source *models.Resource) (*models.Resource, *models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "golden.Manager.CreateGoldenRecordFor")
	defer span.End()

	if err := m.registry.ValidateForLinking(source.ResourceType); err != nil {
		return nil, nil, err
	}
	if source.IsGolden() {
		return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("resource %s is a golden record", source.ID))
	}

	var golden *models.Resource
	var created *models.Link
	err := m.links.DB().WithTx(ctx, nil, func(ctx context.Context) error {
		var err error
		golden, err = m.resources.Create(ctx, &models.Resource{
			ResourceType: source.ResourceType,
			MDMManaged:   true,
			Data:         source.Data,
		})
		if err != nil {
			return err
		}

		created, err = m.links.CreateOrUpdate(ctx, &models.Link{
			GoldenID:     golden.ID,
			SourceID:     source.ID,
			SourceType:   source.ResourceType,
			MatchOutcome: models.MatchOutcomeMatch,
			LinkSource:   models.LinkSourceAuto,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"golden_id":     golden.ID,
		"source_id":     source.ID,
		"resource_type": source.ResourceType,
	}).Info("Created golden record")

	metrics.RecordGoldenCreated(golden.ResourceType)
	_ = m.emitter.EmitGoldenCreated(ctx, golden, source.ID)
	_ = m.emitter.EmitLinkUpserted(ctx, created)
	_ = m.projector.ProjectGolden(ctx, golden)
	_ = m.projector.ProjectLink(ctx, created)

	return golden, created, nil
}

// DeleteIfOrphaned deletes goldenID when no link references it on either side.
// It reports whether the record was deleted.
func (m *Manager) DeleteIfOrphaned(ctx context.Context, goldenID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "golden.Manager.DeleteIfOrphaned")
	defer span.End()

	var removed []models.Resource
	err := m.links.DB().WithTx(ctx, nil, func(ctx context.Context) error {
		var err error
		removed, err = m.DeleteOrphans(ctx, []string{goldenID})
		return err
	})
	if err != nil {
		return false, err
	}

	m.Announce(ctx, removed)
	for _, golden := range removed {
		metrics.RecordGoldenRemoved(golden.ResourceType, 1)
	}
	return len(removed) > 0, nil
}

// DeleteOrphans deletes every golden record among ids that has no remaining links and returns
// the deleted records. It runs on the caller's transaction and emits nothing; call Announce
// after commit. Ids that are missing or not golden records are skipped.
func (m *Manager) DeleteOrphans(ctx context.Context, ids []string) ([]models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "golden.Manager.DeleteOrphans")
	defer span.End()

	ids = ectolinq.Distinct(ids)
	removed := []models.Resource{}
	if len(ids) == 0 {
		return removed, nil
	}

	// Lock before counting. A link being added to one of these records holds the same lock, so
	// the count below either includes it or the link request finds the record gone.
	locked, err := m.resources.Lock(ctx, ids)
	if err != nil {
		return nil, err
	}
	goldens := ectolinq.Filter(ids, func(id string) bool {
		r, ok := locked[id]
		return ok && r.IsGolden()
	})
	if len(goldens) == 0 {
		return removed, nil
	}

	counts, err := m.links.CountForEntities(ctx, goldens)
	if err != nil {
		return nil, err
	}

	for _, id := range goldens {
		if counts[id] > 0 {
			continue
		}

		golden := locked[id]
		if err := m.deleteGolden(ctx, golden); err != nil {
			return nil, err
		}
		removed = append(removed, *golden)
	}

	if len(removed) > 0 {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"candidates": len(ids),
			"removed":    len(removed),
		}).Info("Deleted orphaned golden records")
	}
	return removed, nil
}

// Announce publishes deletions returned by DeleteOrphans once their transaction has committed.
// Failures are logged and never undo the deletion.
func (m *Manager) Announce(ctx context.Context, removed []models.Resource) {
	if len(removed) == 0 {
		return
	}
	for _, golden := range removed {
		_ = m.emitter.EmitGoldenDeleted(ctx, golden.ID, golden.ResourceType)
	}
	_ = m.projector.RemoveResources(ctx, ectolinq.Map(removed, func(r models.Resource) string { return r.ID }))
}

// deleteGolden deletes through the store registered for the record's type.
func (m *Manager) deleteGolden(ctx context.Context, golden *models.Resource) error {
	store, err := m.registry.StoreFor(golden.ResourceType)
	if err != nil {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"golden_id":     golden.ID,
			"resource_type": golden.ResourceType,
		}).Warn("No store registered for golden record type, deleting directly")
		return m.resources.Delete(ctx, golden.ID)
	}
	return store.Delete(ctx, golden.ID)
}
