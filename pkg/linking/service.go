// Package linking asserts links between golden records and source resources, runs automatic
// matching for new sources, and cascades source deletions.
package linking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/golden"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/outcome"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Service owns every link mutation outside a clear
type Service struct {
	logger    ectologger.Logger
	links     *link.Repository
	resources *resource.Repository
	registry  *resourcetype.Registry
	golden    *golden.Manager
	locker    keylock.Locker
	matcher   Matcher
	emitter   *events.Emitter
	projector *graph.Projector
}

// NewService creates a new linking service. emitter and projector may be nil.
func NewService(
	logger ectologger.Logger,
	links *link.Repository,
	resources *resource.Repository,
	registry *resourcetype.Registry,
	goldenManager *golden.Manager,
	locker keylock.Locker,
	matcher Matcher,
	emitter *events.Emitter,
	projector *graph.Projector,
) *Service {
	return &Service{
		logger:    logger,
		links:     links,
		resources: resources,
		registry:  registry,
		golden:    goldenManager,
		locker:    locker,
		matcher:   matcher,
		emitter:   emitter,
		projector: projector,
	}
}

// assertion is one requested link state
type assertion struct {
	golden     *models.Resource
	source     *models.Resource
	outcome    models.MatchOutcome
	linkSource models.LinkSource
	score      *float64
	// keepManual leaves an existing MANUAL link untouched
	keepManual bool
}

// CreateOrUpdateLink sets the outcome of the link between a golden record and a source.
// Requests for the same pair are serialized. A NO_MATCH outcome removes the link, and the
// golden record with it when it has no links left. The link source defaults to MANUAL.
func (s *Service) CreateOrUpdateLink(ctx context.Context, req models.LinkRequest) (*models.LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.CreateOrUpdateLink")
	defer span.End()

	next, err := outcome.Parse(string(req.MatchOutcome))
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	linkSource := req.LinkSource
	if linkSource == "" {
		linkSource = models.LinkSourceManual
	}
	if !outcome.ValidLinkSource(linkSource) {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown link source: %s", linkSource))
	}
	if req.GoldenID == req.SourceID {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "a resource cannot be linked to itself")
	}

	goldenRecord, err := s.resources.Get(ctx, req.GoldenID)
	if err != nil {
		return nil, err
	}
	if !goldenRecord.IsGolden() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("resource %s is not a golden record", req.GoldenID))
	}
	source, err := s.resources.Get(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.ValidateForLinking(source.ResourceType); err != nil {
		return nil, err
	}

	return s.apply(ctx, assertion{
		golden:     goldenRecord,
		source:     source,
		outcome:    next,
		linkSource: linkSource,
		score:      req.Score,
	})
}

// apply runs one assertion under the pair's lock and in its own transaction, then publishes the change.
func (s *Service) apply(ctx context.Context, a assertion) (*models.LinkResult, error) {
	key := models.LinkKey{GoldenID: a.golden.ID, SourceID: a.source.ID}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"golden_id":     key.GoldenID,
		"source_id":     key.SourceID,
		"match_outcome": a.outcome,
		"link_source":   a.linkSource,
	})

	var (
		result  = &models.LinkResult{Action: string(outcome.ActionNoop)}
		removed []models.Link
		orphans []models.Resource
	)

	waitStart := time.Now()
	err := keylock.WithLock(ctx, s.locker, key.String(), func(ctx context.Context) error {
		metrics.RecordLockWait(time.Since(waitStart).Seconds())

		return s.links.DB().WithTx(ctx, nil, func(ctx context.Context) error {
			// Both ends stay locked until commit so a concurrent orphan sweep cannot delete the
			// golden record underneath a new link.
			if err := s.lockEnds(ctx, &a); err != nil {
				return err
			}

			current, err := s.links.Get(ctx, key.GoldenID, key.SourceID)
			if err != nil {
				if !httperror.IsNotFound(err) {
					return err
				}
				current = nil
			}

			if a.keepManual && current != nil && current.LinkSource == models.LinkSourceManual {
				result.Link = current
				return nil
			}

			action := outcome.Transition(current, a.outcome, a.linkSource)
			result.Action = string(action)

			switch action {
			case outcome.ActionCreate, outcome.ActionUpdate:
				result.Link, err = s.links.CreateOrUpdate(ctx, &models.Link{
					GoldenID:     key.GoldenID,
					SourceID:     key.SourceID,
					SourceType:   a.source.ResourceType,
					SourceGolden: a.source.IsGolden(),
					MatchOutcome: a.outcome,
					LinkSource:   a.linkSource,
					Score:        a.score,
				})
				return err
			case outcome.ActionDelete:
				if _, err := s.links.Delete(ctx, key.GoldenID, key.SourceID); err != nil {
					return err
				}
				removed = append(removed, *current)

				candidates := []string{key.GoldenID}
				if a.source.IsGolden() {
					candidates = append(candidates, key.SourceID)
				}
				orphans, err = s.golden.DeleteOrphans(ctx, candidates)
				if err != nil {
					return err
				}
				result.GoldenRemoved = ectolinq.Any(orphans, func(r models.Resource) bool { return r.ID == key.GoldenID })
				return nil
			}

			result.Link = current
			return nil
		})
	})
	if err != nil {
		log.WithError(err).Error("Failed to apply link")
		return nil, err
	}

	metrics.RecordLinkChange(result.Action, string(a.outcome), string(a.linkSource))
	switch result.Action {
	case string(outcome.ActionCreate), string(outcome.ActionUpdate):
		_ = s.emitter.EmitLinkUpserted(ctx, result.Link)
		_ = s.projector.ProjectLink(ctx, result.Link)
	case string(outcome.ActionDelete):
		s.announceRemoved(ctx, removed, orphans)
	}

	log.WithField("action", result.Action).Info("Applied link")
	return result, nil
}

// lockEnds re-reads both resources of a link under row locks and replaces the copies read
// before the transaction. A resource deleted in the meantime is a 404.
func (s *Service) lockEnds(ctx context.Context, a *assertion) error {
	locked, err := s.resources.Lock(ctx, []string{a.golden.ID, a.source.ID})
	if err != nil {
		return err
	}
	for _, id := range []string{a.golden.ID, a.source.ID} {
		if _, ok := locked[id]; !ok {
			return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resource %s not found", id))
		}
	}
	a.golden, a.source = locked[a.golden.ID], locked[a.source.ID]
	return nil
}

// FindLinksByTarget returns every link whose golden side is goldenID
func (s *Service) FindLinksByTarget(ctx context.Context, goldenID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.FindLinksByTarget")
	defer span.End()

	return s.links.FindByGolden(ctx, goldenID)
}

// FindLinksBySource returns every link whose source side is sourceID
func (s *Service) FindLinksBySource(ctx context.Context, sourceID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.FindLinksBySource")
	defer span.End()

	return s.links.FindBySource(ctx, sourceID)
}

// ListLinks returns links matching filter with the unpaged total
func (s *Service) ListLinks(ctx context.Context, filter models.LinkFilter) (*models.LinkListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.ListLinks")
	defer span.End()

	if filter.MatchOutcome != "" {
		parsed, err := outcome.Parse(string(filter.MatchOutcome))
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.MatchOutcome = parsed
	}

	items, total, err := s.links.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.LinkListResponse{Items: items, TotalCount: total}, nil
}

// CreateResource stores a new source resource and links it into the graph
func (s *Service) CreateResource(ctx context.Context, req models.CreateResourceRequest) (*models.CreateResourceResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.CreateResource")
	defer span.End()

	if err := s.registry.ValidateForLinking(req.ResourceType); err != nil {
		return nil, err
	}

	source, err := s.resources.Create(ctx, &models.Resource{
		ID:           req.ID,
		ResourceType: req.ResourceType,
		Data:         req.Data,
	})
	if err != nil {
		return nil, err
	}

	links, goldenCreated, err := s.UpdateLinksForSource(ctx, source)
	if err != nil {
		return nil, err
	}

	return &models.CreateResourceResponse{
		Resource:      *source,
		Links:         links,
		GoldenCreated: goldenCreated,
	}, nil
}

// UpdateLinksForSource matches source against every golden record of its type and stores an
// AUTO link for each candidate that is at least a POSSIBLE_MATCH. When nothing matches, a new
// golden record is created for the source. MANUAL links are never overwritten.
func (s *Service) UpdateLinksForSource(ctx context.Context, source *models.Resource) ([]models.Link, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.UpdateLinksForSource")
	defer span.End()

	if source.IsGolden() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("resource %s is a golden record", source.ID))
	}

	store, err := s.registry.StoreFor(source.ResourceType)
	if err != nil {
		return nil, false, err
	}
	candidates, err := store.SearchManaged(ctx)
	if err != nil {
		return nil, false, err
	}

	links := []models.Link{}
	for i := range candidates {
		candidate := &candidates[i]
		matched := s.matcher.Match(ctx, source, candidate)
		if !outcome.Persisted(matched.Outcome) {
			continue
		}

		score := matched.Score
		result, err := s.apply(ctx, assertion{
			golden:     candidate,
			source:     source,
			outcome:    matched.Outcome,
			linkSource: models.LinkSourceAuto,
			score:      &score,
			keepManual: true,
		})
		if err != nil {
			return nil, false, err
		}
		if result.Link != nil {
			links = append(links, *result.Link)
		}
	}

	if len(links) > 0 {
		return links, false, nil
	}

	_, created, err := s.golden.CreateGoldenRecordFor(ctx, source)
	if err != nil {
		return nil, false, err
	}
	return []models.Link{*created}, true, nil
}

// DeleteSourceEntity deletes a resource together with every link referencing it, then deletes
// the golden records those links leave without links. It all commits together.
func (s *Service) DeleteSourceEntity(ctx context.Context, id string) (*models.DeleteResourceResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.DeleteSourceEntity")
	defer span.End()

	var (
		removed []models.Link
		orphans []models.Resource
	)
	err := s.links.DB().WithTx(ctx, nil, func(ctx context.Context) error {
		linked, err := s.links.FindByEntity(ctx, id)
		if err != nil {
			return err
		}
		// lock the resource and its golden records in one id-ordered pass, the order apply uses
		locked, err := s.resources.Lock(ctx, append([]string{id}, touchedGoldens(linked, id)...))
		if err != nil {
			return err
		}
		if _, ok := locked[id]; !ok {
			return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resource %s not found", id))
		}

		// links cannot be added to a locked resource, so this read is final
		removed, err = s.links.FindByEntity(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.links.DeleteByEntity(ctx, id); err != nil {
			return err
		}
		if err := s.resources.Delete(ctx, id); err != nil {
			return err
		}

		orphans, err = s.golden.DeleteOrphans(ctx, touchedGoldens(removed, id))
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = s.projector.RemoveResources(ctx, []string{id})
	s.announceRemoved(ctx, removed, orphans)

	response := &models.DeleteResourceResponse{
		ResourceID:           id,
		LinksRemoved:         len(removed),
		GoldenRecordsRemoved: ectolinq.Map(orphans, func(r models.Resource) string { return r.ID }),
	}
	if response.GoldenRecordsRemoved == nil {
		response.GoldenRecordsRemoved = []string{}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"resource_id":            id,
		"links_removed":          response.LinksRemoved,
		"golden_records_removed": len(response.GoldenRecordsRemoved),
	}).Info("Deleted resource")
	return response, nil
}

func (s *Service) announceRemoved(ctx context.Context, removed []models.Link, orphans []models.Resource) {
	for i := range removed {
		_ = s.emitter.EmitLinkDeleted(ctx, &removed[i])
	}
	_ = s.projector.RemoveLinks(ctx, ectolinq.Map(removed, func(l models.Link) models.LinkKey { return l.Key() }))
	s.golden.Announce(ctx, orphans)
	for _, o := range orphans {
		metrics.RecordGoldenRemoved(o.ResourceType, 1)
	}
}

// touchedGoldens returns the golden records on the far side of removed links, excluding deletedID
func touchedGoldens(removed []models.Link, deletedID string) []string {
	ids := []string{}
	for _, l := range removed {
		if l.GoldenID != deletedID {
			ids = append(ids, l.GoldenID)
		}
		if l.SourceGolden && l.SourceID != deletedID {
			ids = append(ids, l.SourceID)
		}
	}
	return ectolinq.Distinct(ids)
}
