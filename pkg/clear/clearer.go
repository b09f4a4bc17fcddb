// Package clear removes links in bulk, optionally for one resource type, and deletes the golden
// records left without links. A clear is all-or-nothing.
package clear

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/golden"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Config tunes the clear transaction
type Config struct {
	Isolation sql.IsolationLevel
	// Timeout bounds the whole transaction. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Clearer runs $mdm-clear
type Clearer struct {
	logger    ectologger.Logger
	links     *link.Repository
	registry  *resourcetype.Registry
	golden    *golden.Manager
	emitter   *events.Emitter
	projector *graph.Projector
	config    Config
}

// NewClearer creates a new clearer. emitter and projector may be nil.
func NewClearer(
	logger ectologger.Logger,
	links *link.Repository,
	registry *resourcetype.Registry,
	goldenManager *golden.Manager,
	emitter *events.Emitter,
	projector *graph.Projector,
	config Config,
) *Clearer {
	return &Clearer{
		logger:    logger,
		links:     links,
		registry:  registry,
		golden:    goldenManager,
		emitter:   emitter,
		projector: projector,
		config:    config,
	}
}

// Clear removes every link when kind is nil. Otherwise it removes the links whose source has
// that type together with every golden-to-golden link. Golden records touched by a removed link
// and left with no links are then deleted. Nothing changes unless everything succeeds.
//
// Golden-to-golden links are cleared whatever their type, so a Patient clear also dissolves
// duplicate links between Practitioner golden records and may delete those records when the
// link was all they had. Practitioner links whose source is not golden are never touched.
func (c *Clearer) Clear(ctx context.Context, kind *string) (*models.ClearSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "clear.Clearer.Clear")
	defer span.End()

	scope := ""
	if kind != nil {
		scope = *kind
		if err := c.registry.Validate(scope); err != nil {
			return nil, err
		}
	}

	log := c.logger.WithContext(ctx).WithField("resource_type", scope)
	started := time.Now()

	txCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var (
		removed []models.Link
		orphans []models.Resource
	)
	err := c.links.DB().WithTx(txCtx, &sql.TxOptions{Isolation: c.config.Isolation}, func(ctx context.Context) error {
		var err error
		removed, err = c.links.FindInScope(ctx, scope)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}

		deleted, err := c.links.DeleteInScope(ctx, scope)
		if err != nil {
			return err
		}
		if int(deleted) != len(removed) {
			log.WithFields(map[string]any{
				"selected": len(removed),
				"deleted":  deleted,
			}).Warn("Deleted link count differs from selected count")
		}

		orphans, err = c.golden.DeleteOrphans(ctx, TouchedGoldens(removed))
		return err
	})
	if err != nil {
		metrics.RecordClear(scope, "error", time.Since(started).Seconds(), 0, 0)
		log.WithError(err).Error("Failed to clear links")
		return nil, err
	}

	summary := &models.ClearSummary{
		ResourceType:         scope,
		LinksRemoved:         len(removed),
		GoldenRecordsRemoved: len(orphans),
	}
	goldenIDs := ectolinq.Map(orphans, func(r models.Resource) string { return r.ID })

	metrics.RecordClear(scope, "success", time.Since(started).Seconds(), summary.LinksRemoved, summary.GoldenRecordsRemoved)
	_ = c.emitter.EmitLinksCleared(ctx, *summary, goldenIDs)
	_ = c.projector.RemoveLinks(ctx, ectolinq.Map(removed, func(l models.Link) models.LinkKey { return l.Key() }))
	c.golden.Announce(ctx, orphans)

	log.WithFields(map[string]any{
		"links_removed":          summary.LinksRemoved,
		"golden_records_removed": summary.GoldenRecordsRemoved,
		"duration_ms":            time.Since(started).Milliseconds(),
	}).Info("Cleared links")
	return summary, nil
}

// TouchedGoldens returns, without duplicates and in first-seen order, the golden side of every
// removed link plus the source side of removed golden-to-golden links.
func TouchedGoldens(removed []models.Link) []string {
	ids := make([]string, 0, len(removed))
	for _, l := range removed {
		ids = append(ids, l.GoldenID)
		if l.SourceGolden {
			ids = append(ids, l.SourceID)
		}
	}
	return ectolinq.Distinct(ids)
}
