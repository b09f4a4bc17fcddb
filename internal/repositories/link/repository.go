package link

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "mdm_links"

var columns = []string{
	"id", "golden_id", "source_id", "source_type", "source_golden",
	"match_outcome", "link_source", "score", "version", "created_at", "updated_at",
}

// Repository is the link record store. Every method runs on the transaction carried by ctx, if any.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new link repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// FindByGolden returns every link whose golden (target) side is goldenID
func (r *Repository) FindByGolden(ctx context.Context, goldenID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindByGolden")
	defer span.End()

	sb := r.selectLinks()
	sb.Where(sb.Equal("golden_id", goldenID))
	return r.selectAll(ctx, sb, "Failed to find links by golden record")
}

// FindBySource returns every link whose source side is sourceID
func (r *Repository) FindBySource(ctx context.Context, sourceID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindBySource")
	defer span.End()

	sb := r.selectLinks()
	sb.Where(sb.Equal("source_id", sourceID))
	return r.selectAll(ctx, sb, "Failed to find links by source")
}

// FindByEntity returns every link with entityID on either side
func (r *Repository) FindByEntity(ctx context.Context, entityID string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindByEntity")
	defer span.End()

	sb := r.selectLinks()
	sb.Where(sb.Or(sb.Equal("golden_id", entityID), sb.Equal("source_id", entityID)))
	return r.selectAll(ctx, sb, "Failed to find links by entity")
}

// Get returns the link for (goldenID, sourceID)
func (r *Repository) Get(ctx context.Context, goldenID, sourceID string) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Get")
	defer span.End()

	sb := r.selectLinks()
	sb.Where(sb.Equal("golden_id", goldenID), sb.Equal("source_id", sourceID))

	query, args := sb.Build()
	var link models.Link
	if err := r.db.From(ctx).GetContext(ctx, &link, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("link %s -> %s not found", goldenID, sourceID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get link")
	}

	return &link, nil
}

// CreateOrUpdate upserts the link keyed by (GoldenID, SourceID) and returns the stored row.
// An existing link keeps its ID and creation time; outcome, source and score are replaced.
func (r *Repository) CreateOrUpdate(ctx context.Context, link *models.Link) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.CreateOrUpdate")
	defer span.End()

	now := time.Now().UTC()
	id := link.ID
	if id == "" {
		id = uuid.New().String()
	}

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(id, link.GoldenID, link.SourceID, link.SourceType, link.SourceGolden,
		string(link.MatchOutcome), string(link.LinkSource), link.Score, 1, now, now)
	database.OnConflictUpdate(ib, []string{"golden_id", "source_id"},
		database.SetExcluded("match_outcome"),
		database.SetExcluded("link_source"),
		database.SetExcluded("score"),
		database.SetExcluded("updated_at"),
		"version = "+table+".version + 1",
	)

	query, args := ib.Build()
	if _, err := r.db.From(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"golden_id": link.GoldenID,
			"source_id": link.SourceID,
		}).Error("Failed to upsert link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save link")
	}

	stored, err := r.Get(ctx, link.GoldenID, link.SourceID)
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"golden_id":     stored.GoldenID,
		"source_id":     stored.SourceID,
		"match_outcome": stored.MatchOutcome,
		"link_source":   stored.LinkSource,
		"version":       stored.Version,
	}).Debug("Saved link")
	return stored, nil
}

// Delete removes the link for (goldenID, sourceID) and reports whether one existed
func (r *Repository) Delete(ctx context.Context, goldenID, sourceID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Delete")
	defer span.End()

	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("golden_id", goldenID), db.Equal("source_id", sourceID))

	rows, err := r.exec(ctx, db, "Failed to delete link")
	return rows > 0, err
}

// FindInScope returns the links a clear of kind removes: links whose source has the kind plus
// every golden-to-golden link. An empty kind selects every link.
func (r *Repository) FindInScope(ctx context.Context, kind string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindInScope")
	defer span.End()

	sb := r.selectLinks()
	if kind != "" {
		sb.Where(inScope(&sb.Cond, kind))
	}
	return r.selectAll(ctx, sb, "Failed to find links in scope")
}

// DeleteInScope removes the links FindInScope selects and returns how many were removed.
func (r *Repository) DeleteInScope(ctx context.Context, kind string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.DeleteInScope")
	defer span.End()

	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	if kind != "" {
		db.Where(inScope(&db.Cond, kind))
	}

	rows, err := r.exec(ctx, db, "Failed to delete links in scope")
	if err != nil {
		return 0, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"resource_type": kind, "removed": rows}).Info("Deleted links")
	return rows, nil
}

// DeleteAll removes every link
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	return r.DeleteInScope(ctx, "")
}

// DeleteByEntity removes every link with entityID on either side
func (r *Repository) DeleteByEntity(ctx context.Context, entityID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.DeleteByEntity")
	defer span.End()

	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Or(db.Equal("golden_id", entityID), db.Equal("source_id", entityID)))

	return r.exec(ctx, db, "Failed to delete links by entity")
}

// CountForEntities counts links on either side for each id. Ids without links map to 0.
func (r *Repository) CountForEntities(ctx context.Context, ids []string) (map[string]int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.CountForEntities")
	defer span.End()

	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	for _, id := range ids {
		counts[id] = 0
	}

	for _, side := range []string{"golden_id", "source_id"} {
		sb := r.db.Flavor().NewSelectBuilder()
		sb.Select(side+" AS id", "COUNT(*) AS total")
		sb.From(table)
		sb.Where(sb.In(side, database.Strings(ids)...))
		sb.GroupBy(side)

		query, args := sb.Build()
		var rows []struct {
			ID    string `db:"id"`
			Total int    `db:"total"`
		}
		if err := r.db.From(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to count links")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count links")
		}
		for _, row := range rows {
			counts[row.ID] += row.Total
		}
	}

	return counts, nil
}

// CountForEntity counts links with entityID on either side
func (r *Repository) CountForEntity(ctx context.Context, entityID string) (int, error) {
	counts, err := r.CountForEntities(ctx, []string{entityID})
	if err != nil {
		return 0, err
	}
	return counts[entityID], nil
}

// List returns links matching filter, newest first, with the unpaged total
func (r *Repository) List(ctx context.Context, filter models.LinkFilter) ([]models.Link, int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.List")
	defer span.End()

	where := func(sb *sqlbuilder.SelectBuilder) {
		if filter.GoldenID != "" {
			sb.Where(sb.Equal("golden_id", filter.GoldenID))
		}
		if filter.SourceID != "" {
			sb.Where(sb.Equal("source_id", filter.SourceID))
		}
		if filter.MatchOutcome != "" {
			sb.Where(sb.Equal("match_outcome", string(filter.MatchOutcome)))
		}
		if filter.LinkSource != "" {
			sb.Where(sb.Equal("link_source", string(filter.LinkSource)))
		}
	}

	count := r.db.Flavor().NewSelectBuilder()
	count.Select("COUNT(*)")
	count.From(table)
	where(count)

	query, args := count.Build()
	var total int
	if err := r.db.From(ctx).GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count links")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list links")
	}

	sb := r.selectLinks()
	where(sb)
	sb.OrderBy("updated_at").Desc()
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sb.Limit(limit)
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	links, err := r.selectAll(ctx, sb, "Failed to list links")
	if err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

func (r *Repository) selectLinks() *sqlbuilder.SelectBuilder {
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	return sb
}

func (r *Repository) selectAll(ctx context.Context, sb *sqlbuilder.SelectBuilder, failure string) ([]models.Link, error) {
	query, args := sb.Build()
	links := []models.Link{}
	if err := r.db.From(ctx).SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(failure)
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query links")
	}
	return links, nil
}

func (r *Repository) exec(ctx context.Context, db *sqlbuilder.DeleteBuilder, failure string) (int64, error) {
	query, args := db.Build()
	result, err := r.db.From(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(failure)
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete links")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(failure)
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete links")
	}
	return rows, nil
}

// inScope matches golden-to-golden links of any type, not only kind.
func inScope(c *sqlbuilder.Cond, kind string) string {
	return c.Or(c.Equal("source_type", kind), c.Equal("source_golden", true))
}
