package resource

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
	"github.com/Ramsey-B/clover/pkg/resourcetype"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "mdm_resources"

var columns = []string{"id", "resource_type", "mdm_managed", "data", "version", "created_at", "updated_at"}

// Repository handles resource persistence for every resource type
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new resource repository
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

// Create inserts a resource. A missing ID is generated.
func (r *Repository) Create(ctx context.Context, resource *models.Resource) (*models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Create")
	defer span.End()

	if resource.ID == "" {
		resource.ID = uuid.New().String()
	}
	if len(resource.Data) == 0 {
		resource.Data = database.JSON("{}")
	}
	resource.CreatedAt = time.Now().UTC()
	resource.UpdatedAt = resource.CreatedAt
	resource.Version = 1

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(resource.ID, resource.ResourceType, resource.MDMManaged, resource.Data, resource.Version, resource.CreatedAt, resource.UpdatedAt)
	database.OnConflictDoNothing(ib)

	query, args := ib.Build()
	result, err := r.db.From(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create resource")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create resource")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("resource %s already exists", resource.ID))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":            resource.ID,
		"resource_type": resource.ResourceType,
		"mdm_managed":   resource.MDMManaged,
	}).Info("Created resource")
	return resource, nil
}

// Get retrieves a resource by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Resource, error) {
	return r.get(ctx, id, "")
}

func (r *Repository) get(ctx context.Context, id, kind string) (*models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if kind != "" {
		sb.Where(sb.Equal("resource_type", kind))
	}

	query, args := sb.Build()
	var resource models.Resource
	if err := r.db.From(ctx).GetContext(ctx, &resource, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resource %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get resource")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resource")
	}

	return &resource, nil
}

// Lock reads ids inside the caller's transaction and, on PostgreSQL, holds a row lock on each
// until it ends. Rows are locked in id order. Missing ids are absent from the result.
func (r *Repository) Lock(ctx context.Context, ids []string) (map[string]*models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Lock")
	defer span.End()

	locked := make(map[string]*models.Resource, len(ids))
	if len(ids) == 0 {
		return locked, nil
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.In("id", database.Strings(ids)...))
	sb.OrderBy("id")
	// sqlite has no row locks; its transactions already hold the write lock
	if r.db.Flavor() == sqlbuilder.PostgreSQL {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	resources := []models.Resource{}
	if err := r.db.From(ctx).SelectContext(ctx, &resources, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to lock resources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock resources")
	}

	for i := range resources {
		locked[resources[i].ID] = &resources[i]
	}
	return locked, nil
}

// Update replaces a resource's payload and increments its version
func (r *Repository) Update(ctx context.Context, id string, data database.JSON) (*models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Update")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("data", data),
		ub.Assign("updated_at", time.Now().UTC()),
		ub.Add("version", 1),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.From(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update resource")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update resource")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resource %s not found", id))
	}

	return r.Get(ctx, id)
}

// Delete removes a resource. Links referencing it must already be gone or go in the same transaction.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.delete(ctx, id, "")
}

func (r *Repository) delete(ctx context.Context, id, kind string) error {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Delete")
	defer span.End()

	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("id", id))
	if kind != "" {
		db.Where(db.Equal("resource_type", kind))
	}

	query, args := db.Build()
	result, err := r.db.From(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete resource")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete resource")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("resource %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted resource")
	return nil
}

// DeleteMany removes the given resources and returns how many existed
func (r *Repository) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.DeleteMany")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.In("id", database.Strings(ids)...))

	query, args := db.Build()
	result, err := r.db.From(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to delete resources")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete resources")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// SearchManaged lists golden records. An empty kind lists every type.
func (r *Repository) SearchManaged(ctx context.Context, kind string) ([]models.Resource, error) {
	return r.search(ctx, kind, true)
}

// SearchSources lists non-golden records. An empty kind lists every type.
func (r *Repository) SearchSources(ctx context.Context, kind string) ([]models.Resource, error) {
	return r.search(ctx, kind, false)
}

func (r *Repository) search(ctx context.Context, kind string, managed bool) ([]models.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resource.Repository.Search")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("mdm_managed", managed))
	if kind != "" {
		sb.Where(sb.Equal("resource_type", kind))
	}
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	resources := []models.Resource{}
	if err := r.db.From(ctx).SelectContext(ctx, &resources, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"resource_type": kind,
			"mdm_managed":   managed,
		}).Error("Failed to search resources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search resources")
	}

	return resources, nil
}

// Scoped returns a store restricted to one resource type.
func (r *Repository) Scoped(kind string) resourcetype.Store {
	return &scoped{repo: r, kind: kind}
}

type scoped struct {
	repo *Repository
	kind string
}

func (s *scoped) Get(ctx context.Context, id string) (*models.Resource, error) {
	return s.repo.get(ctx, id, s.kind)
}

func (s *scoped) Delete(ctx context.Context, id string) error {
	return s.repo.delete(ctx, id, s.kind)
}

func (s *scoped) SearchManaged(ctx context.Context) ([]models.Resource, error) {
	return s.repo.SearchManaged(ctx, s.kind)
}
