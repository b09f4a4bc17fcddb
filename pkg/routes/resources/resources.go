package resources

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/resource"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resourcetype"
	"github.com/Ramsey-B/clover/pkg/routes/validation"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers resource routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("", ListManaged)
	g.GET("/:id", Get)
	g.GET("/:id/links", ListLinks)
	g.DELETE("/:id", Delete)
}

// Create stores a source resource and matches it against the golden records of its type
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "resource_handler.Create")
	defer span.End()

	var req models.CreateResourceRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*linking.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking service")
	}

	result, err := service.CreateResource(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

// ListManaged returns the golden records of ?resource_type=
func ListManaged(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "resource_handler.ListManaged")
	defer span.End()

	kind := c.QueryParam("resource_type")
	if kind == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "resource_type is required")
	}

	ctx, registry, err := ectoinject.GetContext[*resourcetype.Registry](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resource types")
	}
	store, err := registry.StoreFor(kind)
	if err != nil {
		return err
	}

	items, err := store.SearchManaged(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.ResourceListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// Get returns a single resource by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "resource_handler.Get")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*resource.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ListLinks returns the links of a resource: outgoing for a golden record, incoming otherwise
func ListLinks(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "resource_handler.ListLinks")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*resource.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}
	ctx, service, err := ectoinject.GetContext[*linking.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking service")
	}

	r, err := repo.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	var links []models.Link
	if r.IsGolden() {
		links, err = service.FindLinksByTarget(ctx, r.ID)
	} else {
		links, err = service.FindLinksBySource(ctx, r.ID)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.LinkListResponse{
		Items:      links,
		TotalCount: len(links),
	})
}

// Delete removes a resource with its links and any golden records left without links
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "resource_handler.Delete")
	defer span.End()

	ctx, service, err := ectoinject.GetContext[*linking.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking service")
	}

	result, err := service.DeleteSourceEntity(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
