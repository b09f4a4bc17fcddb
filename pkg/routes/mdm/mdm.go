package mdm

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/clear"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/validation"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ClearRequest is the optional body of a clear. A nil ResourceType clears every link.
type ClearRequest struct {
	ResourceType *string `json:"resource_type"`
}

// Register registers MDM link routes
func Register(g *echo.Group) {
	g.POST("/clear", Clear)
	g.POST("/links", CreateOrUpdateLink)
	g.GET("/links", ListLinks)
}

// Clear removes links in bulk. resource_type may come from the query string or the body; an
// empty value is passed through and rejected as an unsupported type.
func Clear(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mdm_handler.Clear")
	defer span.End()

	var req ClearRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	if values, ok := c.QueryParams()["resource_type"]; ok && len(values) > 0 {
		req.ResourceType = &values[0]
	}

	ctx, clearer, err := ectoinject.GetContext[*clear.Clearer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get clearer")
	}

	summary, err := clearer.Clear(ctx, req.ResourceType)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, summary)
}

// CreateOrUpdateLink asserts a match outcome between a golden record and a source.
// NO_MATCH removes the link.
func CreateOrUpdateLink(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mdm_handler.CreateOrUpdateLink")
	defer span.End()

	var req models.LinkRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*linking.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking service")
	}

	result, err := service.CreateOrUpdateLink(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ListLinks returns links filtered by golden_id, source_id, match_outcome and link_source
func ListLinks(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mdm_handler.ListLinks")
	defer span.End()

	var filter models.LinkFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	ctx, service, err := ectoinject.GetContext[*linking.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking service")
	}

	result, err := service.ListLinks(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
