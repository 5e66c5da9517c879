package export

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/auth"
	"github.com/occhealth/occhealth/internal/platform/blobstore"
)

type Handler struct {
	x *Exporter
}

func NewHandler(x *Exporter) *Handler {
	return &Handler{x: x}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/export", h.Download)
	admin.POST("/exports", h.Publish)
	admin.GET("/exports/*", h.Fetch)
}

// Download streams a freshly rendered workbook.
func (h *Handler) Download(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, blobstore.ContentTypeXLSX)
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="occhealth.xlsx"`)
	resp.WriteHeader(http.StatusOK)
	_, err := h.x.Write(c.Request().Context(), resp)
	return err
}

type publishResponse struct {
	Object  *blobstore.Object `json:"object"`
	Summary *Summary          `json:"summary"`
}

func (h *Handler) Publish(c echo.Context) error {
	obj, sum, err := h.x.Publish(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, publishResponse{Object: obj, Summary: sum})
}

// Fetch returns a published export by key.
func (h *Handler) Fetch(c echo.Context) error {
	if h.x.blobs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no blob store configured")
	}
	rc, obj, err := h.x.blobs.Get(c.Request().Context(), KeyPrefix+"/"+c.Param("*"))
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound), errors.Is(err, blobstore.ErrInvalidKey):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return apperr.HTTPError(err)
	}
	defer rc.Close()
	ct := obj.ContentType
	if ct == "" {
		ct = blobstore.ContentTypeXLSX
	}
	return c.Stream(http.StatusOK, ct, rc)
}
