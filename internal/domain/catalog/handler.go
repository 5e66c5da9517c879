package catalog

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/auth"
	"github.com/occhealth/occhealth/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse))
	read.GET("/codes", h.ListEntries)
	read.GET("/codes/:code", h.GetEntry)
	read.GET("/codes/:code/resolve", h.ResolveCode)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/codes", h.CreateEntry)
	write.PUT("/codes/:code", h.UpdateEntry)
	write.POST("/codes/import", h.ImportEntries)
}

type createEntryRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Active      *bool  `json:"active"`
}

func (h *Handler) CreateEntry(c echo.Context) error {
	var req createEntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e := SeedEntry{Code: req.Code, Description: req.Description, Category: req.Category, Active: req.Active}.Entry()
	if err := h.svc.CreateEntry(c.Request().Context(), e); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	e, err := h.svc.GetEntry(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	var u EntryUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdateEntry(c.Request().Context(), c.Param("code"), u)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
	items, total, err := h.svc.ListEntries(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}

func (h *Handler) ResolveCode(c echo.Context) error {
	res, err := h.svc.Resolve(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// ImportEntries accepts a JSON or YAML list of entries, chosen by
// Content-Type.
func (h *Handler) ImportEntries(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	ext := ".json"
	if ct := c.Request().Header.Get(echo.HeaderContentType); strings.Contains(ct, "yaml") {
		ext = ".yaml"
	}
	entries, err := ParseSeed(ext, data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Import(c.Request().Context(), entries)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}
