package encounter

import (
	"net/http"
	"strconv"

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
	clinical := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse))
	clinical.GET("/encounters", h.ListEncounters)
	clinical.GET("/encounters/:id", h.GetEncounter)
	clinical.POST("/encounters", h.SubmitEncounter)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/encounters/recount", h.Recount)
}

// SubmitEncounter records an encounter and its cascade. The response is 201
// even when a cascade rule failed; the outcomes say which.
func (h *Handler) SubmitEncounter(c echo.Context) error {
	var sub Submission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Submit(c.Request().Context(), sub)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	f := ListFilter{
		Code: c.QueryParam("code"),
		From: c.QueryParam("from"),
		To:   c.QueryParam("to"),
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEncounters(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}

func (h *Handler) Recount(c echo.Context) error {
	id, err := strconv.ParseInt(c.QueryParam("patient_id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	report, err := h.svc.Recount(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}
