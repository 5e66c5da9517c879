package patient

import (
	"net/http"

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
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse, auth.RoleClerk))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:identification", h.GetPatient)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse))
	write.POST("/patients", h.RegisterPatient)
	write.PUT("/patients/:identification", h.UpdatePatient)
	write.POST("/patients/:identification/refresh", h.RefreshPatient)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Resolve(c.Request().Context(), c.Param("identification"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = 0
	if err := h.svc.Register(c.Request().Context(), &p); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, &p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var u LocalUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdateLocal(c.Request().Context(), c.Param("identification"), u)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RefreshPatient(c echo.Context) error {
	p, err := h.svc.Refresh(c.Request().Context(), c.Param("identification"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{Company: c.QueryParam("company"), WorkArea: c.QueryParam("work_area")}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}
