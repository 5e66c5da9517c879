package dependent

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
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse))
	read.GET("/incidents", h.ListIncidents)
	read.GET("/glove-uses", h.ListGloveUses)
	read.GET("/diets", h.ListDiets)
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	for name, dst := range map[string]*int64{"patient_id": &f.PatientID, "encounter_id": &f.EncounterID} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = n
		}
	}
	f.Identification = c.QueryParam("identification")
	return f, nil
}

func (h *Handler) ListIncidents(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListIncidents(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}

func (h *Handler) ListGloveUses(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGloveUses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}

// ListDiets lists diets; with ?active_on=YYYY-MM-DD only the diets covering
// that day are returned, unpaged.
func (h *Handler) ListDiets(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	if on := c.QueryParam("active_on"); on != "" {
		items, err := h.svc.DietsActiveOn(c.Request().Context(), f, on)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDiets(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pg.Page(c, items, total))
}
