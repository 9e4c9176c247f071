package patient

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient))
	g.GET("/patients", h.List)
	g.POST("/patients", h.Create)
	g.GET("/patients/:id", h.Get)
	g.PATCH("/patients/:id", h.Update)
	g.DELETE("/patients/:id", h.Delete)
	g.POST("/patients/:id/vitals", h.AddVital)
	g.GET("/patients/:id/vitals", h.ListVitals)
}

// patientResponse carries the reward outcome of the command alongside the
// patient, when one was recorded.
type patientResponse struct {
	*Patient
	Reward *reward.AwardResult `json:"reward,omitempty"`
}

type vitalResponse struct {
	*Vital
	Reward *reward.AwardResult `json:"reward,omitempty"`
}

func (h *Handler) List(c echo.Context) error {
	resp, err := h.svc.List(c.Request().Context(), pagination.FromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&patch); err != nil {
		return err
	}
	p, award, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patientResponse{Patient: p, Reward: award})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddVital(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in VitalInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	v, award, err := h.svc.AddVital(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, vitalResponse{Vital: v, Reward: award})
}

func (h *Handler) ListVitals(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.ListVitals(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("invalid id %q", c.Param("id"))
	}
	return id, nil
}
