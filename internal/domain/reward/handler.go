package reward

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

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
	// Any authenticated user, scoped to their own ledger
	self := api.Group("", auth.RequireRole(auth.RolePatient))
	self.GET("/rewards/summary", h.Summary)
	self.GET("/rewards/history", h.History)
	self.POST("/rewards/conversions", h.Convert)
	self.GET("/reward-rules", h.ListRules)
	self.GET("/reward-rules/:id", h.GetRule)
	self.GET("/badges", h.ListBadges)
	self.GET("/badges/:id", h.GetBadge)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/rewards/transactions", h.CreateTransaction)
	admin.GET("/rewards/transactions/:id", h.GetTransaction)
	admin.PUT("/rewards/transactions/:id", h.UpdateTransaction)
	admin.DELETE("/rewards/transactions/:id", h.DeleteTransaction)
	admin.POST("/reward-rules", h.CreateRule)
	admin.PUT("/reward-rules/:id", h.UpdateRule)
	admin.DELETE("/reward-rules/:id", h.DeleteRule)
	admin.POST("/badges", h.CreateBadge)
	admin.PUT("/badges/:id", h.UpdateBadge)
	admin.DELETE("/badges/:id", h.DeleteBadge)
}

// -- Ledger reads --

func (h *Handler) Summary(c echo.Context) error {
	f, err := filterFromRequest(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Reconciler().Summary(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) History(c echo.Context) error {
	f, err := filterFromRequest(c)
	if err != nil {
		return err
	}
	sort, err := ParseSort(c.QueryParam("sort_by"), c.QueryParam("sort_dir"))
	if err != nil {
		return err
	}
	page, err := h.svc.Reconciler().History(c.Request().Context(), HistoryQuery{
		Filter: f,
		Scope:  Scope(c.QueryParam("scope")),
		Sort:   sort,
		Page:   pagination.FromContext(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// filterFromRequest builds a ledger filter for the caller. Admins may read
// another user's ledger with ?user_id=.
func filterFromRequest(c echo.Context) (Filter, error) {
	ctx := c.Request().Context()
	f := Filter{UserID: auth.UserIDFromContext(ctx)}

	if s := c.QueryParam("user_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return f, apierror.BadRequest("invalid user_id %q", s)
		}
		if id != f.UserID && !auth.IsAdmin(ctx) {
			return f, apierror.Forbidden("cannot read another user's rewards")
		}
		f.UserID = id
	}
	if s := c.QueryParam("patient_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return f, apierror.BadRequest("invalid patient_id %q", s)
		}
		f.PatientID = &id
	}

	var err error
	if f.From, err = parseTimeParam(c, "from", false); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(c, "to", true); err != nil {
		return f, err
	}
	return f, nil
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare "to" date covers the
// whole day.
func parseTimeParam(c echo.Context, name string, endOfDay bool) (*time.Time, error) {
	s := c.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, apierror.BadRequest("invalid %s %q: use RFC 3339 or YYYY-MM-DD", name, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) Convert(c echo.Context) error {
	var in ConversionInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	in.UserID = auth.UserIDFromContext(ctx)
	in.CreatedBy = in.UserID

	conv, err := h.svc.Convert(ctx, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conv)
}

// -- Admin transaction commands --

func (h *Handler) CreateTransaction(c echo.Context) error {
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	in.CreatedBy = auth.UserIDFromContext(ctx)

	t, err := h.svc.CreateTransaction(ctx, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTransaction(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	t, err := h.svc.UpdateTransaction(ctx, id, in, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTransaction(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Rules --

func (h *Handler) ListRules(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	rules, err := h.svc.ListRules(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

// GetRule takes a numeric id or an activity code such as UPLOAD_PRESCRIPTION.
func (h *Handler) GetRule(c echo.Context) error {
	ctx := c.Request().Context()
	param := c.Param("id")
	var (
		r   *Rule
		err error
	)
	if id, perr := strconv.ParseInt(param, 10, 64); perr == nil {
		r, err = h.svc.GetRule(ctx, id)
	} else {
		r, err = h.svc.GetRuleByActivityName(ctx, param)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var in RuleInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	r, err := h.svc.CreateRule(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in RuleInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	r, err := h.svc.UpdateRule(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRule(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Badges --

func (h *Handler) ListBadges(c echo.Context) error {
	badges, err := h.svc.ListBadges(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, badges)
}

func (h *Handler) GetBadge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBadge(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateBadge(c echo.Context) error {
	var in BadgeInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	b, err := h.svc.CreateBadge(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) UpdateBadge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in BadgeInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	b, err := h.svc.UpdateBadge(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBadge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBadge(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("invalid id %q", c.Param("id"))
	}
	return id, nil
}
