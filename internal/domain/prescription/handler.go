package prescription

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/pkg/pagination"
)

// HeaderRewardPoints reports the points a download earned, since the body is
// the file itself.
const HeaderRewardPoints = "X-Reward-Points"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient))
	g.POST("/prescriptions", h.Upload)
	g.GET("/prescriptions", h.List)
	g.GET("/prescriptions/:id", h.Get)
	g.GET("/prescriptions/:id/download", h.Download)
	g.PUT("/prescriptions/:id/patient", h.TagPatient)
	g.DELETE("/prescriptions/:id", h.Delete)
}

type prescriptionResponse struct {
	*Prescription
	Reward *reward.AwardResult `json:"reward,omitempty"`
}

func optionalString(c echo.Context, name string) *string {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return nil
	}
	return &v
}

func optionalID(c echo.Context, name string) (*int64, error) {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, apierror.BadRequest("invalid %s %q", name, v)
	}
	return &id, nil
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apierror.BadRequest("multipart field \"file\" is required")
	}

	in := UploadInput{
		FileName:   fh.Filename,
		Title:      optionalString(c, "title"),
		DoctorName: optionalString(c, "doctor_name"),
		Notes:      optionalString(c, "notes"),
	}
	if in.PatientID, err = optionalID(c, "patient_id"); err != nil {
		return err
	}
	if in.SmartRxMasterID, err = optionalID(c, "smart_rx_master_id"); err != nil {
		return err
	}
	if v := optionalString(c, "prescribed_on"); v != nil {
		d, err := time.Parse(time.DateOnly, *v)
		if err != nil {
			return apierror.BadRequest("invalid prescribed_on %q: use YYYY-MM-DD", *v)
		}
		in.PrescribedOn = &d
	}

	f, err := fh.Open()
	if err != nil {
		return apierror.BadRequest("cannot read uploaded file")
	}
	defer f.Close()
	in.Content = f

	p, award, err := h.svc.Upload(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, prescriptionResponse{Prescription: p, Reward: award})
}

func (h *Handler) List(c echo.Context) error {
	var patientID *int64
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return apierror.BadRequest("invalid patient_id %q", v)
		}
		patientID = &id
	}
	resp, err := h.svc.List(c.Request().Context(), patientID, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
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

func (h *Handler) Download(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, rc, award, err := h.svc.Download(c.Request().Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": p.FileName}))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(p.SizeBytes, 10))
	if award != nil && award.WasUpdated {
		header.Set(HeaderRewardPoints, award.Points.String())
	}
	return c.Stream(http.StatusOK, p.ContentType, rc)
}

type tagRequest struct {
	PatientID int64 `json:"patient_id" validate:"required,gt=0"`
}

func (h *Handler) TagPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req tagRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, award, err := h.svc.TagPatient(c.Request().Context(), id, req.PatientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prescriptionResponse{Prescription: p, Reward: award})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	award, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if award == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true, "reward": award})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("invalid id %q", c.Param("id"))
	}
	return id, nil
}
