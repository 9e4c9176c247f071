package reward

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/validate"
)

func newHandlerFixture(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(f.svc), f, e
}

func request(e *echo.Echo, method, target, body string, userID int64, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if len(roles) == 0 {
		roles = []string{auth.RolePatient}
	}
	req = req.WithContext(auth.WithUser(req.Context(), userID, roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Summary(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule(ActivityUploadPrescription, "50", PointNoncashable, false)
	f.tx(1, r, "50")
	f.conv(1, PointNoncashable, PointCashable, "20", "1.0")

	c, rec := request(e, http.MethodGet, "/api/v1/rewards/summary", "", 1)
	require.NoError(t, h.Summary(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		UserID      int64 `json:"user_id"`
		Noncashable struct {
			Net string `json:"net"`
		} `json:"noncashable"`
		Cashable struct {
			Net string `json:"net"`
		} `json:"cashable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(1), view.UserID)
	assert.Equal(t, "30", view.Noncashable.Net)
	assert.Equal(t, "20", view.Cashable.Net)
}

func TestHandler_SummaryOtherUser(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	c, _ := request(e, http.MethodGet, "/api/v1/rewards/summary?user_id=2", "", 1)
	assert.Equal(t, http.StatusForbidden, apierror.StatusCode(h.Summary(c)))

	c, rec := request(e, http.MethodGet, "/api/v1/rewards/summary?user_id=2", "", 1, auth.RoleAdmin)
	require.NoError(t, h.Summary(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_History(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule("EARN", "1", PointNoncashable, false)
	for range 25 {
		f.tx(1, r, "1")
	}

	c, rec := request(e, http.MethodGet, "/api/v1/rewards/history?page=3&page_size=10&sort_by=amount&sort_dir=asc", "", 1)
	require.NoError(t, h.History(c))

	var page struct {
		Items        []LineItem `json:"items"`
		TotalRecords int        `json:"total_records"`
		TotalPages   int        `json:"total_pages"`
		Scope        string     `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 25, page.TotalRecords)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, "all", page.Scope)
}

func TestHandler_HistoryBadParams(t *testing.T) {
	h, _, e := newHandlerFixture(t)
	for _, q := range []string{
		"sort_by=nope",
		"sort_dir=up",
		"scope=spent",
		"from=yesterday",
		"patient_id=abc",
		"from=2026-02-01&to=2026-01-01",
	} {
		t.Run(q, func(t *testing.T) {
			c, _ := request(e, http.MethodGet, "/api/v1/rewards/history?"+q, "", 1)
			assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(h.History(c)))
		})
	}
}

func TestHandler_HistoryDateOnlyWindow(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule("EARN", "1", PointNoncashable, false)
	f.tx(1, r, "1") // 2026-01-01 09:01 UTC

	c, rec := request(e, http.MethodGet, "/api/v1/rewards/history?from=2026-01-01&to=2026-01-01", "", 1)
	require.NoError(t, h.History(c))
	assert.Contains(t, rec.Body.String(), `"total_records":1`)
}

func TestHandler_Convert(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule(ActivityUploadPrescription, "50", PointNoncashable, false)
	f.tx(1, r, "50")

	c, rec := request(e, http.MethodPost, "/api/v1/rewards/conversions",
		`{"from_type":"Noncashable","to_type":"Cashable","amount":"20"}`, 1)
	require.NoError(t, h.Convert(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var conv Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, int64(1), conv.UserID)
	assert.True(t, conv.ConvertedPoints.Equal(dec("20")))

	c, _ = request(e, http.MethodPost, "/api/v1/rewards/conversions",
		`{"from_type":"Noncashable","to_type":"Cashable","amount":"31"}`, 1)
	assert.Equal(t, http.StatusConflict, apierror.StatusCode(h.Convert(c)))
}

func TestHandler_CreateTransaction(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule(ActivityAddVital, "2", PointNoncashable, false)

	body := `{"user_id":5,"reward_rule_id":` + jsonInt(r.ID) +
		`,"reward_type":"Noncashable","amount_changed":2,"noncashable_balance":2,"cashable_balance":0,"money_balance":0}`
	c, rec := request(e, http.MethodPost, "/api/v1/rewards/transactions", body, 1, auth.RoleAdmin)
	require.NoError(t, h.CreateTransaction(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.store.txs, 1)
	for _, tx := range f.store.txs {
		assert.Equal(t, int64(5), tx.UserID)
		assert.Equal(t, int64(1), tx.CreatedBy)
	}

	c, _ = request(e, http.MethodPost, "/api/v1/rewards/transactions",
		strings.Replace(body, `"amount_changed":2`, `"amount_changed":0`, 1), 1, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(h.CreateTransaction(c)))
	assert.Len(t, f.store.txs, 1)
}

func TestHandler_GetRuleByCode(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	r := f.rule(ActivityAddVital, "2", PointNoncashable, false)

	c, rec := request(e, http.MethodGet, "/", "", 1)
	c.SetParamNames("id")
	c.SetParamValues("add_vital")
	require.NoError(t, h.GetRule(c))
	assert.Contains(t, rec.Body.String(), `"id":`+jsonInt(r.ID))

	c, _ = request(e, http.MethodGet, "/", "", 1)
	c.SetParamNames("id")
	c.SetParamValues("404404")
	assert.Equal(t, http.StatusNotFound, apierror.StatusCode(h.GetRule(c)))
}

func TestHandler_CreateRuleValidates(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	c, _ := request(e, http.MethodPost, "/api/v1/reward-rules", `{"title":"x","points":1,"reward_type":"Cashable"}`, 1, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(h.CreateRule(c)))

	c, rec := request(e, http.MethodPost, "/api/v1/reward-rules",
		`{"activity_name":"share_app","title":"Share","points":"4","reward_type":"Cashable"}`, 1, auth.RoleAdmin)
	require.NoError(t, h.CreateRule(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activity_name":"SHARE_APP"`)
}

func TestHandler_BadPathID(t *testing.T) {
	h, _, e := newHandlerFixture(t)
	c, _ := request(e, http.MethodDelete, "/", "", 1, auth.RoleAdmin)
	c.SetParamNames("id")
	c.SetParamValues("-3")
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(h.DeleteTransaction(c)))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
