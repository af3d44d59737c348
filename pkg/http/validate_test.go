package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Horizon int    `query:"horizon_days" default:"14" validate:"gte=1,lte=365"`
	Enabled bool   `query:"enabled" default:"true"`
	Mode    string `query:"mode" default:"basic" validate:"oneof=basic enhanced"`
}

func bind(t *testing.T, target string) (sampleRequest, []*AppError) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	var req sampleRequest
	errs := ReadAndValidateRequest(c, &req)
	return req, errs
}

func TestReadAndValidateAppliesDefaults(t *testing.T) {
	req, errs := bind(t, "/")
	require.Nil(t, errs)
	assert.Equal(t, 14, req.Horizon)
	assert.True(t, req.Enabled)
	assert.Equal(t, "basic", req.Mode)
}

func TestReadAndValidateExplicitFalseWins(t *testing.T) {
	req, errs := bind(t, "/?enabled=false&horizon_days=7")
	require.Nil(t, errs)
	assert.False(t, req.Enabled)
	assert.Equal(t, 7, req.Horizon)
}

func TestReadAndValidateRangeErrors(t *testing.T) {
	_, errs := bind(t, "/?horizon_days=0")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_GTE", errs[0].Code)
	assert.Equal(t, "horizon_days", errs[0].Field)
	assert.Equal(t, "horizon_days must be greater than or equal to 1", errs[0].Message)
	assert.Equal(t, "1", errs[0].Params["min"])
	assert.Equal(t, http.StatusBadRequest, errs[0].Status)

	_, errs = bind(t, "/?horizon_days=400")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
}

func TestReadAndValidateCollectsEveryField(t *testing.T) {
	_, errs := bind(t, "/?horizon_days=0&mode=turbo")
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_ONEOF", errs[1].Code)
	assert.Equal(t, "mode must be one of: basic, enhanced", errs[1].Message)
	assert.Equal(t, []string{"basic", "enhanced"}, errs[1].Params["options"])
}

func TestReadAndValidateBindError(t *testing.T) {
	_, errs := bind(t, "/?horizon_days=abc")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BAD_REQUEST", errs[0].Code)
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) []AppError {
	t.Helper()
	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, rec.Code, body.Status)
	return body.Data
}

func TestAppErrorResponseStatus(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := fmt.Errorf("handler: %w", UnavailableError("prophet unavailable").WithError(errors.New("circuit open")))
	require.NoError(t, AppErrorResponse(c, err))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	errs := decodeErrors(t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_UNAVAILABLE", errs[0].Code)
	assert.NotContains(t, rec.Body.String(), "circuit open")
}

func TestAppErrorResponseJoined(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := errors.Join(BadRequestError("bad from"), BadRequestError("bad to"))
	require.NoError(t, AppErrorResponse(c, err))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeErrors(t, rec), 2)
}

func TestAppErrorResponseHidesPlainErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	errs := decodeErrors(t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_INTERNAL", errs[0].Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
