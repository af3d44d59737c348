package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status  int    `json:"status" example:"200"`
	Message string `json:"message" example:"OK"`
	Data    any    `json:"data,omitempty"`
}

func DataResponse(c echo.Context, statusCode int, data any) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data any) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes the errors returned by ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, errs []*AppError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse writes every AppError found in err with the status of the
// first one. Errors without an AppError become a generic 500 so internals
// never leak.
func AppErrorResponse(c echo.Context, err error) error {
	errs := appErrors(err)
	if len(errs) == 0 {
		errs = []*AppError{InternalError("Something went wrong")}
	}
	return DataResponse(c, errs[0].Status, errs)
}
