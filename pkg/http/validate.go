package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report the parameter name the client sent, not the Go field
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"query", "json", "param"} {
			if name, _, _ := strings.Cut(fld.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	return v
}

// ReadAndValidateRequest fills defaults, binds the request over them and
// validates the result. It returns nil when req is usable.
func ReadAndValidateRequest(c echo.Context, req any) []*AppError {
	// defaults first: binding afterwards lets an explicit false or 0 win
	if err := defaults.Set(req); err != nil {
		return []*AppError{BadRequestError(err.Error())}
	}

	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return []*AppError{BadRequestError(fmt.Sprint(he.Message))}
		}
		return []*AppError{BadRequestError(err.Error())}
	}

	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []*AppError{BadRequestError(err.Error())}
	}
	out := make([]*AppError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError("ERR_"+strings.ToUpper(fe.Tag()), fe.Field(), ruleMessage(fe), ruleParams(fe)))
	}
	return out
}

var ruleTemplates = map[string]string{
	"required": "%[1]s is required",
	"gt":       "%[1]s must be greater than %[2]s",
	"gte":      "%[1]s must be greater than or equal to %[2]s",
	"lt":       "%[1]s must be less than %[2]s",
	"lte":      "%[1]s must be less than or equal to %[2]s",
	"min":      "%[1]s must be at least %[2]s",
	"max":      "%[1]s must be at most %[2]s",
	"oneof":    "%[1]s must be one of: %[2]s",
}

func ruleMessage(fe validator.FieldError) string {
	tmpl, ok := ruleTemplates[fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
	param := fe.Param()
	if fe.Tag() == "oneof" {
		param = strings.ReplaceAll(param, " ", ", ")
	}
	msg := fmt.Sprintf(tmpl, fe.Field(), param)
	if (fe.Tag() == "min" || fe.Tag() == "max") && fe.Kind() == reflect.String {
		msg += " characters"
	}
	return msg
}

func ruleParams(fe validator.FieldError) map[string]any {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]any{"min": fe.Param()}
	case "max", "lte":
		return map[string]any{"max": fe.Param()}
	case "gt", "lt":
		return map[string]any{"value": fe.Param()}
	case "oneof":
		return map[string]any{"options": strings.Fields(fe.Param())}
	}
	return nil
}
