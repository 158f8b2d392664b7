package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/logger"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type errorData struct {
	Status int `json:"status"`
}

// errorBody mirrors the WordPress REST error shape clients already parse.
type errorBody struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    errorData `json:"data"`
}

// errorHandler renders every error returned by handlers and middleware as an
// errorBody. Unknown errors become 500 and are logged.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	body := errorBody{Code: apperr.CodeInternal, Message: "internal server error"}
	status := http.StatusInternalServerError

	var ae *apperr.Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
		status = apperr.StatusOf(err)
		body.Code, body.Message = ae.Code, ae.Message
	case errors.As(err, &he):
		status = he.Code
		body.Code = httpErrorCode(he.Code)
		body.Message = fmt.Sprint(he.Message)
	}
	body.Data.Status = status

	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.CodeNoRoute
	case http.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case http.StatusForbidden:
		return apperr.CodeForbidden
	case http.StatusTooManyRequests:
		return apperr.CodeRateLimited
	}
	if status < http.StatusInternalServerError {
		return apperr.CodeValidation
	}
	return apperr.CodeInternal
}

// requestValidator plugs go-playground/validator into echo's c.Validate.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	// report JSON field names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "max", "min", "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return apperr.Invalid("%s", strings.Join(msgs, "; "))
}

// bind decodes the request into req and validates it.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return c.Validate(req)
}
