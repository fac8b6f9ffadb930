package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator validates bound request structs with their
// `validate` tags and reports failures as 400 responses.
// The zero value is ready to use and safe for concurrent requests.
type GenericEchoValidator struct {
	Validator *validator.Validate
	init      sync.Once
}

func NewGenericEchoValidator() *GenericEchoValidator {
	return &GenericEchoValidator{Validator: validator.New()}
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	gv.init.Do(func() {
		if gv.Validator == nil {
			gv.Validator = validator.New()
		}
	})
	err := gv.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		problem := fmt.Sprintf("%s failed %q", strings.ToLower(fieldErr.Field()), fieldErr.Tag())
		if fieldErr.Param() != "" {
			problem += "=" + fieldErr.Param()
		}
		problems = append(problems, problem)
	}
	return echo.NewHTTPError(http.StatusBadRequest, "received invalid request: "+strings.Join(problems, ", "))
}
