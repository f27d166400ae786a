package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate shares gin's "binding" tags so DTOs are checked the same way
// whether or not they came through a controller.
var validate = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

func validateRequest(req interface{}) *ServiceError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return validationError(strings.Join(msgs, "; "))
}

func isValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
