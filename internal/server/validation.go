package server

import (
	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct tags on request types
// drive all field-level validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validationMessage turns the first validation failure into a message
// safe to return to the caller.
func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fe.Field() + " is too short"
	case "max":
		return fe.Field() + " is too long"
	case "email":
		return fe.Field() + " is not a valid email address"
	default:
		return fe.Field() + " is invalid"
	}
}
