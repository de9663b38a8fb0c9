package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// Custom validation tags backed by the auth package rules.
const (
	tagEmail    = "account_email"
	tagUsername = "username"
	tagPassword = "strong_password"
	tagRole     = "role"
)

var fieldMessages = map[string]string{
	"required":  "%s is required",
	tagEmail:    "%s must be a valid email address",
	tagUsername: "%s must be 3 to 64 characters without control characters",
	tagPassword: "%s must be at least 12 characters with upper case, lower case, a digit and one of #?!@$%%^&*-",
	tagRole:     "%s must be one of ADMIN, MANAGER or USER",
}

// newValidator builds a validator that reports JSON field names and knows
// the account rules.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	rules := map[string]func(string) bool{
		tagEmail:    func(s string) bool { return auth.IsValidEmail(auth.NormalizeEmail(s)) },
		tagUsername: auth.IsValidUsername,
		tagPassword: auth.IsStrongPassword,
		tagRole:     func(s string) bool { return auth.IsValidRole(auth.Role(s)) },
	}
	for tag, ok := range rules {
		//nolint:errcheck // registration only fails for an empty tag
		v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return ok(fl.Field().String())
		})
	}
	return v
}

// validateRequest returns nil when req passes, otherwise a map of JSON
// field name to message.
func (s *Server) validateRequest(req any) map[string]string {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		format, ok := fieldMessages[fe.Tag()]
		if !ok {
			format = "%s is invalid"
		}
		out[fe.Field()] = fmt.Sprintf(format, fe.Field())
	}
	return out
}
