package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers lms-session validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a positive Go duration string such as "30s" or "30m"
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDistinctPaths(); err != nil {
		return err
	}
	return nil
}

// validateDistinctPaths rejects a refresh path shared with another auth
// endpoint. A 401 from the refresh path is never retried, so sharing it
// would disable the retry for that endpoint too.
func (c *Config) validateDistinctPaths() error {
	for name, p := range map[string]string{
		"login_path":          c.API.LoginPath,
		"register_path":       c.API.RegisterPath,
		"me_path":             c.API.MePath,
		"reset_password_path": c.API.ResetPasswordPath,
	} {
		if p == c.API.RefreshPath {
			return fmt.Errorf("api: %s must differ from refresh_path (%s)", name, p)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"30s\" or \"30m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
