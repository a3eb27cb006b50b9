package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	otpRegex    = regexp.MustCompile(`^\d{6}$`)
	clockRegex  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	domainRegex = regexp.MustCompile(`^(\*\.)?([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$|^localhost(:\d+)?$`)
)

// RegisterBindings installs the custom tags used by request structs:
// e164, otp, clock (HH:MM) and domain (host or *.host).
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return Register(v)
}

// Register adds the custom tags to v.
func Register(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"e164": func(fl validator.FieldLevel) bool {
			return e164Regex.MatchString(fl.Field().String())
		},
		"otp": func(fl validator.FieldLevel) bool {
			return otpRegex.MatchString(fl.Field().String())
		},
		"clock": func(fl validator.FieldLevel) bool {
			return clockRegex.MatchString(fl.Field().String())
		},
		"domain": func(fl validator.FieldLevel) bool {
			return domainRegex.MatchString(strings.ToLower(fl.Field().String()))
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}
