package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hallcall/hallcall-api/pkg/errors"
)

// ValidateUUIDParam rejects path parameters that are not UUIDs before any
// store lookup happens.
func ValidateUUIDParam(paramNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range paramNames {
			v := c.Param(name)
			if v == "" {
				errors.BadRequest(c, name+" parameter is required")
				return
			}
			if _, err := uuid.Parse(v); err != nil {
				errors.BadRequest(c, "invalid "+name+" parameter: must be a UUID")
				return
			}
		}
		c.Next()
	}
}

// SanitizeString removes null bytes and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// ValidateCallingWindow checks an "HH:MM" hour range and weekday list.
// Days use time.Weekday numbering (0 = Sunday).
func ValidateCallingWindow(start, end string, days []int) error {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return &ValidationError{Message: "window start must be HH:MM"}
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return &ValidationError{Message: "window end must be HH:MM"}
	}
	if !s.Before(e) {
		return &ValidationError{Message: "window start must be before window end"}
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return &ValidationError{Message: "window days must be between 0 (Sunday) and 6 (Saturday)"}
		}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
