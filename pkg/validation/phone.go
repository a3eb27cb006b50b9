package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hallcall/hallcall-api/pkg/utils"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func ValidateE164(phone string) error {
	if phone == "" {
		return fmt.Errorf("phone number is required")
	}

	phone = strings.TrimSpace(phone)

	if !e164Regex.MatchString(phone) {
		return fmt.Errorf("phone number must be in E.164 format (e.g., +33612345678)")
	}

	return nil
}

// NormalizeE164 cleans up a user supplied number and validates the result.
func NormalizeE164(phone, defaultCountryCode string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("phone number is required")
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 6 {
		return "", fmt.Errorf("phone number %q is too short", phone)
	}
	normalized := utils.NormalizePhone(phone, defaultCountryCode)
	if err := ValidateE164(normalized); err != nil {
		return "", fmt.Errorf("cannot normalize phone number %q: %w", phone, err)
	}
	return normalized, nil
}
