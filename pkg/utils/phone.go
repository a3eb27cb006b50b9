package utils

import (
	"regexp"
	"strings"
)

var (
	maskRe    = regexp.MustCompile(`^(\+)(\d{1,3})(\d{3})(\d+)$`)
	e164Re    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	nonDialRe = regexp.MustCompile(`[^\d+]`)
)

// MaskPhoneNumber masks a phone number for logging
// Example: +33612345678 -> +336123•5678
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	phone = strings.TrimSpace(phone)

	matches := maskRe.FindStringSubmatch(phone)
	if len(matches) == 5 {
		lastDigits := matches[4]
		if len(lastDigits) >= 4 {
			last4 := lastDigits[len(lastDigits)-4:]
			masked := strings.Repeat("•", len(lastDigits)-4)
			return "+" + matches[2] + matches[3] + masked + last4
		}
	}

	if len(phone) > 4 {
		return strings.Repeat("•", len(phone)-4) + phone[len(phone)-4:]
	}

	return strings.Repeat("•", len(phone))
}

// ValidateE164 validates E.164 phone number format
func ValidateE164(phone string) bool {
	return e164Re.MatchString(phone)
}

// NormalizePhone converts a dialable number to E.164. National numbers with a
// leading trunk 0 get defaultCountryCode (digits only, e.g. "33").
func NormalizePhone(phone, defaultCountryCode string) string {
	cleaned := nonDialRe.ReplaceAllString(phone, "")

	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case strings.HasPrefix(cleaned, "00"):
		return "+" + cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		return "+" + defaultCountryCode + cleaned[1:]
	case defaultCountryCode != "" && strings.HasPrefix(cleaned, defaultCountryCode):
		return "+" + cleaned
	default:
		return "+" + defaultCountryCode + cleaned
	}
}
