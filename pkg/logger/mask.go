package logger

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/utils"
)

// MaskPhone creates a zap field that masks phone numbers
func MaskPhone(key, phone string) zap.Field {
	return zap.String(key, utils.MaskPhoneNumber(phone))
}

// MaskPhoneIfPresent masks phone if not empty
func MaskPhoneIfPresent(key, phone string) zap.Field {
	if phone == "" {
		return zap.String(key, "")
	}
	return MaskPhone(key, phone)
}

// MaskEmail keeps the first letter of the local part and the domain.
func MaskEmail(key, email string) zap.Field {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return zap.String(key, strings.Repeat("*", len(email)))
	}
	return zap.String(key, email[:1]+"***"+email[at:])
}
