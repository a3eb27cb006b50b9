package logger

import (
	"go.uber.org/zap"
)

// Tenant returns the fields attached to every log line emitted on behalf of a caller.
func Tenant(userID string, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{zap.String("user_id", userID)}, extra...)
}

// Vendor tags a log line with the upstream that produced it.
func Vendor(name string, status int) []zap.Field {
	return []zap.Field{zap.String("vendor", name), zap.Int("vendor_status", status)}
}
