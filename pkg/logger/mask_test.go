package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane@example.com", "j***@example.com"},
		{"x@y.io", "x***@y.io"},
		{"nope", "****"},
	}
	for _, tt := range tests {
		f := MaskEmail("email", tt.in)
		assert.Equal(t, tt.want, f.String)
	}
}

func TestMaskPhoneIfPresent(t *testing.T) {
	assert.Equal(t, "", MaskPhoneIfPresent("to", "").String)
	assert.NotContains(t, MaskPhoneIfPresent("to", "+33612345678").String, "12345")
}
