package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"collapses leading plus run", "++1234567890", "+1234567890"},
		{"drops inner plus", "123+456789", "+123456789"},
		{"strips letters", "abc123def", "+123"},
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"plus only", "+", ""},
		{"already canonical", "+212661976863", "+212661976863"},
		{"formatting characters", "+1 (555) 010-9999", "+15550109999"},
		{"missing plus", "212661976864", "+212661976864"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"++1234567890", "123+456789", "abc123def", "", "   ", "+",
		"00 33 6 12 34 56 78", "+-+-42", "٣٤٥", "tel:+44 20 7946 0958",
	}

	for _, raw := range inputs {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "input %q", raw)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+212*******63", Mask("+212661976863"))
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "*****", Mask("+1234"))

	masked := Mask("+15550109999")
	assert.NotContains(t, masked, "5501099")
	assert.Len(t, masked, len("+15550109999"))
}
