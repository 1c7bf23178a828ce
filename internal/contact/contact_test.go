package contact

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+380501234567", "+380501234567", false},
		{"0501234567", "+380501234567", false},
		{"050 123-45-67", "+380501234567", false},
		{"+38 (050) 123 45 67", "+380501234567", false},
		{"380501234567", "", true},
		{"+38050123456", "", true},
		{"05012345678", "", true},
		{"phone", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPhone, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Buyer@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", got)

	_, err = NormalizeEmail("not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestPhoneTag(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterValidators(v))

	type form struct {
		Phone *string `validate:"omitempty,ua_phone"`
	}
	good, bad := "0671112233", "12345"

	assert.NoError(t, v.Struct(form{}))
	assert.NoError(t, v.Struct(form{Phone: &good}))
	assert.Error(t, v.Struct(form{Phone: &bad}))
}
