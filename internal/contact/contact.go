// Package contact validates and normalizes buyer contact details.
package contact

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PhoneTag is the validator tag for Ukrainian phone numbers
const PhoneTag = "ua_phone"

var (
	ErrInvalidPhone = errors.New("phone must look like +380XXXXXXXXX or 0XXXXXXXXX")
	ErrInvalidEmail = errors.New("invalid email address")
)

var (
	phonePattern = regexp.MustCompile(`^(\+380\d{9}|0\d{9})$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = RegisterValidators(v)
	return v
}

// RegisterValidators installs the ua_phone rule on v
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation(PhoneTag, func(fl validator.FieldLevel) bool {
		_, err := NormalizePhone(fl.Field().String())
		return err == nil
	})
}

// NormalizePhone accepts +380XXXXXXXXX or 0XXXXXXXXX (spaces, dashes and
// parentheses ignored) and returns the +380 form.
func NormalizePhone(phone string) (string, error) {
	cleaned := phoneNoise.Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidPhone
	}
	if strings.HasPrefix(cleaned, "0") {
		return "+38" + cleaned, nil
	}
	return cleaned, nil
}

// NormalizeEmail trims and lower-cases an email after checking its shape
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}
