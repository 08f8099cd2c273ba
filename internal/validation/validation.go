package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrLocationEmpty is returned when a location name is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when a location name is below the minimum length.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when a location name exceeds the maximum length.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when a location name contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// LocationTag is the struct tag registered by NewValidator for location names.
const LocationTag = "location"

// ValidateLocationName trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters in any script, digits, space, comma,
// hyphen, and the Japanese middle dot. Bounds <= 0 are not enforced.
func ValidateLocationName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedLocationRune accepts letters (which covers kana, kanji, 々 and ー),
// digits, space, comma, hyphen, and ・.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '　', ',', '-', '・':
		return true
	}
	return false
}

// NewValidator returns a validator with the "location" tag registered. The tag
// accepts the empty string so it composes with "required" and "omitempty".
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation(LocationTag, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.TrimSpace(s) == "" {
			return true
		}
		_, err := ValidateLocationName(s, 0, 0)
		return err == nil
	})
	return v
}
