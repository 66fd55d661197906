package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(0.01, "Amount"))
	assert.NoError(t, ValidateAmount(1000000, "Amount"))

	assert.ErrorIs(t, ValidateAmount(0, "Amount"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateAmount(-1, "Amount"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateAmount(math.NaN(), "Amount"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateAmount(math.Inf(1), "Amount"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateAmount(math.Inf(-1), "Amount"), ErrValidationFailed)
}

func TestValidateCurrencyCode(t *testing.T) {
	assert.NoError(t, ValidateCurrencyCode("USD"))
	assert.NoError(t, ValidateCurrencyCode(" btc "))
	assert.NoError(t, ValidateCurrencyCode(""), "empty means use the default")

	assert.ErrorIs(t, ValidateCurrencyCode("US"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateCurrencyCode("DOLLAR"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateCurrencyCode("U$D"), ErrValidationFailed)
}

func TestValidateStringNotEmpty(t *testing.T) {
	assert.NoError(t, ValidateStringNotEmpty("x", "Field"))
	assert.ErrorIs(t, ValidateStringNotEmpty("", "Field"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateStringNotEmpty("   ", "Field"), ErrValidationFailed)
}

func TestValidateStringMaxLength(t *testing.T) {
	assert.NoError(t, ValidateStringMaxLength("abc", 3, "Field"))
	assert.ErrorIs(t, ValidateStringMaxLength("abcd", 3, "Field"), ErrValidationFailed)
}

func TestSanitizeDescription(t *testing.T) {
	assert.Equal(t, "coffee money", SanitizeDescription("  coffee money  "))
	assert.Equal(t, "hello", SanitizeDescription("<script>alert(1)</script>hello"))
	assert.Equal(t, "ab", SanitizeDescription("a\x00b"))
}
