package service

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAcademicYear(t *testing.T) {
	assert.True(t, ValidAcademicYear("2024-2025"))
	assert.False(t, ValidAcademicYear("2024-2026"))
	assert.False(t, ValidAcademicYear("2024"))
	assert.False(t, ValidAcademicYear("24-25"))
}

func TestNewValidatorAppliesAcademicYearRule(t *testing.T) {
	type payload struct {
		Year string `validate:"academicyear"`
	}
	v := NewValidator()
	assert.NoError(t, v.Struct(payload{Year: "2023-2024"}))
	assert.Error(t, v.Struct(payload{Year: "2023-2025"}))
}

func TestRegisterValidationsReportsFailure(t *testing.T) {
	broken := map[string]validator.Func{"": func(validator.FieldLevel) bool { return true }}

	err := registerValidations(validator.New(), broken)
	require.Error(t, err)
	assert.NoError(t, registerValidations(validator.New(), rosterRules))
}
