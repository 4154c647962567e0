package service

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var academicYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// ValidAcademicYear reports whether year reads "YYYY-YYYY" with consecutive years.
func ValidAcademicYear(year string) bool {
	m := academicYearPattern.FindStringSubmatch(year)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return end == start+1
}

var rosterRules = map[string]validator.Func{
	"academicyear": func(fl validator.FieldLevel) bool {
		return ValidAcademicYear(fl.Field().String())
	},
}

// NewValidator returns a validator with the roster rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	registerRules(v)
	return v
}

// registerRules installs the roster rules on v. A rule that cannot be
// registered would make every tagged struct panic later, so it panics here.
func registerRules(v *validator.Validate) {
	if err := registerValidations(v, rosterRules); err != nil {
		panic(err)
	}
}

func registerValidations(v *validator.Validate, rules map[string]validator.Func) error {
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %q validation: %w", tag, err)
		}
	}
	return nil
}
