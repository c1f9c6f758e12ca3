package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	if s, ok := e.Value.(string); ok && s != "" {
		return fmt.Sprintf("%s %q %s", e.Field, truncateValue(s), e.Message)
	}
	return e.Field + " " + e.Message
}

func truncateValue(s string) string {
	const max = 64
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// ValidationRule checks one value; nil means the value passed.
type ValidationRule func(field string, value any) *ValidationError

// Validator collects rule failures across fields so a request reports all of them at once.
type Validator struct {
	failures []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs rules against value and records every failure.
func (v *Validator) Field(field string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if f := rule(field, value); f != nil {
			v.failures = append(v.failures, *f)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool { return len(v.failures) > 0 }

func (v *Validator) Errors() []ValidationError { return v.failures }

// ErrorMessage joins all failures with "; ".
func (v *Validator) ErrorMessage() string {
	msgs := make([]string, len(v.failures))
	for i, f := range v.failures {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

func fail(field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// Required rejects nil, blank strings and empty string slices.
func Required(field string, value any) *ValidationError {
	switch v := value.(type) {
	case nil:
		return fail(field, value, "is required")
	case string:
		if strings.TrimSpace(v) == "" {
			return fail(field, value, "is required")
		}
	case []string:
		if len(v) == 0 {
			return fail(field, value, "must not be empty")
		}
	}
	return nil
}

// MaxLength rejects strings longer than max runes. Other types pass.
func MaxLength(max int) ValidationRule {
	return func(field string, value any) *ValidationError {
		if s, ok := value.(string); ok && utf8.RuneCountInString(s) > max {
			return fail(field, value, "must be at most %d characters", max)
		}
		return nil
	}
}

// OneOf accepts only the listed strings.
func OneOf(allowed ...string) ValidationRule {
	return func(field string, value any) *ValidationError {
		s, ok := value.(string)
		if !ok {
			return fail(field, value, "must be a string")
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fail(field, value, "must be one of %s", strings.Join(allowed, ", "))
	}
}

// NoBlankEntries rejects string slices with a blank entry.
func NoBlankEntries(field string, value any) *ValidationError {
	items, _ := value.([]string)
	for i, s := range items {
		if strings.TrimSpace(s) == "" {
			return fail(field, nil, "entry %d is blank", i)
		}
	}
	return nil
}

// ValidateAndReturnError turns collected failures into an AppError of the given kind
// wrapping ErrInvalidInput, or returns nil.
func ValidateAndReturnError(v *Validator, kind Kind, op string) error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError(kind, op, v.ErrorMessage(), ErrInvalidInput)
}
