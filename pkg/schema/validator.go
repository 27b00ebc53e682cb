// Package schema validates canonical sales before they enter the catalog.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lanternetwork/saletracker/pkg/models"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validating a sale
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validator validates sales against the catalog schema. It never returns
// an error for invalid data; callers record failures from the result so
// an ingest run can treat them as diagnostics rather than fatal errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks field ranges and cross-field constraints on a sale
func (v *Validator) Validate(sale *models.Sale) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []ValidationError{}}

	addError := func(field, message string) {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Field: field, Message: message})
	}

	if err := v.validate.Struct(sale); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				addError(fieldName(fe), fieldMessage(fe))
			}
		} else {
			addError("", err.Error())
		}
	}

	if sale.PriceMin != nil && sale.PriceMax != nil && *sale.PriceMin > *sale.PriceMax {
		addError("price_min", "price_min must not exceed price_max")
	}

	if sale.StartAt != nil && sale.EndAt != nil && sale.EndAt.Before(*sale.StartAt) {
		addError("end_at", "end_at must not be before start_at")
	}

	if (sale.Lat == nil) != (sale.Lng == nil) {
		addError("lat", "lat and lng must be provided together")
	}

	return result
}

func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Title":
		return "title"
	case "Lat":
		return "lat"
	case "Lng":
		return "lng"
	case "PriceMin":
		return "price_min"
	case "PriceMax":
		return "price_max"
	default:
		return strings.ToLower(fe.Field())
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
