package sipvalidator

import (
	"context"
	"errors"
	"fmt"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/bagit"
)

// ValidationResult is the outcome of a validation step. Detail explains a negative result.
type ValidationResult struct {
	Valid  bool
	Detail string
}

// BagValidator checks the bag at path. A defective bag is a negative result,
// an error means validation itself could not be done.
type BagValidator interface {
	Validate(ctx context.Context, path string) (ValidationResult, error)
}

// BagItValidator validates bags on disk with the bagit package
type BagItValidator struct {
	Workers int
}

// NewBagItValidator returns a validator hashing payload files with workers goroutines
func NewBagItValidator(workers int) *BagItValidator {
	return &BagItValidator{Workers: workers}
}

// Validate opens the bag and verifies its structure, completeness and checksums
func (v *BagItValidator) Validate(ctx context.Context, path string) (ValidationResult, error) {
	err := bagit.ValidatePath(ctx, path, v.Workers)
	if err == nil {
		return ValidationResult{Valid: true}, nil
	}

	var bagErr *bagit.BagError
	var validationErr *bagit.ValidationError
	if errors.As(err, &bagErr) || errors.As(err, &validationErr) {
		return ValidationResult{Detail: err.Error()}, nil
	}
	return ValidationResult{}, err
}

func bagMessage(path string, result ValidationResult) string {
	if result.Valid {
		return fmt.Sprintf("Path '%s' is a valid bag", path)
	}
	return fmt.Sprintf("Path '%s' is not a valid bag: %s", path, result.Detail)
}

func sipMessage(path string, result ValidationResult) string {
	if result.Valid {
		return fmt.Sprintf("Path '%s' is a valid SIP", path)
	}
	return fmt.Sprintf("Path '%s' is not a valid SIP: %s", path, result.Detail)
}
