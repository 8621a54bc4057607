package sipvalidator

// EligibilityChecker decides whether a valid bag can become an AIP.
// Implementations must not depend on mutable state.
type EligibilityChecker interface {
	Check(path string) ValidationResult
}

// AlwaysEligible accepts every bag
type AlwaysEligible struct{}

// Check always returns a valid result
func (AlwaysEligible) Check(path string) ValidationResult {
	return ValidationResult{Valid: true}
}
