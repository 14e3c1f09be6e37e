package utils

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned when a tenant or knowledge-base id contains invalid characters
	ErrInvalidIdentifier = errors.New("identifier contains invalid characters")
	// ErrInvalidEntityType is returned when an entity type is invalid
	ErrInvalidEntityType = errors.New("invalid entity type")
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateIdentifier checks that id is non-empty ASCII alphanumerics, dashes or underscores.
func ValidateIdentifier(name, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, name, id)
	}
	return nil
}

// ValidateEntityTypes rejects empty or duplicate entity type names.
func ValidateEntityTypes(entityTypes []string) error {
	seen := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		k := strings.ToLower(strings.TrimSpace(t))
		if k == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidEntityType)
		}
		if seen[k] {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidEntityType, t)
		}
		seen[k] = true
	}
	return nil
}

// ValidateRequired checks that required fields are not empty
func ValidateRequired(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required fields missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateRange checks if a value is within the specified range
func ValidateRange(value, min, max float64) error {
	if value < min || value > max {
		return fmt.Errorf("value %f is out of range [%f, %f]", value, min, max)
	}
	return nil
}
