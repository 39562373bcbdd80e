package dbmap

import (
	"regexp"
)

var (
	// identifierPattern matches mapping keys, property names and column names.
	// Rules: starts with letter or underscore, followed by letters/digits/underscores.
	identifierPattern = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)
)

const (
	// Maximum identifier length (most databases limit between 64-128)
	maxIdentifierLength = 128
)

// ValidateIdentifier checks a mapping key, property name or column name.
// Can be called externally to validate names before building a registry.
func ValidateIdentifier(name string) error {
	return validateIdentifier(name)
}

func validateIdentifier(name string) error {
	if name == "" {
		return newError(ErrCodeConfigurationInvalid, "identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return newError(ErrCodeConfigurationInvalid, "identifier '%s' exceeds maximum length of %d characters", name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return newError(ErrCodeConfigurationInvalid,
			"identifier '%s' contains invalid characters (only letters, digits, underscores allowed; must start with letter or underscore)", name)
	}
	return nil
}

// validateColumnName is looser than validateIdentifier: mapped columns may
// contain spaces because they are always emitted inside field enclosers.
func validateColumnName(name string) error {
	if name == "" {
		return newError(ErrCodeConfigurationInvalid, "column name cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return newError(ErrCodeConfigurationInvalid, "column '%s' exceeds maximum length of %d characters", name, maxIdentifierLength)
	}
	if sanitizeIdentifier(name) != name {
		return newError(ErrCodeConfigurationInvalid, "column '%s' contains characters outside letters, digits, spaces and underscores", name)
	}
	return nil
}
