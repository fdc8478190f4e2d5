package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidCollectionName indicates a collection name failed validation.
var ErrInvalidCollectionName = errors.New("invalid collection name")

// collectionNamePattern matches valid collection names: lowercase
// alphanumeric with underscores, 1-64 chars, no leading/trailing underscore.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,62}[a-z0-9]?$`)

// ValidateCollectionName checks that a collection name conforms to the
// format both chromem and Qdrant accept.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCollectionName)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidCollectionName, MaxIdentifierLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: contains path characters", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must be lowercase alphanumeric with underscores", ErrInvalidCollectionName)
	}
	return nil
}
