// Package sanitize provides identifier sanitization for collection and
// artifact names.
//
// Collection names in vector stores (Qdrant, chromem) must match
// ^[a-z0-9_]{1,64}$. Report artifact names are derived from free-form
// problem statements and go through the same rules.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for a sanitized identifier.
	// Qdrant and chromem require collection names to be 1-64 characters.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated
	// identifiers. Format: _<8-char-hash> = 9 characters total.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use in collection and artifact names.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Legal research is slow" -> "legal_research_is_slow"
//	"My Idea!"               -> "my_idea"
//	"" or "!!!"              -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIdentifierLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := s[:maxBase]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}

// ArtifactName builds the report artifact name for a session.
//
// Format: {sanitized_statement}-{session_id}
// Example: ArtifactName("Legal research is slow", "a1b2c3d4")
//
//	-> "legal_research_is_slow-a1b2c3d4"
//
// The statement component is sanitized and bounded; the session ID is
// appended verbatim so artifacts stay session-addressable.
func ArtifactName(statement, sessionID string) string {
	return Identifier(statement) + "-" + sessionID
}
