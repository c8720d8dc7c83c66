package services

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalWallet trims and lower-cases a wallet address so that
// checksummed and plain hex forms compare equal.
func CanonicalWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// CanonicalEmail normalizes and case-folds an email address.
func CanonicalEmail(email string) string {
	// Casers are stateful, so each call gets its own.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(email)))
}

// pathDelimiters cannot appear inside a path segment a client builds by
// plain concatenation.
var pathDelimiters = map[rune]string{'/': "-", '?': "-", '#': "-"}

// EventSlug derives the URL slug for an event name: runs of whitespace
// become a single hyphen and case and punctuation are kept, so distinct
// names keep distinct slugs.
func EventSlug(name string) string {
	return slug.SubstituteRune(strings.Join(strings.Fields(name), "-"), pathDelimiters)
}

func requireWallet(field, wallet string) (string, error) {
	w := CanonicalWallet(wallet)
	if w == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return w, nil
}
