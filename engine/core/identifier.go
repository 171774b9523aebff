package core

import (
	"fmt"

	"github.com/google/uuid"
)

// IdentifierNew returns a fresh unique identifier.
func IdentifierNew() string {
	return uuid.NewString()
}

// IdentifierTagged prefixes a fresh identifier with a human readable tag.
func IdentifierTagged(tag string) string {
	return fmt.Sprintf("%s-%s", tag, uuid.NewString())
}
