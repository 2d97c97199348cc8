package refund

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// ReferencePattern is the fixed wire format of a refund reference.
var ReferencePattern = regexp.MustCompile(`^RF-\d{4}-\d{4}-\d{4}-\d{4}$`)

// NewReference allocates a refund reference of the form
// RF-####-####-####-#### using a cryptographic source. Uniqueness is
// enforced by the database unique index; callers retry on collision.
func NewReference() (string, error) {
	groups := make([]string, 4)
	for i := range groups {
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		groups[i] = fmt.Sprintf("%04d", n.Int64())
	}
	return fmt.Sprintf("RF-%s-%s-%s-%s", groups[0], groups[1], groups[2], groups[3]), nil
}

// ValidReference reports whether the reference matches the wire format.
func ValidReference(reference string) bool {
	return ReferencePattern.MatchString(reference)
}
