package ddl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/example/partition-rotator/internal/partition"
)

var ErrInvalidIdentifier = errors.New("ddl: invalid identifier")

// IdentifierError names the offending field so configuration mistakes are
// reported before anything reaches the store.
type IdentifierError struct {
	Field string
	Value string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("ddl: invalid %s %q", e.Field, e.Value)
}

func (e *IdentifierError) Unwrap() error { return ErrInvalidIdentifier }

const maxIdentLen = 128

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(field, v string) error {
	if len(v) > maxIdentLen || !identRe.MatchString(v) {
		return &IdentifierError{Field: field, Value: v}
	}
	return nil
}

func checkKey(k partition.Key) error {
	if !k.Valid() {
		return &IdentifierError{Field: "partition key", Value: string(k)}
	}
	return nil
}

// checkPath guards the only quoted literal that comes from configuration.
func checkPath(field, v string) error {
	if v == "" || strings.ContainsAny(v, "';\r\n\x00") {
		return &IdentifierError{Field: field, Value: v}
	}
	for _, r := range v {
		if r < 0x20 {
			return &IdentifierError{Field: field, Value: v}
		}
	}
	return nil
}
