package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIdentity indicates an identity with an unknown kind or an empty id.
var ErrInvalidIdentity = errors.New("resource: invalid identity")

// Identity names one resource instance. It is a value type and never mutated.
type Identity struct {
	Kind Kind
	ID   string
}

// NewIdentity validates the inputs and returns an Identity.
func NewIdentity(kind Kind, rawID string) (Identity, error) {
	if !kind.Valid() {
		return Identity{}, fmt.Errorf("%w: %s", ErrInvalidIdentity, kind)
	}
	id := strings.TrimSpace(rawID)
	if id == "" {
		return Identity{}, fmt.Errorf("%w: empty id", ErrInvalidIdentity)
	}
	return Identity{Kind: kind, ID: id}, nil
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.Kind == 0 && i.ID == ""
}

func (i Identity) String() string {
	return i.Kind.String() + ":" + i.ID
}

// NormalizeID converts a decoded JSON value into the canonical string form of
// an identifier so that 42, 42.0, json.Number("42") and "42" compare equal.
// The boolean is false when value carries no usable identifier.
func NormalizeID(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		trimmed := strings.TrimSpace(typed)
		return trimmed, trimmed != ""
	case json.Number:
		return NormalizeID(string(typed))
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10), true
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return NormalizeID(float64(typed))
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case int32:
		return strconv.FormatInt(int64(typed), 10), true
	case uint64:
		return strconv.FormatUint(typed, 10), true
	case fmt.Stringer:
		return NormalizeID(typed.String())
	default:
		return "", false
	}
}
