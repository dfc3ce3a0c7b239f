package resource

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the parent resource types that own cached state and comments.
type Kind int

const (
	// KindObject is an astronomical source (a "source" on the wire).
	KindObject Kind = iota + 1
	// KindSpectrum is a spectrum attached to an object.
	KindSpectrum
	// KindGcnEvent is a GCN event keyed by its trigger time.
	KindGcnEvent
	// KindShift is an observing shift.
	KindShift
	// KindEarthquake is an earthquake event.
	KindEarthquake
)

// ErrUnknownKind indicates that a kind tag did not match any known resource kind.
var ErrUnknownKind = errors.New("resource: unknown kind")

var kindNames = map[Kind]string{
	KindObject:     "object",
	KindSpectrum:   "spectrum",
	KindGcnEvent:   "gcn_event",
	KindShift:      "shift",
	KindEarthquake: "earthquake",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindObject, KindSpectrum, KindGcnEvent, KindShift, KindEarthquake}
}

// ParseKind resolves a textual tag such as "object" or "gcn_event".
func ParseKind(raw string) (Kind, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	for kind, name := range kindNames {
		if name == tag {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}
