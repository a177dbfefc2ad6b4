// Package triple implements the EAV triple store that underlies
// triplit's document model (spec.md §2 C3, §3 "Data model"). Triples
// are (entity, attribute path, value, timestamp, tombstone) tuples kept
// over a kv.Store; the store maintains an EAV index (by entity) and an
// AEV index (by collection+attribute) so the schema data-safety checker
// can scan by attribute rather than walking every entity.
package triple

import (
	"strings"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/errkit"
)

// EntityID is an entity identifier of the form "<collection>#<externalId>"
// (spec.md §3).
type EntityID string

// NewEntityID joins a collection name and external id into an EntityID.
// externalId must not contain '#' (spec.md §6 "Id constraint").
func NewEntityID(collection, externalID string) (EntityID, error) {
	if strings.Contains(externalID, "#") {
		return "", errkit.New(errkit.InvalidEntityId, "external id %q must not contain '#'", externalID)
	}
	return EntityID(collection + "#" + externalID), nil
}

// Collection returns the collection-name portion of e.
func (e EntityID) Collection() string {
	s := string(e)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}

// ExternalID returns the id portion of e, after the '#'.
func (e EntityID) ExternalID() string {
	s := string(e)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func (e EntityID) validate() error {
	s := string(e)
	i := strings.IndexByte(s, '#')
	if i < 0 || i == 0 || i == len(s)-1 {
		return errkit.New(errkit.InvalidInternalEntityId, "malformed internal entity id %q", s)
	}
	return nil
}

// Path is an attribute path: an ordered sequence of segments, always
// prefixed by the collection name (spec.md §3). Segments are rendered
// as strings; non-string segments (set members that are numbers or
// booleans) are canonicalized to their string form by the caller via
// SegmentOf.
type Path []string

// Equal reports whether p and o have the same segments in the same order.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string { return strings.Join(p, ".") }

// Join returns a new Path with extra segments appended.
func (p Path) Join(extra ...string) Path {
	out := make(Path, 0, len(p)+len(extra))
	out = append(out, p...)
	out = append(out, extra...)
	return out
}

// SegmentOf canonicalizes an arbitrary set-member value to its string
// path-segment form.
func SegmentOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return toNumberString(x)
	}
}

// CollectionMarkerAttr is the synthetic attribute every entity carries
// recording which collection it belongs to (spec.md §3 "Collection").
const CollectionMarkerAttr = "_collection"

// Triple is the atomic unit of state (spec.md §3, GLOSSARY).
type Triple struct {
	E       EntityID
	A       Path
	V       interface{}
	T       clock.Timestamp
	Expired bool
}
