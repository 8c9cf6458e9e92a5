package checkpoint

import (
	"encoding/json"
	"strings"
)

// KeyPath is an ordered sequence of string segments addressing a position
// inside a checkpoint's root object. Segments may name dictionary keys,
// digit-string sequence indices, or members of opaque objects.
type KeyPath []string

// ParseKeyPath decodes a key expression. The canonical form is a
// JSON-encoded list of segments (`["policy", "net.0.weight"]`), which
// keeps dots inside a single dictionary key intact. Anything that does
// not parse as a JSON string list falls back to dot splitting.
func ParseKeyPath(expr string) KeyPath {
	var raw []any
	if err := json.Unmarshal([]byte(expr), &raw); err == nil {
		segments := make(KeyPath, 0, len(raw))
		ok := true
		for _, v := range raw {
			s, isStr := v.(string)
			if !isStr {
				ok = false
				break
			}
			segments = append(segments, s)
		}
		if ok {
			return segments
		}
	}
	return KeyPath(strings.Split(expr, "."))
}

// FlatKey rejoins the segments with dots, reconstructing the flat key
// used by flat-keyed stores.
func (p KeyPath) FlatKey() string {
	return strings.Join(p, ".")
}

// String renders the path for messages.
func (p KeyPath) String() string {
	return p.FlatKey()
}
