package checkpoint

import (
	"fmt"
	"strconv"

	"github.com/nlpodyssey/gopickle/types"
)

// opaqueClass stands in for a class the decoder cannot resolve. It
// satisfies the unpickler's instantiation hooks, so object graphs that
// reference arbitrary classes still decode structurally.
type opaqueClass struct {
	Module string
	Name   string
}

// Call instantiates through REDUCE. Constructor arguments are dropped.
func (c *opaqueClass) Call(args ...any) (any, error) {
	return newOpaqueObject(c), nil
}

// PyNew instantiates through NEWOBJ.
func (c *opaqueClass) PyNew(args ...any) (any, error) {
	return newOpaqueObject(c), nil
}

func (c *opaqueClass) String() string {
	return fmt.Sprintf("<class '%s.%s'>", c.Module, c.Name)
}

// opaqueObject is an instance of an unresolved class. Its BUILD state
// is captured member by member; instances carrying the serialized
// module member layout (_parameters, _buffers, _modules) present as
// modules through the moduleObject interface.
type opaqueObject struct {
	class *opaqueClass
	attrs *types.OrderedDict
}

func newOpaqueObject(class *opaqueClass) *opaqueObject {
	return &opaqueObject{class: class, attrs: types.NewOrderedDict()}
}

// PyDictSet stores one member from the instance's BUILD state.
func (o *opaqueObject) PyDictSet(key, value any) error {
	o.attrs.Set(key, value)
	return nil
}

func (o *opaqueObject) String() string { return o.class.String() }

// moduleStateAttrs are the members a serialized module instance keeps
// its parameters, buffers, and child modules under.
var moduleStateAttrs = []string{"_parameters", "_buffers", "_modules"}

// StateDict merges parameters, buffers, and child modules into a single
// mapping, the shape a state dict presents. Nil-valued entries are
// skipped. Returns nil when the object carries no module-style state.
func (o *opaqueObject) StateDict() *types.OrderedDict {
	found := false
	out := types.NewOrderedDict()
	for _, attr := range moduleStateAttrs {
		v, ok := o.attrs.Get(attr)
		if !ok {
			continue
		}
		if forEachEntry(v, func(k, val any) {
			if val != nil {
				out.Set(keyString(k), val)
			}
		}) {
			found = true
		}
	}
	if !found {
		return nil
	}
	return out
}

// Attr performs attribute-style member access.
func (o *opaqueObject) Attr(name string) (any, bool) {
	return o.attrs.Get(name)
}

// Index performs a positional subscript. Sequential containers key
// their children by decimal strings under _modules.
func (o *opaqueObject) Index(i int) (any, bool) {
	mods, ok := o.attrs.Get("_modules")
	if !ok {
		return nil, false
	}
	want := strconv.Itoa(i)
	var out any
	found := false
	forEachEntry(mods, func(k, v any) {
		if !found && keyString(k) == want {
			out, found = v, true
		}
	})
	return out, found
}

// forEachEntry iterates a decoded mapping and reports whether v was a
// mapping at all.
func forEachEntry(v any, fn func(k, val any)) bool {
	switch t := v.(type) {
	case *types.OrderedDict:
		for k, entry := range t.Map {
			fn(k, entry.Value)
		}
		return true
	case *types.Dict:
		for _, entry := range *t {
			fn(entry.Key, entry.Value)
		}
		return true
	default:
		return false
	}
}
