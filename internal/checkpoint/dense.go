package checkpoint

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/yueduduo/pth-viewer/internal/tensorview"
)

// DenseReader inspects whole-file pickle-style object graphs (.pt, .pth,
// .bin and anything unrecognized). Load deserializes the entire file into
// one root object; structure and resolution walk that graph.
type DenseReader struct {
	path   string
	root   any
	loaded bool
}

// NewDenseReader creates a reader for the given file. No I/O happens
// until Load.
func NewDenseReader(path string) *DenseReader {
	return &DenseReader{path: path}
}

// Format returns FormatDense.
func (r *DenseReader) Format() Format { return FormatDense }

// Path returns the checkpoint location.
func (r *DenseReader) Path() string { return r.path }

// Load deserializes the whole file into one root object. On failure it
// retries once with a reduced-compatibility unpickler that stubs out
// unresolvable classes, then surfaces the original error. Idempotent.
func (r *DenseReader) Load() error {
	if r.loaded {
		return nil
	}
	root, err := pytorch.Load(r.path)
	if err != nil {
		root, permErr := loadPermissive(r.path)
		if permErr != nil {
			return &LoadError{Path: r.path, Err: err}
		}
		r.root = root
		r.loaded = true
		return nil
	}
	r.root = root
	r.loaded = true
	return nil
}

// loadPermissive retries deserialization with every unresolvable class
// replaced by an opaque stand-in whose instances accept BUILD state, so
// graphs referencing classes we do not model still decode structurally.
// Stand-ins that carry the serialized module member layout present as
// their parameter mapping.
func loadPermissive(path string) (any, error) {
	return pytorch.LoadWithUnpickler(path, func(rd io.Reader) pickle.Unpickler {
		u := pickle.NewUnpickler(rd)
		u.FindClass = func(module, name string) (any, error) {
			if module == "collections" && name == "OrderedDict" {
				return &types.OrderedDictClass{}, nil
			}
			return &opaqueClass{Module: module, Name: name}, nil
		}
		return u
	})
}

// Structure recursively walks the root object: mappings become groups,
// sequences become index-keyed groups, tensors become tensor leaves,
// serialized module objects are expanded into their parameter mapping,
// primitives pass through, and anything else becomes a string tag of its
// runtime type.
func (r *DenseReader) Structure() (*TreeNode, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	return denseSummary(r.root), nil
}

// Resolve walks the root one segment at a time with per-node-kind
// dispatch and computes statistics for the terminal tensor.
func (r *DenseReader) Resolve(path KeyPath) (*Stats, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	node := r.root
	for _, seg := range path {
		next, err := denseStep(node, seg)
		if err != nil {
			return nil, &PathNotFoundError{Path: path, Cause: err.Error()}
		}
		node = next
	}
	t, ok := node.(*pytorch.Tensor)
	if !ok {
		return nil, &NotATensorError{Path: path, Value: renderValue(node)}
	}
	view, err := denseView(t)
	if err != nil {
		return nil, &LoadError{Path: r.path, Err: err}
	}
	return FormatStats(view)
}

// Close drops the decoded root.
func (r *DenseReader) Close() error {
	r.root = nil
	r.loaded = false
	return nil
}

// moduleObject is an opaque decoded object that exposes a parameter and
// buffer mapping plus named members, the way serialized module instances
// do. Resolution tries the expanded mapping first, then attribute-style
// access, then positional subscripts for digit segments.
type moduleObject interface {
	// StateDict returns the expanded parameter/buffer mapping, or nil.
	StateDict() *types.OrderedDict

	// Attr performs attribute-style member access.
	Attr(name string) (any, bool)

	// Index performs a positional subscript, for sequential containers.
	Index(i int) (any, bool)
}

func denseSummary(v any) *TreeNode {
	switch t := v.(type) {
	case *types.Dict:
		g := NewGroup()
		for _, entry := range *t {
			g.Children[keyString(entry.Key)] = denseSummary(entry.Value)
		}
		return g
	case *types.OrderedDict:
		g := NewGroup()
		for k, entry := range t.Map {
			g.Children[keyString(k)] = denseSummary(entry.Value)
		}
		return g
	case *types.List:
		g := NewGroup()
		for i, item := range *t {
			g.Children[strconv.Itoa(i)] = denseSummary(item)
		}
		return g
	case *types.Tuple:
		g := NewGroup()
		for i, item := range *t {
			g.Children[strconv.Itoa(i)] = denseSummary(item)
		}
		return g
	case *pytorch.Tensor:
		return NewLeaf(TensorInfo{DType: storageDTypeName(t.Source), Shape: t.Size})
	case moduleObject:
		// Present module objects as if they were their parameter mapping.
		if sd := t.StateDict(); sd != nil {
			return denseSummary(sd)
		}
		return NewLeaf(ScalarValue{Value: renderValue(v)})
	case nil, bool, string, int, int8, int16, int32, int64, uint8, float32, float64:
		return NewLeaf(ScalarValue{Value: t})
	default:
		return NewLeaf(ScalarValue{Value: renderValue(v)})
	}
}

// denseStep resolves one key path segment against one node.
func denseStep(node any, seg string) (any, error) {
	switch t := node.(type) {
	case *types.List:
		return sequenceStep([]any(*t), seg)
	case *types.Tuple:
		return sequenceStep([]any(*t), seg)
	case moduleObject:
		if sd := t.StateDict(); sd != nil {
			if v, ok := sd.Get(seg); ok {
				return v, nil
			}
		}
		if v, ok := t.Attr(seg); ok {
			return v, nil
		}
		if i, ok := parseIndex(seg); ok {
			if v, ok := t.Index(i); ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("no parameter, member or index %q in %s", seg, renderValue(node))
	case *types.Dict:
		if v, ok := t.Get(seg); ok {
			return v, nil
		}
		// Integer-keyed mappings, e.g. optimizer state.
		if i, ok := parseIndex(seg); ok {
			if v, ok := t.Get(i); ok {
				return v, nil
			}
			if v, ok := t.Get(int64(i)); ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("key %q not in dict", seg)
	case *types.OrderedDict:
		if v, ok := t.Get(seg); ok {
			return v, nil
		}
		if i, ok := parseIndex(seg); ok {
			if v, ok := t.Get(i); ok {
				return v, nil
			}
			if v, ok := t.Get(int64(i)); ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("key %q not in dict", seg)
	default:
		return nil, fmt.Errorf("cannot descend into %s with key %q", renderValue(node), seg)
	}
}

// sequenceStep subscripts a sequence. Digit segments become integer
// indices; anything else is a direct subscript, which on a sequence can
// only fail and surfaces as a path lookup error.
func sequenceStep(items []any, seg string) (any, error) {
	i, ok := parseIndex(seg)
	if !ok {
		return nil, fmt.Errorf("invalid index %q into sequence", seg)
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("index %d out of range for sequence of length %d", i, len(items))
	}
	return items[i], nil
}

// parseIndex reports whether seg is a digit string and its integer value.
func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return i, true
}

// keyString renders a mapping key as a tree key.
func keyString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", k)
	}
}

// renderValue produces the string rendering used in error messages and
// type tags, e.g. for NotATensor.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool, int, int8, int16, int32, int64, uint8, float32, float64:
		return fmt.Sprintf("%v", t)
	case *opaqueClass:
		return t.String()
	case *opaqueObject:
		return t.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// storageDTypeName maps a pytorch storage to its torch dtype name.
func storageDTypeName(s any) string {
	switch s.(type) {
	case *pytorch.HalfStorage:
		return "float16"
	case *pytorch.BFloat16Storage:
		return "bfloat16"
	case *pytorch.FloatStorage:
		return "float32"
	case *pytorch.DoubleStorage:
		return "float64"
	case *pytorch.CharStorage:
		return "int8"
	case *pytorch.ShortStorage:
		return "int16"
	case *pytorch.IntStorage:
		return "int32"
	case *pytorch.LongStorage:
		return "int64"
	case *pytorch.ByteStorage:
		return "uint8"
	case *pytorch.BoolStorage:
		return "bool"
	default:
		return "unknown"
	}
}

// storageFloat64s converts a storage's full payload to float64 values.
func storageFloat64s(s any) ([]float64, tensorview.DataType, error) {
	switch t := s.(type) {
	case *pytorch.HalfStorage:
		return float32sTo64(t.Data), tensorview.Float16, nil
	case *pytorch.BFloat16Storage:
		return float32sTo64(t.Data), tensorview.BFloat16, nil
	case *pytorch.FloatStorage:
		return float32sTo64(t.Data), tensorview.Float32, nil
	case *pytorch.DoubleStorage:
		out := make([]float64, len(t.Data))
		copy(out, t.Data)
		return out, tensorview.Float64, nil
	case *pytorch.CharStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, tensorview.Int8, nil
	case *pytorch.ShortStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, tensorview.Int16, nil
	case *pytorch.IntStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, tensorview.Int32, nil
	case *pytorch.LongStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, tensorview.Int64, nil
	case *pytorch.ByteStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, tensorview.Uint8, nil
	case *pytorch.BoolStorage:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			if v {
				out[i] = 1
			}
		}
		return out, tensorview.Bool, nil
	default:
		return nil, 0, fmt.Errorf("unsupported storage type %T", s)
	}
}

func float32sTo64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// denseView gathers a tensor's elements in row-major order, honoring the
// tensor's storage offset and strides, and wraps them as a tensor handle.
func denseView(t *pytorch.Tensor) (*tensorview.View, error) {
	all, dtype, err := storageFloat64s(t.Source)
	if err != nil {
		return nil, err
	}

	shape := tensorview.Shape(t.Size).Clone()
	n := shape.NumElements()
	out := make([]float64, 0, n)

	stride := t.Stride
	if len(stride) != len(shape) {
		stride = rowMajorStrides(shape)
	}
	base := int(t.StorageOffset)

	if n > 0 {
		idx := make([]int, len(shape))
		for {
			off := base
			for d := range idx {
				off += idx[d] * stride[d]
			}
			if off < 0 || off >= len(all) {
				return nil, fmt.Errorf("tensor element offset %d outside storage of %d elements", off, len(all))
			}
			out = append(out, all[off])

			d := len(idx) - 1
			for ; d >= 0; d-- {
				idx[d]++
				if idx[d] < shape[d] {
					break
				}
				idx[d] = 0
			}
			if d < 0 {
				break
			}
		}
	}

	return tensorview.FromFloat64s(dtype, shape, out)
}

func rowMajorStrides(shape tensorview.Shape) []int {
	strides := make([]int, len(shape))
	if len(shape) == 0 {
		return strides
	}
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}
