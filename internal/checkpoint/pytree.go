package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yueduduo/pth-viewer/internal/tensorview"
)

// aggregateFileName is the MessagePack pytree aggregate inside a
// structured checkpoint directory.
const aggregateFileName = "checkpoint"

// paramsSubdir is the recognized substructure a checkpoint directory may
// nest its aggregate under.
const paramsSubdir = "params"

// PyTreeReader inspects structured checkpoint directories: a directory
// holding a MessagePack-encoded pytree aggregate, either directly or
// under a params subdirectory. Array leaves are encoded as maps of the
// form {"__ndarray__": true, "dtype": ..., "shape": [...], "data": bin}.
//
// A single-key {"value": X} or {"params": X} wrapper mapping is
// transparently unwrapped, at most once per traversed node, before the
// node's kind is inspected. The same rule applies during structure walks
// and resolve traversal.
type PyTreeReader struct {
	path   string
	root   any
	loaded bool
}

// NewPyTreeReader creates a reader for the given path, which may be the
// checkpoint directory itself or a file inside it. No I/O until Load.
func NewPyTreeReader(path string) *PyTreeReader {
	return &PyTreeReader{path: path}
}

// Format returns FormatPyTree.
func (r *PyTreeReader) Format() Format { return FormatPyTree }

// Path returns the requested location.
func (r *PyTreeReader) Path() string { return r.path }

// Load resolves the checkpoint directory, locates the aggregate file and
// restores the full tree into memory. Idempotent.
func (r *PyTreeReader) Load() error {
	if r.loaded {
		return nil
	}

	aggregate, err := r.findAggregate()
	if err != nil {
		return &LoadError{Path: r.path, Err: err}
	}
	data, err := os.ReadFile(aggregate)
	if err != nil {
		return &LoadError{Path: r.path, Err: err}
	}
	var root any
	if err := msgpack.Unmarshal(data, &root); err != nil {
		return &LoadError{Path: r.path, Err: fmt.Errorf("restore %s: %w", aggregate, err)}
	}

	r.root = root
	r.loaded = true
	return nil
}

// findAggregate ascends from a file to its containing directory and
// searches the recognized substructure, preferring params/checkpoint
// over a bare checkpoint file.
func (r *PyTreeReader) findAggregate() (string, error) {
	st, err := os.Stat(r.path)
	if err != nil {
		return "", err
	}
	dir := r.path
	if !st.IsDir() {
		if filepath.Base(r.path) == aggregateFileName {
			return r.path, nil
		}
		dir = filepath.Dir(r.path)
	}

	candidates := []string{
		filepath.Join(dir, paramsSubdir, aggregateFileName),
		filepath.Join(dir, aggregateFileName),
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no %q aggregate found under %s", aggregateFileName, dir)
}

// Structure walks the restored tree with the same mapping/sequence
// dispatch as the dense reader, tagging array leaves with their dtype
// and shape.
func (r *PyTreeReader) Structure() (*TreeNode, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	return pytreeSummary(r.root), nil
}

// Resolve walks the tree one segment at a time and computes statistics
// for the terminal array leaf.
func (r *PyTreeReader) Resolve(path KeyPath) (*Stats, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	node := r.root
	for _, seg := range path {
		next, err := pytreeStep(unwrapSingle(node), seg)
		if err != nil {
			return nil, &PathNotFoundError{Path: path, Cause: err.Error()}
		}
		node = next
	}
	node = unwrapSingle(node)

	nd, ok := asNDArray(node)
	if !ok {
		return nil, &NotATensorError{Path: path, Value: pytreeRenderValue(node)}
	}
	view, err := nd.view()
	if err != nil {
		return nil, &LoadError{Path: r.path, Err: err}
	}
	return FormatStats(view)
}

// Close drops the restored tree.
func (r *PyTreeReader) Close() error {
	r.root = nil
	r.loaded = false
	return nil
}

// unwrapSingle strips one {"value": X} / {"params": X} wrapper level.
// Applied at most once per node; callers re-apply at the next node.
func unwrapSingle(v any) any {
	switch m := v.(type) {
	case map[string]any:
		if len(m) != 1 {
			return v
		}
		for k, inner := range m {
			if k == "value" || k == paramsSubdir {
				return inner
			}
		}
	case map[any]any:
		if len(m) != 1 {
			return v
		}
		for k, inner := range m {
			if ks, ok := k.(string); ok && (ks == "value" || ks == paramsSubdir) {
				return inner
			}
		}
	}
	return v
}

func pytreeSummary(v any) *TreeNode {
	v = unwrapSingle(v)
	if nd, ok := asNDArray(v); ok {
		return NewLeaf(TensorInfo{DType: nd.dtypeName(), Shape: nd.shape})
	}
	switch t := v.(type) {
	case map[string]any:
		g := NewGroup()
		for k, child := range t {
			g.Children[k] = pytreeSummary(child)
		}
		return g
	case map[any]any:
		g := NewGroup()
		for k, child := range t {
			g.Children[keyString(k)] = pytreeSummary(child)
		}
		return g
	case []any:
		g := NewGroup()
		for i, child := range t {
			g.Children[strconv.Itoa(i)] = pytreeSummary(child)
		}
		return g
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return NewLeaf(ScalarValue{Value: t})
	default:
		return NewLeaf(ScalarValue{Value: pytreeRenderValue(v)})
	}
}

// pytreeStep resolves one segment against one (already unwrapped) node.
func pytreeStep(node any, seg string) (any, error) {
	switch t := node.(type) {
	case map[string]any:
		if v, ok := t[seg]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("key %q not in mapping", seg)
	case map[any]any:
		for k, v := range t {
			if keyString(k) == seg {
				return v, nil
			}
		}
		return nil, fmt.Errorf("key %q not in mapping", seg)
	case []any:
		return sequenceStep(t, seg)
	default:
		return nil, fmt.Errorf("cannot descend into %s with key %q", pytreeRenderValue(node), seg)
	}
}

func pytreeRenderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ndArray is a decoded array leaf.
type ndArray struct {
	dtype string
	shape []int
	data  []byte
}

// asNDArray recognizes the array-leaf encoding.
func asNDArray(v any) (*ndArray, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	flag, ok := m["__ndarray__"].(bool)
	if !ok || !flag {
		return nil, false
	}
	dtype, ok := m["dtype"].(string)
	if !ok {
		return nil, false
	}
	rawShape, ok := m["shape"].([]any)
	if !ok {
		return nil, false
	}
	shape := make([]int, 0, len(rawShape))
	for _, d := range rawShape {
		n, ok := toInt(d)
		if !ok {
			return nil, false
		}
		shape = append(shape, n)
	}
	data, _ := m["data"].([]byte)
	return &ndArray{dtype: dtype, shape: shape, data: data}, true
}

func (a *ndArray) dtypeName() string {
	if dt, err := tensorview.ParseDType(a.dtype); err == nil {
		return dt.String()
	}
	return a.dtype
}

func (a *ndArray) view() (*tensorview.View, error) {
	dt, err := tensorview.ParseDType(a.dtype)
	if err != nil {
		return nil, err
	}
	return tensorview.NewRaw(dt, tensorview.Shape(a.shape), a.data)
}

// toInt normalizes any MessagePack integer width.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}
