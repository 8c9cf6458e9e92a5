package checkpoint

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTensor(vals ...float32) *pytorch.Tensor {
	return &pytorch.Tensor{
		Source: &pytorch.FloatStorage{Data: vals},
		Size:   []int{len(vals)},
		Stride: []int{1},
	}
}

// testModule builds a decoded module instance the way the unpickler
// does: instantiate the stand-in class, then feed it BUILD state.
func testModule(t *testing.T, state map[string]any) *opaqueObject {
	t.Helper()
	v, err := (&opaqueClass{Module: "models", Name: "Net"}).PyNew()
	require.NoError(t, err)
	mod, ok := v.(*opaqueObject)
	require.True(t, ok)
	for k, val := range state {
		require.NoError(t, mod.PyDictSet(k, val))
	}
	return mod
}

func TestDenseSummary(t *testing.T) {
	sd := types.NewOrderedDict()
	sd.Set("weight", testTensor(1, 2, 3))
	sd.Set("bias", testTensor(0))

	root := &types.Dict{}
	root.Set("state_dict", sd)
	root.Set("epoch", 10)
	layers := &types.List{}
	layers.Append(testTensor(1))
	layers.Append("frozen")
	root.Set("layers", layers)

	tree := denseSummary(root)

	sdNode, ok := tree.Child("state_dict")
	require.True(t, ok)
	weight, ok := sdNode.Child("weight")
	require.True(t, ok)
	info, ok := weight.Leaf.(TensorInfo)
	require.True(t, ok)
	assert.Equal(t, "float32", info.DType)
	assert.Equal(t, []int{3}, info.Shape)

	epoch, ok := tree.Child("epoch")
	require.True(t, ok)
	assert.Equal(t, ScalarValue{Value: 10}, epoch.Leaf)

	layersNode, ok := tree.Child("layers")
	require.True(t, ok)
	_, ok = layersNode.Child("0")
	assert.True(t, ok, "sequences become index-keyed groups")
	frozen, ok := layersNode.Child("1")
	require.True(t, ok)
	assert.Equal(t, ScalarValue{Value: "frozen"}, frozen.Leaf)
}

func TestDenseSummaryExpandsModules(t *testing.T) {
	params := types.NewOrderedDict()
	params.Set("weight", testTensor(1))
	params.Set("bias", nil)
	buffers := types.NewOrderedDict()
	buffers.Set("running_mean", testTensor(0))
	children := types.NewOrderedDict()
	children.Set("fc", testModule(t, map[string]any{
		"_parameters": func() *types.OrderedDict {
			od := types.NewOrderedDict()
			od.Set("weight", testTensor(2, 3))
			return od
		}(),
	}))
	mod := testModule(t, map[string]any{
		"_parameters": params,
		"_buffers":    buffers,
		"_modules":    children,
		"training":    false,
	})

	tree := denseSummary(mod)
	require.True(t, tree.IsGroup(), "module presents as its parameter mapping")
	_, ok := tree.Child("weight")
	assert.True(t, ok)
	_, ok = tree.Child("running_mean")
	assert.True(t, ok, "buffers merge into the mapping")
	_, ok = tree.Child("bias")
	assert.False(t, ok, "nil-valued parameters are skipped")
	_, ok = tree.Child("training")
	assert.False(t, ok, "plain members stay out of the mapping")
	fc, ok := tree.Child("fc")
	require.True(t, ok, "child modules expand recursively")
	_, ok = fc.Child("weight")
	assert.True(t, ok)
}

func TestDenseSummaryOpaqueWithoutModuleState(t *testing.T) {
	mod := testModule(t, map[string]any{"lr": 0.1})

	tree := denseSummary(mod)
	require.False(t, tree.IsGroup())
	assert.Equal(t, ScalarValue{Value: "<class 'models.Net'>"}, tree.Leaf)
}

func TestDenseStepMapping(t *testing.T) {
	d := &types.Dict{}
	d.Set("policy", testTensor(1))
	d.Set(7, testTensor(2))

	v, err := denseStep(d, "policy")
	require.NoError(t, err)
	assert.IsType(t, &pytorch.Tensor{}, v)

	v, err = denseStep(d, "7")
	require.NoError(t, err, "digit segment retried as integer key")
	assert.IsType(t, &pytorch.Tensor{}, v)

	_, err = denseStep(d, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestDenseStepSequence(t *testing.T) {
	l := &types.List{}
	l.Append("a")
	l.Append("b")

	v, err := denseStep(l, "1")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = denseStep(l, "5")
	assert.Error(t, err, "out of range")

	_, err = denseStep(l, "weight")
	assert.Error(t, err, "non-digit subscript into a sequence")
}

func TestDenseStepModuleDispatchOrder(t *testing.T) {
	params := types.NewOrderedDict()
	params.Set("weight", testTensor(1))
	children := types.NewOrderedDict()
	children.Set("0", testTensor(9))
	mod := testModule(t, map[string]any{
		"_parameters": params,
		"_modules":    children,
		"training":    false,
	})

	v, err := denseStep(mod, "weight")
	require.NoError(t, err, "parameter mapping tried first")
	assert.IsType(t, &pytorch.Tensor{}, v)

	v, err = denseStep(mod, "training")
	require.NoError(t, err, "attribute access tried second")
	assert.Equal(t, false, v)

	v, ok := mod.Index(0)
	require.True(t, ok, "digit segments subscript the child modules")
	assert.IsType(t, &pytorch.Tensor{}, v)

	_, ok = mod.Index(3)
	assert.False(t, ok)

	_, err = denseStep(mod, "nonexistent")
	assert.Error(t, err)
}

func TestDenseStepScalarFails(t *testing.T) {
	_, err := denseStep(42, "weight")
	assert.Error(t, err, "cannot descend into a primitive")
}

func TestDenseResolveErrors(t *testing.T) {
	root := &types.Dict{}
	root.Set("epoch", 10)
	root.Set("weights", testTensor(1, 2))
	r := &DenseReader{path: "test.pt", root: root, loaded: true}

	_, err := r.Resolve(KeyPath{"missing", "weight"})
	var notFound *PathNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Error(), "missing, weight", "message carries the full requested path")

	_, err = r.Resolve(KeyPath{"epoch"})
	var notTensor *NotATensorError
	require.ErrorAs(t, err, &notTensor)
	assert.Contains(t, notTensor.Error(), "10", "message carries the value rendering")

	stats, err := r.Resolve(KeyPath{"weights"})
	require.NoError(t, err)
	require.NotNil(t, stats.Mean)
	assert.Equal(t, 1.5, *stats.Mean)
}

func TestDenseViewHonorsOffsetAndStride(t *testing.T) {
	// A transposed 2x2 view over storage [1 2 3 4] starting at offset 1:
	// rows read down the columns of the underlying data.
	tensor := &pytorch.Tensor{
		Source:        &pytorch.FloatStorage{Data: []float32{0, 1, 2, 3, 4}},
		StorageOffset: 1,
		Size:          []int{2, 2},
		Stride:        []int{1, 2},
	}

	view, err := denseView(tensor)
	require.NoError(t, err)
	vals, err := view.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2, 4}, vals)
}

func TestDenseViewScalar(t *testing.T) {
	tensor := &pytorch.Tensor{
		Source: &pytorch.FloatStorage{Data: []float32{5}},
		Size:   []int{},
		Stride: []int{},
	}

	view, err := denseView(tensor)
	require.NoError(t, err)
	vals, err := view.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, vals)
}

// legacyPickleHeader is the preamble of the non-archive serialization
// format: magic number, protocol version 1001, and system info, each a
// pickle of its own.
func legacyPickleHeader() []byte {
	var b bytes.Buffer
	b.WriteString("\x80\x02\x8a\x0a")
	b.Write([]byte{0x6c, 0xfc, 0x9c, 0x46, 0xf9, 0x20, 0x6a, 0xa8, 0x50, 0x19})
	b.WriteString(".")
	b.WriteString("\x80\x02M\xe9\x03.")
	b.WriteString("\x80\x02}.")
	return b.Bytes()
}

// writeLegacyCheckpoint lays out a legacy checkpoint file: the header
// pickles, the main object pickle, the storage key list pickle, and the
// raw storage payloads.
func writeLegacyCheckpoint(t *testing.T, path, object, storageKeys string, payload []byte) {
	t.Helper()
	var b bytes.Buffer
	b.Write(legacyPickleHeader())
	b.WriteString(object)
	b.WriteString(storageKeys)
	b.Write(payload)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestDenseReaderLoadScalars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_state.pt")
	// {"epoch": 3}, no tensor storages.
	writeLegacyCheckpoint(t, path, "\x80\x02}U\x05epochK\x03s.", "\x80\x02].", nil)

	r := NewDenseReader(path)
	defer r.Close()
	tree, err := r.Structure()
	require.NoError(t, err)
	epoch, ok := tree.Child("epoch")
	require.True(t, ok)
	assert.Equal(t, ScalarValue{Value: 3}, epoch.Leaf)

	require.NoError(t, r.Load(), "reloading an already loaded reader is a no-op")
}

func TestDenseReaderLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))

	r := NewDenseReader(path)
	defer r.Close()
	err := r.Load()
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.Path)
}

func TestDenseReaderLoadExpandsUnknownModule(t *testing.T) {
	// A whole serialized model: an instance of a class the decoder does
	// not know, holding one float32 parameter of two elements. The first
	// decode attempt rejects the instance's BUILD state; the stand-in
	// retry accepts it and presents the parameter mapping.
	object := "\x80\x02" +
		"cmodels\nNet\n" +
		")\x81" +
		"}" +
		"U\x0b_parameters" +
		"ccollections\nOrderedDict\n)R" +
		"U\x06weight" +
		"ctorch._utils\n_rebuild_tensor_v2\n" +
		"(" +
		"(U\x07storagectorch\nFloatStorage\nU\x010U\x03cpuK\x02NtQ" +
		"K\x00" +
		"K\x02\x85" +
		"K\x01\x85" +
		"\x89" +
		"}" +
		"tR" +
		"ss" +
		"b."
	storageKeys := "\x80\x02]U\x010a."
	var payload bytes.Buffer
	require.NoError(t, binary.Write(&payload, binary.LittleEndian, int64(2)))
	require.NoError(t, binary.Write(&payload, binary.LittleEndian, []float32{1.5, 2.5}))

	path := filepath.Join(t.TempDir(), "model.pt")
	writeLegacyCheckpoint(t, path, object, storageKeys, payload.Bytes())

	r := NewDenseReader(path)
	defer r.Close()
	tree, err := r.Structure()
	require.NoError(t, err)
	weight, ok := tree.Child("weight")
	require.True(t, ok, "module instance presents as its parameter mapping")
	info, ok := weight.Leaf.(TensorInfo)
	require.True(t, ok)
	assert.Equal(t, "float32", info.DType)
	assert.Equal(t, []int{2}, info.Shape)

	stats, err := r.Resolve(KeyPath{"weight"})
	require.NoError(t, err)
	require.NotNil(t, stats.Min)
	assert.Equal(t, 1.5, *stats.Min)
	assert.Equal(t, 2.5, *stats.Max)
	assert.Equal(t, 2.0, *stats.Mean)
}

func TestStorageDTypeName(t *testing.T) {
	assert.Equal(t, "float32", storageDTypeName(&pytorch.FloatStorage{}))
	assert.Equal(t, "float16", storageDTypeName(&pytorch.HalfStorage{}))
	assert.Equal(t, "bfloat16", storageDTypeName(&pytorch.BFloat16Storage{}))
	assert.Equal(t, "int64", storageDTypeName(&pytorch.LongStorage{}))
	assert.Equal(t, "bool", storageDTypeName(&pytorch.BoolStorage{}))
}
