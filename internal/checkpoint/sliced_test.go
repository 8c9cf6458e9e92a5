package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestSafetensors creates a minimal safetensors file with two
// dotted-key float32 tensors.
func writeTestSafetensors(t *testing.T, path string) {
	t.Helper()

	header := map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"encoder.layer.weight": map[string]any{
			"dtype":        "F32",
			"shape":        []int{2, 3},
			"data_offsets": []int64{0, 24},
		},
		"encoder.layer.bias": map[string]any{
			"dtype":        "F32",
			"shape":        []int{3},
			"data_offsets": []int64{24, 36},
		},
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	require.NoError(t, binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))))
	_, err = file.Write(headerJSON)
	require.NoError(t, err)

	for _, v := range []float32{1, 2, 3, 4, 5, 6} {
		require.NoError(t, binary.Write(file, binary.LittleEndian, v))
	}
	for _, v := range []float32{0.5, 0.5, 0.5} {
		require.NoError(t, binary.Write(file, binary.LittleEndian, v))
	}
}

func TestSlicedReaderStructure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeTestSafetensors(t, path)

	r := NewSlicedReader(path)
	defer r.Close()

	tree, err := r.Structure()
	require.NoError(t, err)

	encoder, ok := tree.Child("encoder")
	require.True(t, ok)
	layer, ok := encoder.Child("layer")
	require.True(t, ok)
	assert.Len(t, layer.Children, 2, "weight and bias grouped under shared prefix")

	weight, ok := layer.Child("weight")
	require.True(t, ok)
	info, ok := weight.Leaf.(TensorInfo)
	require.True(t, ok)
	assert.Equal(t, "float32", info.DType)
	assert.Equal(t, []int{2, 3}, info.Shape)
}

func TestSlicedReaderResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeTestSafetensors(t, path)

	r := NewSlicedReader(path)
	defer r.Close()

	stats, err := r.Resolve(KeyPath{"encoder", "layer", "weight"})
	require.NoError(t, err)
	require.NotNil(t, stats.Min)
	assert.Equal(t, 1.0, *stats.Min)
	assert.Equal(t, 6.0, *stats.Max)
	assert.Equal(t, 3.5, *stats.Mean)
	assert.Equal(t, []int{2, 3}, stats.Shape)
}

func TestSlicedReaderInsertResolveInverse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeTestSafetensors(t, path)

	r := NewSlicedReader(path)
	defer r.Close()

	tree, err := r.Structure()
	require.NoError(t, err)

	// Every leaf reachable in the structure tree must resolve when its
	// path is rejoined into the flat key.
	var walk func(node *TreeNode, path KeyPath)
	walk = func(node *TreeNode, path KeyPath) {
		if !node.IsGroup() {
			_, err := r.Resolve(path)
			assert.NoError(t, err, "path %v", path)
			return
		}
		for key, child := range node.Children {
			next := make(KeyPath, len(path), len(path)+1)
			copy(next, path)
			walk(child, append(next, key))
		}
	}
	walk(tree, nil)
}

func TestSlicedReaderPathNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeTestSafetensors(t, path)

	r := NewSlicedReader(path)
	defer r.Close()

	_, err := r.Resolve(KeyPath{"encoder", "missing"})
	var notFound *PathNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Error(), "encoder, missing")
}

func TestSlicedReaderLoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	r := NewSlicedReader(path)
	var loadErr *LoadError
	require.ErrorAs(t, r.Load(), &loadErr)
	assert.Equal(t, path, loadErr.Path)
}

func TestSlicedReaderLoadIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeTestSafetensors(t, path)

	r := NewSlicedReader(path)
	defer r.Close()
	require.NoError(t, r.Load())
	first := r.file
	require.NoError(t, r.Load())
	assert.Same(t, first, r.file, "second load reuses the open store")
}
