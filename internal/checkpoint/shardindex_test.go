package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindShardIndexPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	requested := filepath.Join(dir, "shard1.bin")

	_, ok := FindShardIndex(requested)
	assert.False(t, ok, "no manifest present")

	write("shard1.bin.index.json")
	got, ok := FindShardIndex(requested)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "shard1.bin.index.json"), got)

	write("pytorch_model.bin.index.json")
	got, _ = FindShardIndex(requested)
	assert.Equal(t, filepath.Join(dir, "pytorch_model.bin.index.json"), got,
		"generic legacy manifest outranks the per-file manifest")

	write("model.safetensors.index.json")
	got, _ = FindShardIndex(requested)
	assert.Equal(t, filepath.Join(dir, "model.safetensors.index.json"), got,
		"safetensors manifest has top priority")
}

func TestReadShardIndexBuildsReferenceTree(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"weight_map": {"layer.0.weight": "shard1.bin", "layer.1.weight": "shard2.bin"}}`
	indexFile := filepath.Join(dir, "pytorch_model.bin.index.json")
	require.NoError(t, os.WriteFile(indexFile, []byte(manifest), 0o644))

	tree, err := ReadShardIndex(indexFile, filepath.Join(dir, "shard1.bin"))
	require.NoError(t, err)

	layer, ok := tree.Child("layer")
	require.True(t, ok)

	l0, ok := layer.Child("0")
	require.True(t, ok)
	w0, ok := l0.Child("weight")
	require.True(t, ok)
	assert.Equal(t, TensorRef{Location: "Current File"}, w0.Leaf)

	l1, ok := layer.Child("1")
	require.True(t, ok)
	w1, ok := l1.Child("weight")
	require.True(t, ok)
	assert.Equal(t, TensorRef{Location: "File: shard2.bin"}, w1.Leaf)
}

func TestReadShardIndexUnparsable(t *testing.T) {
	dir := t.TempDir()
	indexFile := filepath.Join(dir, "model.safetensors.index.json")
	require.NoError(t, os.WriteFile(indexFile, []byte("not json"), 0o644))

	_, err := ReadShardIndex(indexFile, "shard1.bin")
	var idxErr *IndexReadError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, indexFile, idxErr.File)
}

func TestReadShardIndexMissingWeightMap(t *testing.T) {
	dir := t.TempDir()
	indexFile := filepath.Join(dir, "model.safetensors.index.json")
	require.NoError(t, os.WriteFile(indexFile, []byte(`{"metadata":{}}`), 0o644))

	_, err := ReadShardIndex(indexFile, "shard1.bin")
	var idxErr *IndexReadError
	assert.ErrorAs(t, err, &idxErr)
}
