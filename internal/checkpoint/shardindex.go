package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Location tags for shard references. A leaf is tagged with the current
// file when its owning shard is the file the client asked about, and
// with the shard's filename otherwise.
const (
	locationCurrentFile = "Current File"
	locationFilePrefix  = "File: "
)

// shardManifestNames are the recognized manifest filenames, in priority
// order. The per-file "<basename>.index.json" form is tried last.
var shardManifestNames = []string{
	"model.safetensors.index.json",
	"pytorch_model.bin.index.json",
}

// shardManifest is the parsed weight-map manifest.
type shardManifest struct {
	WeightMap map[string]string `json:"weight_map"`
}

// FindShardIndex searches the directory of path for a shard manifest and
// returns the first match in priority order. No manifest is not an
// error.
func FindShardIndex(path string) (string, bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	candidates := append(append([]string{}, shardManifestNames...), base+".index.json")
	for _, name := range candidates {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ReadShardIndex loads a manifest's weight map and builds a tree of
// tensor references, tagged by owning shard, without opening any reader.
// requested is the file the client originally asked about; entries whose
// shard equals its basename are tagged as the current file.
func ReadShardIndex(indexFile, requested string) (*TreeNode, error) {
	data, err := os.ReadFile(indexFile)
	if err != nil {
		return nil, &IndexReadError{File: indexFile, Err: err}
	}
	var manifest shardManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &IndexReadError{File: indexFile, Err: err}
	}
	if manifest.WeightMap == nil {
		return nil, &IndexReadError{File: indexFile, Err: fmt.Errorf("manifest has no weight_map")}
	}

	requestedBase := filepath.Base(requested)
	b := NewTreeBuilder()
	for key, shard := range manifest.WeightMap {
		location := locationFilePrefix + shard
		if shard == requestedBase {
			location = locationCurrentFile
		}
		b.Insert(key, TensorRef{Location: location})
	}
	return b.Root(), nil
}
