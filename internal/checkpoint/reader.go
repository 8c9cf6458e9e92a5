// Package checkpoint implements format-polymorphic inspection of machine
// learning checkpoints: reader variants for the three supported on-disk
// formats, flat-key tree materialization, key-path resolution, tensor
// statistics, and shard manifest resolution.
package checkpoint

import (
	"path/filepath"
	"strings"
)

// Format identifies a reader variant.
type Format int

// Supported checkpoint formats.
const (
	// FormatDense covers whole-file object graphs (.pt, .pth, .bin and
	// any unrecognized suffix).
	FormatDense Format = iota
	// FormatSliced covers flat-key sliced tensor stores (.safetensors).
	FormatSliced
	// FormatPyTree covers structured checkpoint directories.
	FormatPyTree
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatDense:
		return "dense"
	case FormatSliced:
		return "sliced"
	case FormatPyTree:
		return "pytree"
	default:
		return "unknown"
	}
}

// Reader is the contract every format variant satisfies. A reader owns a
// single checkpoint's on-disk location and at most one decoded root
// object. Structure must be called (completing Load) before Resolve is
// serviced; the session enforces this by computing structure at open.
type Reader interface {
	// Format returns the reader variant.
	Format() Format

	// Path returns the checkpoint's on-disk location.
	Path() string

	// Load decodes the checkpoint into memory. Idempotent.
	Load() error

	// Structure returns the hierarchical view of the contents, loading
	// first if needed.
	Structure() (*TreeNode, error)

	// Resolve walks the key path to a tensor and returns its statistics.
	Resolve(path KeyPath) (*Stats, error)

	// Close releases the decoded root and any open file handles.
	Close() error
}

// Markers recognized by Select for structured checkpoint directories.
const (
	checkpointMarkerName = "checkpoint"
	orbaxDirMarker       = ".orbax-checkpoint"
	ocdbtStoreMarker     = "ocdbt"
)

// Select inspects a file path and returns the reader variant that
// applies. Pure function of the path string; no I/O. Unrecognized
// suffixes deliberately fall through to the dense variant, so failure is
// deferred to that reader's own load.
func Select(path string) Format {
	if strings.HasSuffix(path, ".safetensors") {
		return FormatSliced
	}
	base := filepath.Base(path)
	if base == checkpointMarkerName ||
		strings.Contains(path, orbaxDirMarker) ||
		hasPathComponent(path, ocdbtStoreMarker) {
		return FormatPyTree
	}
	return FormatDense
}

// Open constructs the reader variant selected for path. No I/O happens
// until the reader's Load.
func Open(path string) Reader {
	switch Select(path) {
	case FormatSliced:
		return NewSlicedReader(path)
	case FormatPyTree:
		return NewPyTreeReader(path)
	default:
		return NewDenseReader(path)
	}
}

func hasPathComponent(path, name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == name {
			return true
		}
	}
	return false
}
