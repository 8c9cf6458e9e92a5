package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/yueduduo/pth-viewer/internal/tensorview"
)

// SafeTensors layout:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxSafetensorsHeader bounds the JSON header size (sanity check, 100MB).
const maxSafetensorsHeader = 100 * 1024 * 1024

// stTensorInfo describes one tensor entry in the safetensors header.
type stTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end] relative to data section
}

// stHeader is the parsed JSON header: tensor entries plus optional
// __metadata__ string map.
type stHeader struct {
	Metadata map[string]string
	Tensors  map[string]stTensorInfo
}

// UnmarshalJSON implements custom unmarshaling: every key except
// __metadata__ is a tensor entry.
func (h *stHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]stTensorInfo)
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info stTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// stFile is an open safetensors store. Enumerating keys and metadata
// touches only the header; tensor bytes are fetched per key.
type stFile struct {
	file       *os.File
	header     stHeader
	dataOffset int64
}

// openSafetensors opens the store read-only and parses the header.
func openSafetensors(path string) (*stFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxSafetensorsHeader {
		_ = file.Close()
		return nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header stHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	return &stFile{
		file:       file,
		header:     header,
		dataOffset: int64(8 + headerSize),
	}, nil
}

// close closes the underlying file.
func (f *stFile) close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// tensorInfo returns the header entry for one flat key.
func (f *stFile) tensorInfo(name string) (stTensorInfo, bool) {
	info, ok := f.header.Tensors[name]
	return info, ok
}

// readTensorData reads the raw bytes for one flat key. This is the only
// point where the sliced reader materializes tensor data.
func (f *stFile) readTensorData(name string) ([]byte, error) {
	info, ok := f.tensorInfo(name)
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}

	start := f.dataOffset + info.DataOffsets[0]
	end := f.dataOffset + info.DataOffsets[1]
	size := end - start
	if size < 0 {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]",
			name, info.DataOffsets[0], info.DataOffsets[1])
	}

	if _, err := f.file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(f.file, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	return data, nil
}

// tensorviewDTypeName normalizes a safetensors dtype code ("F32") to the
// torch-style name ("float32") used in structure trees.
func tensorviewDTypeName(code string) (string, error) {
	dt, err := tensorview.ParseDType(code)
	if err != nil {
		return "", err
	}
	return dt.String(), nil
}

// view materializes one tensor as a tensorview handle.
func (f *stFile) view(name string) (*tensorview.View, error) {
	info, ok := f.tensorInfo(name)
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	dtype, err := tensorview.ParseDType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	data, err := f.readTensorData(name)
	if err != nil {
		return nil, err
	}
	return tensorview.NewRaw(dtype, tensorview.Shape(info.Shape), data)
}
