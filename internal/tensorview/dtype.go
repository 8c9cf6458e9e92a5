// Package tensorview provides the in-memory tensor handle used by the
// checkpoint readers: raw little-endian payload bytes plus dtype and shape,
// with conversion to float64 for statistics.
package tensorview

import (
	"fmt"
	"strings"
)

// DataType represents runtime type information for tensor elements.
type DataType int

// Supported element types.
const (
	Float16 DataType = iota
	BFloat16
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Bool
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float16, BFloat16, Int16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Int8, Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns the torch-style name for the data type (e.g. "float32").
func (dt DataType) String() string {
	switch dt {
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseDType resolves a dtype name to a DataType. It accepts both
// torch-style lowercase names ("float32") and safetensors-style
// short codes ("F32", "BF16").
func ParseDType(name string) (DataType, error) {
	switch strings.ToLower(name) {
	case "f16", "float16", "half":
		return Float16, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	case "f32", "float32", "float":
		return Float32, nil
	case "f64", "float64", "double":
		return Float64, nil
	case "i8", "int8":
		return Int8, nil
	case "i16", "int16", "short":
		return Int16, nil
	case "i32", "int32", "int":
		return Int32, nil
	case "i64", "int64", "long":
		return Int64, nil
	case "u8", "uint8", "byte":
		return Uint8, nil
	case "bool":
		return Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", name)
	}
}
