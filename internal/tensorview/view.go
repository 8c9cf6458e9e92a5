package tensorview

import (
	"encoding/binary"
	"fmt"
	"math"
)

// View is a tensor-like handle: dtype and shape plus either the raw
// little-endian payload bytes or already-decoded element values.
// It is the unit the statistics formatter operates on.
type View struct {
	dtype DataType
	shape Shape
	raw   []byte    // set for byte-backed views
	vals  []float64 // set for value-backed views
}

// NewRaw creates a View over a raw little-endian payload.
// The payload length must match shape and dtype exactly.
func NewRaw(dtype DataType, shape Shape, raw []byte) (*View, error) {
	want := shape.NumElements() * dtype.Size()
	if len(raw) != want {
		return nil, fmt.Errorf("payload size mismatch: shape %v dtype %s needs %d bytes, got %d",
			shape, dtype, want, len(raw))
	}
	return &View{dtype: dtype, shape: shape.Clone(), raw: raw}, nil
}

// FromFloat64s creates a View over already-decoded element values.
// The reported dtype is the source dtype, not float64.
func FromFloat64s(dtype DataType, shape Shape, vals []float64) (*View, error) {
	if len(vals) != shape.NumElements() {
		return nil, fmt.Errorf("value count mismatch: shape %v needs %d elements, got %d",
			shape, shape.NumElements(), len(vals))
	}
	return &View{dtype: dtype, shape: shape.Clone(), vals: vals}, nil
}

// DType returns the source element type.
func (v *View) DType() DataType { return v.dtype }

// Shape returns the tensor dimensions.
func (v *View) Shape() Shape { return v.shape }

// NumElements returns the total element count.
func (v *View) NumElements() int { return v.shape.NumElements() }

// Float64s returns all elements converted to float64, in storage order.
// The conversion goes through float64 regardless of source dtype so that
// reductions on half precision data do not overflow.
func (v *View) Float64s() ([]float64, error) {
	if v.vals != nil {
		return v.vals, nil
	}
	n := v.NumElements()
	out := make([]float64, n)
	size := v.dtype.Size()
	for i := 0; i < n; i++ {
		b := v.raw[i*size : (i+1)*size]
		switch v.dtype {
		case Float16:
			out[i] = float64(Float16ToFloat32(binary.LittleEndian.Uint16(b)))
		case BFloat16:
			out[i] = float64(BFloat16ToFloat32(binary.LittleEndian.Uint16(b)))
		case Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case Int8:
			out[i] = float64(int8(b[0]))
		case Int16:
			out[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case Int64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case Uint8:
			out[i] = float64(b[0])
		case Bool:
			if b[0] != 0 {
				out[i] = 1
			}
		default:
			return nil, fmt.Errorf("cannot convert dtype %s", v.dtype)
		}
	}
	v.vals = out
	return out, nil
}
