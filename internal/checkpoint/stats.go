package checkpoint

import (
	"fmt"
	"math"
	"strings"

	"github.com/yueduduo/pth-viewer/internal/tensorview"
)

// Rendering limits for tensor previews. These are fixed, not configurable
// per call.
const (
	previewEdgeItems = 3
	previewThreshold = 50
	previewLineWidth = 120
	previewMaxLen    = 1000
	previewTruncMark = "... (truncated)"
)

// Stats holds the statistics and preview for one tensor. A nil statistic
// marshals as JSON null; a statistic is nil exactly when the reduction
// produced a non-finite or undefined value.
type Stats struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Mean    *float64 `json:"mean"`
	Std     *float64 `json:"std"`
	Shape   []int    `json:"shape"`
	DType   string   `json:"dtype"`
	Preview string   `json:"preview"`
}

// FormatStats computes min/max/mean/std and a bounded preview for a
// tensor-like handle. Reductions run in float64 regardless of source
// dtype so half precision inputs do not overflow. Empty tensors yield
// all-null statistics with shape and dtype preserved; the standard
// deviation of a single-element tensor is null.
func FormatStats(v *tensorview.View) (*Stats, error) {
	vals, err := v.Float64s()
	if err != nil {
		return nil, err
	}

	shape := []int(v.Shape())
	if shape == nil {
		shape = []int{}
	}
	s := &Stats{
		Shape:   shape,
		DType:   v.DType().String(),
		Preview: renderPreview(vals, v.Shape(), v.DType()),
	}
	if len(vals) == 0 {
		return s, nil
	}

	minV, maxV := vals[0], vals[0]
	sum := 0.0
	for _, x := range vals {
		minV = math.Min(minV, x)
		maxV = math.Max(maxV, x)
		sum += x
	}
	mean := sum / float64(len(vals))

	// Sample standard deviation; undefined (NaN) for a single element.
	std := math.NaN()
	if len(vals) > 1 {
		var sq float64
		for _, x := range vals {
			d := x - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(len(vals)-1))
	}

	s.Min = finite(minV)
	s.Max = finite(maxV)
	s.Mean = finite(mean)
	s.Std = finite(std)
	return s, nil
}

// finite returns a pointer to x, or nil when x is NaN or infinite.
func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

// renderPreview renders the tensor values as nested bracketed rows with
// edge-item summarization, bounded to previewMaxLen characters.
func renderPreview(vals []float64, shape tensorview.Shape, dtype tensorview.DataType) string {
	summarize := len(vals) > previewThreshold
	out := renderDim(vals, shape, dtype, summarize)
	if len(out) > previewMaxLen {
		out = out[:previewMaxLen] + previewTruncMark
	}
	return out
}

func renderDim(vals []float64, shape tensorview.Shape, dtype tensorview.DataType, summarize bool) string {
	if len(shape) == 0 {
		if len(vals) == 0 {
			return "[]"
		}
		return formatElem(vals[0], dtype)
	}

	dim := shape[0]
	if dim == 0 {
		return "[]"
	}
	sub := shape[1:]
	stride := tensorview.Shape(sub).NumElements()

	parts := make([]string, 0, dim)
	render := func(i int) string {
		return renderDim(vals[i*stride:(i+1)*stride], sub, dtype, summarize)
	}
	if summarize && dim > 2*previewEdgeItems {
		for i := 0; i < previewEdgeItems; i++ {
			parts = append(parts, render(i))
		}
		parts = append(parts, "...")
		for i := dim - previewEdgeItems; i < dim; i++ {
			parts = append(parts, render(i))
		}
	} else {
		for i := 0; i < dim; i++ {
			parts = append(parts, render(i))
		}
	}

	if len(sub) == 0 {
		row := "[" + strings.Join(parts, ", ") + "]"
		if len(row) > previewLineWidth {
			row = row[:previewLineWidth-3] + "..."
		}
		return row
	}
	return "[" + strings.Join(parts, ",\n ") + "]"
}

func formatElem(x float64, dtype tensorview.DataType) string {
	switch {
	case math.IsNaN(x):
		return "nan"
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	}
	switch dtype {
	case tensorview.Int8, tensorview.Int16, tensorview.Int32,
		tensorview.Int64, tensorview.Uint8, tensorview.Bool:
		return fmt.Sprintf("%d", int64(x))
	default:
		return fmt.Sprintf("%.4f", x)
	}
}
