package checkpoint

// SlicedReader inspects flat-key sliced tensor stores (.safetensors).
// Structure enumeration reads only shape/dtype metadata from the header;
// tensor bytes are fetched one key at a time during Resolve.
type SlicedReader struct {
	path string
	file *stFile
}

// NewSlicedReader creates a reader for the given store. No I/O happens
// until Load.
func NewSlicedReader(path string) *SlicedReader {
	return &SlicedReader{path: path}
}

// Format returns FormatSliced.
func (r *SlicedReader) Format() Format { return FormatSliced }

// Path returns the store location.
func (r *SlicedReader) Path() string { return r.path }

// Load opens the store read-only and parses its header. Idempotent.
func (r *SlicedReader) Load() error {
	if r.file != nil {
		return nil
	}
	f, err := openSafetensors(r.path)
	if err != nil {
		return &LoadError{Path: r.path, Err: err}
	}
	r.file = f
	return nil
}

// Structure enumerates all flat keys and inserts each into a tree,
// splitting on dots. Only header metadata is touched.
func (r *SlicedReader) Structure() (*TreeNode, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	b := NewTreeBuilder()
	for name, info := range r.file.header.Tensors {
		dtype := info.DType
		if dt, err := tensorviewDTypeName(info.DType); err == nil {
			dtype = dt
		}
		b.Insert(name, TensorInfo{DType: dtype, Shape: info.Shape})
	}
	return b.Root(), nil
}

// Resolve rejoins the key path with dots to reconstruct the flat key and
// fetches that one tensor's bytes.
func (r *SlicedReader) Resolve(path KeyPath) (*Stats, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	flat := path.FlatKey()
	if _, ok := r.file.tensorInfo(flat); !ok {
		return nil, &PathNotFoundError{Path: path, Cause: "no tensor named " + flat}
	}
	view, err := r.file.view(flat)
	if err != nil {
		return nil, &LoadError{Path: r.path, Err: err}
	}
	return FormatStats(view)
}

// Close closes the underlying file handle.
func (r *SlicedReader) Close() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	return f.close()
}
