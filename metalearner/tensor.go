package metalearner

// Tensor3 is a dense 3-axis numeric tensor used for meta-learner outputs of
// shape (n_observations, n_variants-1, n_outputs) and for conditional
// average outcomes of shape (n_observations, n_variants, n_outputs).
// gonum has no n-dimensional array, so this owns a contiguous row-major
// buffer directly.
type Tensor3 struct {
	data      []float64
	n, d1, d2 int
}

// NewTensor3 allocates a zeroed tensor of shape (n, d1, d2).
func NewTensor3(n, d1, d2 int) *Tensor3 {
	return &Tensor3{
		data: make([]float64, n*d1*d2),
		n:    n,
		d1:   d1,
		d2:   d2,
	}
}

// Dims returns the tensor's shape.
func (t *Tensor3) Dims() (n, d1, d2 int) {
	return t.n, t.d1, t.d2
}

// At returns the element at (i, j, k).
func (t *Tensor3) At(i, j, k int) float64 {
	return t.data[(i*t.d1+j)*t.d2+k]
}

// Set assigns the element at (i, j, k).
func (t *Tensor3) Set(i, j, k int, v float64) {
	t.data[(i*t.d1+j)*t.d2+k] = v
}
