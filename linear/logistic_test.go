package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLogisticFitPredict(t *testing.T) {
	// Linearly separable in one dimension.
	X := mat.NewDense(8, 1, []float64{-4, -3, -2, -1, 1, 2, 3, 4})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})

	clf := NewLogistic(WithMaxIter(5000))
	require.NoError(t, clf.Fit(X, y))
	assert.True(t, clf.IsFitted())
	assert.Equal(t, 2, clf.NClasses())
	assert.Equal(t, []float64{0, 1}, clf.Classes())

	predictions, err := clf.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Equal(t, y.At(i, 0), predictions.At(i, 0), "row %d", i)
	}
}

func TestLogisticPredictProba(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{-3, -2, -1, 1, 2, 3})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	clf := NewLogistic(WithMaxIter(5000))
	require.NoError(t, clf.Fit(X, y))

	proba, err := clf.PredictProba(X)
	require.NoError(t, err)

	r, c := proba.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 2, c)

	for i := 0; i < r; i++ {
		p0 := proba.At(i, 0)
		p1 := proba.At(i, 1)
		assert.InDelta(t, 1.0, p0+p1, 1e-10, "row %d probabilities must sum to one", i)
		assert.GreaterOrEqual(t, p1, 0.0)
		assert.LessOrEqual(t, p1, 1.0)
	}

	// Points far on either side get confident probabilities.
	assert.Less(t, proba.At(0, 1), 0.5)
	assert.Greater(t, proba.At(5, 1), 0.5)
}

func TestLogisticNonBinaryLabels(t *testing.T) {
	// Labels other than {0, 1} work; the larger label is the positive class.
	X := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
	y := mat.NewDense(4, 1, []float64{-1, -1, 5, 5})

	clf := NewLogistic(WithMaxIter(5000))
	require.NoError(t, clf.Fit(X, y))
	assert.Equal(t, []float64{-1, 5}, clf.Classes())

	predictions, err := clf.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, -1.0, predictions.At(0, 0))
	assert.Equal(t, 5.0, predictions.At(3, 0))
}

func TestLogisticFitErrors(t *testing.T) {
	tests := []struct {
		name string
		X    *mat.Dense
		y    *mat.Dense
	}{
		{
			name: "single class",
			X:    mat.NewDense(3, 1, []float64{1, 2, 3}),
			y:    mat.NewDense(3, 1, []float64{1, 1, 1}),
		},
		{
			name: "three classes",
			X:    mat.NewDense(3, 1, []float64{1, 2, 3}),
			y:    mat.NewDense(3, 1, []float64{0, 1, 2}),
		},
		{
			name: "row count mismatch",
			X:    mat.NewDense(3, 1, []float64{1, 2, 3}),
			y:    mat.NewDense(2, 1, []float64{0, 1}),
		},
		{
			name: "y not a column vector",
			X:    mat.NewDense(2, 1, []float64{1, 2}),
			y:    mat.NewDense(2, 2, []float64{0, 1, 1, 0}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := NewLogistic()
			err := clf.Fit(tt.X, tt.y)
			assert.Error(t, err)
			assert.False(t, clf.IsFitted())
		})
	}
}

func TestLogisticPredictBeforeFit(t *testing.T) {
	clf := NewLogistic()
	_, err := clf.PredictProba(mat.NewDense(1, 1, []float64{1}))
	assert.Error(t, err)
}
