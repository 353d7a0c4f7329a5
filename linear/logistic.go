package linear

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Logistic implements binary logistic regression trained by batch gradient
// descent. It exposes the classifier capabilities (PredictProba, NClasses)
// consumed by probability-predicting model slots.
type Logistic struct {
	model.BaseEstimator

	// Hyperparameters
	learningRate float64
	maxIter      int
	tol          float64

	// Model parameters
	weights   *mat.VecDense
	intercept float64
	classes   []float64 // sorted distinct class labels seen during fit
	nFeatures int
}

// LogisticOption is a functional option for Logistic.
type LogisticOption func(*Logistic)

// NewLogistic creates a new binary logistic regression classifier.
func NewLogistic(opts ...LogisticOption) *Logistic {
	lr := &Logistic{
		learningRate: 0.1,
		maxIter:      1000,
		tol:          1e-6,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLearningRate sets the gradient descent step size.
func WithLearningRate(rate float64) LogisticOption {
	return func(lr *Logistic) { lr.learningRate = rate }
}

// WithMaxIter sets the maximum number of gradient descent iterations.
func WithMaxIter(maxIter int) LogisticOption {
	return func(lr *Logistic) { lr.maxIter = maxIter }
}

// WithTol sets the gradient-norm tolerance for stopping.
func WithTol(tol float64) LogisticOption {
	return func(lr *Logistic) { lr.tol = tol }
}

// Fit trains the classifier on (X, y). y must be a column vector holding
// exactly two distinct labels; the larger one is treated as the positive
// class.
func (lr *Logistic) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewValueError("Logistic.Fit", "empty data")
	}
	if ry != r {
		return errors.NewDimensionError("Logistic.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("Logistic.Fit", "y must be a column vector")
	}

	distinct := make(map[float64]bool)
	for i := 0; i < r; i++ {
		distinct[y.At(i, 0)] = true
	}
	if len(distinct) != 2 {
		return errors.NewValidationError("y",
			"binary logistic regression requires exactly two distinct classes", len(distinct))
	}
	classes := make([]float64, 0, 2)
	for label := range distinct {
		classes = append(classes, label)
	}
	sort.Float64s(classes)

	// Binary targets: 0 for the smaller label, 1 for the larger.
	targets := make([]float64, r)
	for i := 0; i < r; i++ {
		if y.At(i, 0) == classes[1] {
			targets[i] = 1
		}
	}

	weights := mat.NewVecDense(c, nil)
	intercept := 0.0

	converged := false
	for iter := 0; iter < lr.maxIter; iter++ {
		gradW := make([]float64, c)
		gradB := 0.0
		for i := 0; i < r; i++ {
			z := intercept
			for j := 0; j < c; j++ {
				z += X.At(i, j) * weights.AtVec(j)
			}
			diff := sigmoid(z) - targets[i]
			gradB += diff
			for j := 0; j < c; j++ {
				gradW[j] += diff * X.At(i, j)
			}
		}

		norm := gradB * gradB
		for j := 0; j < c; j++ {
			norm += gradW[j] * gradW[j]
		}
		norm = math.Sqrt(norm) / float64(r)
		if norm < lr.tol {
			converged = true
			break
		}

		step := lr.learningRate / float64(r)
		intercept -= step * gradB
		for j := 0; j < c; j++ {
			weights.SetVec(j, weights.AtVec(j)-step*gradW[j])
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("Logistic", lr.maxIter, ""))
	}

	lr.weights = weights
	lr.intercept = intercept
	lr.classes = classes
	lr.nFeatures = c
	lr.SetFitted()
	return nil
}

// Predict returns the predicted class label per observation.
func (lr *Logistic) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}

	r, _ := proba.Dims()
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		label := lr.classes[0]
		if proba.At(i, 1) > 0.5 {
			label = lr.classes[1]
		}
		predictions.Set(i, 0, label)
	}
	return predictions, nil
}

// PredictProba returns one row of class probabilities per observation,
// columns ordered by class label.
func (lr *Logistic) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("Logistic", "PredictProba")
	}

	r, c := X.Dims()
	if c != lr.nFeatures {
		return nil, errors.NewDimensionError("Logistic.PredictProba", lr.nFeatures, c, 1)
	}

	proba := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		z := lr.intercept
		for j := 0; j < c; j++ {
			z += X.At(i, j) * lr.weights.AtVec(j)
		}
		p := sigmoid(z)
		proba.Set(i, 0, 1-p)
		proba.Set(i, 1, p)
	}
	return proba, nil
}

// NClasses returns the number of classes seen during fitting.
func (lr *Logistic) NClasses() int {
	return len(lr.classes)
}

// Classes returns the class labels seen during fitting, in column order of
// PredictProba.
func (lr *Logistic) Classes() []float64 {
	out := make([]float64, len(lr.classes))
	copy(out, lr.classes)
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
