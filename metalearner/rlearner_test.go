package metalearner

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/linear"
)

func rlearnerConfig() Config {
	return Config{
		NVariants:         2,
		PropensityFactory: func() model.Estimator { return linear.NewLogistic(linear.WithMaxIter(2000)) },
		NuisanceFactory:   func() model.Estimator { return linear.NewRegression() },
		TreatmentFactory:  func() model.Estimator { return linear.NewRegression() },
		NFolds:            5,
		Seed:              42,
	}
}

// regressionData builds a synthetic experiment with a constant treatment
// effect of 2. Treatment assignment alternates, so it is independent of the
// covariates and the true propensity is 0.5.
func regressionData(n int) (*mat.Dense, *mat.VecDense, *mat.VecDense) {
	r := rand.New(rand.NewPCG(1, 1))
	noise := distuv.Normal{Mu: 0, Sigma: 0.05, Src: rand.NewPCG(2, 2)}
	X := mat.NewDense(n, 2, nil)
	y := mat.NewVecDense(n, nil)
	w := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x0 := r.Float64()*2 - 1
		x1 := r.Float64()*2 - 1
		treated := float64(i % 2)
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		w.SetVec(i, treated)
		y.SetVec(i, 3*x0-x1+2*treated+noise.Rand())
	}
	return X, y, w
}

func TestNewRLearner(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		learner, err := NewRLearner(rlearnerConfig())
		require.NoError(t, err)
		assert.False(t, learner.IsFitted())
	})

	t.Run("treatment model must support sample weights", func(t *testing.T) {
		cfg := rlearnerConfig()
		cfg.TreatmentFactory = newPointMock
		_, err := NewRLearner(cfg)
		assert.Error(t, err)
	})
}

func TestRLearnerFitValidation(t *testing.T) {
	X, y, w := regressionData(40)

	t.Run("outcome length mismatch", func(t *testing.T) {
		learner, err := NewRLearner(rlearnerConfig())
		require.NoError(t, err)
		short := mat.NewVecDense(10, nil)
		assert.Error(t, learner.Fit(X, short, w))
	})

	t.Run("treatment length mismatch", func(t *testing.T) {
		learner, err := NewRLearner(rlearnerConfig())
		require.NoError(t, err)
		short := mat.NewVecDense(10, nil)
		assert.Error(t, learner.Fit(X, y, short))
	})

	t.Run("single treatment variant", func(t *testing.T) {
		learner, err := NewRLearner(rlearnerConfig())
		require.NoError(t, err)
		ones := mat.NewVecDense(40, nil)
		for i := 0; i < 40; i++ {
			ones.SetVec(i, 1)
		}
		assert.Error(t, learner.Fit(X, y, ones))
		assert.False(t, learner.IsFitted())
	})

	t.Run("refit rejected", func(t *testing.T) {
		learner, err := NewRLearner(rlearnerConfig())
		require.NoError(t, err)
		require.NoError(t, learner.Fit(X, y, w))
		assert.Error(t, learner.Fit(X, y, w))
	})
}

func TestRLearnerRecoversConstantEffect(t *testing.T) {
	X, y, w := regressionData(400)

	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)
	require.NoError(t, learner.Fit(X, y, w))
	assert.True(t, learner.IsFitted())

	for _, isOOS := range []bool{false, true} {
		cate, err := learner.Predict(X, isOOS, "mean")
		require.NoError(t, err)

		n, d1, d2 := cate.Dims()
		require.Equal(t, 400, n)
		require.Equal(t, 1, d1)
		require.Equal(t, 1, d2)

		for i := 0; i < n; i++ {
			assert.InDelta(t, 2.0, cate.At(i, 0, 0), 0.25, "isOOS=%v row %d", isOOS, i)
		}
	}
}

func TestRLearnerClassificationPredictShape(t *testing.T) {
	const n = 200
	r := rand.New(rand.NewPCG(2, 2))
	X := mat.NewDense(n, 1, nil)
	y := mat.NewVecDense(n, nil)
	w := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := r.Float64()*2 - 1
		X.Set(i, 0, x)
		w.SetVec(i, float64(i%2))
		label := 0.0
		if x+0.5*w.AtVec(i) > 0 {
			label = 1.0
		}
		y.SetVec(i, label)
	}

	cfg := rlearnerConfig()
	cfg.IsClassification = true
	cfg.NuisanceFactories = map[string]model.Factory{
		OutcomeModel: func() model.Estimator { return linear.NewLogistic(linear.WithMaxIter(2000)) },
	}

	learner, err := NewRLearner(cfg)
	require.NoError(t, err)
	require.NoError(t, learner.Fit(X, y, w))

	cate, err := learner.Predict(X, false, "")
	require.NoError(t, err)

	rows, d1, d2 := cate.Dims()
	assert.Equal(t, n, rows)
	assert.Equal(t, 1, d1)
	assert.Equal(t, 2, d2)

	// The two trailing entries are the CATE per class, [-tau, tau].
	for i := 0; i < rows; i++ {
		assert.InDelta(t, -cate.At(i, 0, 1), cate.At(i, 0, 0), 1e-12)
	}
}

func TestRLearnerPseudoOutcomeAndWeights(t *testing.T) {
	X, y, w := regressionData(100)

	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)
	require.NoError(t, learner.Fit(X, y, w))

	pseudoOutcomes, weights, err := learner.pseudoOutcomeAndWeights(X, y, w, DefaultEpsilon)
	require.NoError(t, err)
	require.Equal(t, 100, pseudoOutcomes.Len())
	require.Len(t, weights, 100)

	yHat, err := learner.outcomeEstimates(X, false, "")
	require.NoError(t, err)
	wHat, err := learner.positiveClassProbability(X, PropensityModel, false, "")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		wResidual := w.AtVec(i) - wHat.AtVec(i)

		// Weights are the squared treatment residuals, hence non-negative.
		assert.InDelta(t, wResidual*wResidual, weights[i], 1e-12)
		assert.GreaterOrEqual(t, weights[i], 0.0)

		// The stabilizing epsilon moves the denominator away from zero, in
		// the direction of the residual's sign.
		denominator := wResidual + math.Copysign(DefaultEpsilon, wResidual)
		want := (y.AtVec(i) - yHat.AtVec(i)) / denominator
		assert.InDelta(t, want, pseudoOutcomes.AtVec(i), 1e-9)
		assert.False(t, math.IsNaN(pseudoOutcomes.AtVec(i)))
		assert.False(t, math.IsInf(pseudoOutcomes.AtVec(i), 0))
	}
}

func TestRLearnerEvaluate(t *testing.T) {
	X, y, w := regressionData(400)

	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)
	require.NoError(t, learner.Fit(X, y, w))

	scores, err := learner.Evaluate(X, y, w, false, "")
	require.NoError(t, err)

	require.Contains(t, scores, "outcome_rmse")
	require.Contains(t, scores, "propensity_cross_entropy")
	require.Contains(t, scores, "r_loss")
	assert.NotContains(t, scores, "outcome_log_loss")

	// The outcome is noiseless up to what the linear nuisance can express
	// and the effect is constant, so the R-loss must be small.
	assert.Less(t, scores["r_loss"], 0.3)
	assert.Greater(t, scores["propensity_cross_entropy"], 0.0)
}

func TestRLearnerFitParamRouting(t *testing.T) {
	X, y, w := regressionData(40)

	// The linear base models accept no extra fit parameters, so routing any
	// must surface as an error rather than being dropped silently.
	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)
	err = learner.Fit(X, y, w, WithFitParams(&FitParams{Flat: Params{"max_depth": 3}}))
	assert.Error(t, err)
	assert.False(t, learner.IsFitted())
}

func TestRLearnerFailedFitLeavesNoFittedState(t *testing.T) {
	X, y, w := regressionData(40)

	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)

	// Nested params target only the treatment slot, so both nuisance slots
	// fit successfully before the treatment fit fails.
	badParams := &FitParams{Treatment: map[string]Params{
		TreatmentModel: {"max_depth": 3},
	}}
	err = learner.Fit(X, y, w, WithFitParams(badParams))
	require.Error(t, err)
	assert.False(t, learner.IsFitted())

	// No slot may expose a fitted estimator after the failed fit.
	for _, slot := range []string{PropensityModel, OutcomeModel} {
		cfe, err := learner.NuisanceEstimator(slot, 0)
		require.NoError(t, err)
		assert.False(t, cfe.IsFitted(), "slot %s fitted after failed fit", slot)
	}

	// A corrected retry must succeed on the same learner.
	require.NoError(t, learner.Fit(X, y, w))
	assert.True(t, learner.IsFitted())
	cate, err := learner.Predict(X, false, "")
	require.NoError(t, err)
	n, _, _ := cate.Dims()
	assert.Equal(t, 40, n)
}

func TestRLearnerUnfittedErrors(t *testing.T) {
	learner, err := NewRLearner(rlearnerConfig())
	require.NoError(t, err)

	X := mat.NewDense(4, 2, nil)
	_, err = learner.Predict(X, false, "")
	assert.Error(t, err)

	y := mat.NewVecDense(4, nil)
	_, err = learner.Evaluate(X, y, y, false, "")
	assert.Error(t, err)
}

func TestRLearnerEpsilonOption(t *testing.T) {
	var options RFitOptions
	WithEpsilon(0.5)(&options)
	WithParallelism(2)(&options)
	fp := &FitParams{Flat: Params{"a": 1}}
	WithFitParams(fp)(&options)

	assert.Equal(t, 0.5, options.Epsilon)
	assert.Equal(t, 2, options.Parallelism)
	assert.Same(t, fp, options.FitParams)
}
