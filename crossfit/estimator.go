// Package crossfit implements cross-fitted estimation: an ensemble of k
// fold models plus an optional overall model, with leakage-safe in-sample
// prediction and aggregated out-of-sample prediction.
//
// Conceptually, a CrossFitEstimator fits k (or k+1) models on k folds of
// the data. For in-sample prediction, each observation is served by the
// single fold model that did not see it during training. For out-of-sample
// prediction, the fold models are aggregated ("mean", "median") or the
// model trained on all of the data is used ("overall").
package crossfit

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// OOSMethod selects how out-of-sample predictions are produced.
type OOSMethod string

const (
	// Overall uses the single model trained on all of the data.
	Overall OOSMethod = "overall"
	// Mean averages the fold models' predictions elementwise.
	Mean OOSMethod = "mean"
	// Median takes the elementwise median of the fold models' predictions.
	Median OOSMethod = "median"
)

// predictMethod distinguishes point predictions from probability
// predictions. Dispatch is always through this explicit enum, never through
// a method name.
type predictMethod int

const (
	methodPredict predictMethod = iota
	methodPredictProba
)

func validateOOSMethod(oosMethod OOSMethod, enableOverall bool) error {
	switch oosMethod {
	case Overall:
		if !enableOverall {
			return errors.NewConfigurationError("CrossFitEstimator",
				"oos_method 'overall' requires the estimator to be constructed with the overall model enabled")
		}
		return nil
	case Mean, Median:
		return nil
	default:
		return errors.NewConfigurationErrorf("CrossFitEstimator",
			"oos_method %q not supported. Supported values are 'overall', 'mean' and 'median'", string(oosMethod))
	}
}

// CrossFitEstimator wraps a trainable-model factory and performs k-fold
// cross-fitting. It is created empty, becomes fit-complete exactly once,
// and thereafter only serves predictions. Prediction calls are safe for
// concurrent use once Fit has returned.
type CrossFitEstimator struct {
	model.BaseEstimator

	nFolds        int
	factory       model.Factory
	enableOverall bool
	seed          uint64

	estimators  []model.Estimator
	overall     model.Estimator
	testIndices [][]int
}

// Option configures a CrossFitEstimator at construction time.
type Option func(*CrossFitEstimator)

// WithEnableOverall controls whether an additional model is trained on the
// entire dataset. It defaults to true.
func WithEnableOverall(enable bool) Option {
	return func(c *CrossFitEstimator) { c.enableOverall = enable }
}

// WithSeed sets the seed controlling the fold partition shuffle.
func WithSeed(seed uint64) Option {
	return func(c *CrossFitEstimator) { c.seed = seed }
}

// New creates a CrossFitEstimator training nFolds fold models produced by
// factory. nFolds must be strictly positive.
func New(nFolds int, factory model.Factory, opts ...Option) (*CrossFitEstimator, error) {
	if nFolds <= 0 {
		return nil, errors.NewConfigurationErrorf("CrossFitEstimator",
			"n_folds needs to be a strictly positive integer but is %d", nFolds)
	}
	if factory == nil {
		return nil, errors.NewConfigurationError("CrossFitEstimator", "estimator factory must not be nil")
	}

	c := &CrossFitEstimator{
		nFolds:        nFolds,
		factory:       factory,
		enableOverall: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NFolds returns the number of cross-fitting folds.
func (c *CrossFitEstimator) NFolds() int { return c.nFolds }

// EnableOverall reports whether the overall model is trained alongside the
// fold models.
func (c *CrossFitEstimator) EnableOverall() bool { return c.enableOverall }

// Factory returns the wrapped trainable-model factory.
func (c *CrossFitEstimator) Factory() model.Factory { return c.factory }

// IsClassifier reports whether the wrapped models expose the classifier
// capabilities. Before fitting, a probe instance is created from the
// factory.
func (c *CrossFitEstimator) IsClassifier() bool {
	if len(c.estimators) > 0 {
		return model.IsClassifier(c.estimators[0])
	}
	return model.IsClassifier(c.factory())
}

// FitOptions carries per-fit parameters of a CrossFitEstimator.
type FitOptions struct {
	// SampleWeight, when non-nil, is routed to the underlying models'
	// weighted fit. All models then have to implement model.WeightedFitter.
	SampleWeight []float64
	// Params carries model-specific fit parameters. When non-empty, the
	// underlying models have to implement model.ParameterSetter.
	Params map[string]interface{}
	// Parallelism bounds the number of folds trained concurrently.
	// Zero or negative means one worker per CPU core.
	Parallelism int
}

// FitOption mutates FitOptions.
type FitOption func(*FitOptions)

// WithSampleWeight routes a per-observation weight to every underlying fit.
func WithSampleWeight(w []float64) FitOption {
	return func(o *FitOptions) { o.SampleWeight = w }
}

// WithFitParams routes model-specific fit parameters to every underlying
// fit.
func WithFitParams(params map[string]interface{}) FitOption {
	return func(o *FitOptions) { o.Params = params }
}

// WithParallelism bounds the number of concurrently trained fold models.
func WithParallelism(n int) FitOption {
	return func(o *FitOptions) { o.Parallelism = n }
}

// Fit trains one model per fold on that fold's training complement and, if
// the overall model is enabled, an additional model on the entire dataset.
//
// The fold partition is computed once before any training starts. All fits
// must succeed before Fit returns; on any failure the estimator remains
// unfitted, with no partially trained state observable.
func (c *CrossFitEstimator) Fit(X, y mat.Matrix, opts ...FitOption) error {
	if c.IsFitted() {
		return errors.NewConfigurationError("CrossFitEstimator.Fit", "estimator is already fitted; re-fitting is not supported")
	}

	var options FitOptions
	for _, opt := range opts {
		opt(&options)
	}

	n, _ := X.Dims()
	ny, _ := y.Dims()
	if n == 0 {
		return errors.NewValueError("CrossFitEstimator.Fit", "empty data")
	}
	if ny != n {
		return errors.NewDimensionError("CrossFitEstimator.Fit", n, ny, 0)
	}
	if c.nFolds > n {
		return errors.NewConfigurationErrorf("CrossFitEstimator.Fit",
			"cannot split %d observations into %d folds", n, c.nFolds)
	}
	if options.SampleWeight != nil && len(options.SampleWeight) != n {
		return errors.NewDimensionError("CrossFitEstimator.Fit", n, len(options.SampleWeight), 0)
	}

	logger := log.GetLogger().With(
		log.OperationKey, "fit",
		log.NFoldsKey, c.nFolds,
		log.SamplesKey, n,
		log.SeedKey, c.seed,
	)

	// The partition is fixed before any fold training starts.
	folds := NewKFold(c.nFolds, c.seed).Split(n)

	// Staging state, swapped into place only when every fit succeeded.
	estimators := make([]model.Estimator, c.nFolds)
	testIndices := make([][]int, c.nFolds)
	var overall model.Estimator

	// Task c.nFolds, when present, is the overall fit. It runs on the same
	// bounded pool, concurrently with the fold fits.
	tasks := c.nFolds
	if c.enableOverall {
		tasks++
	}

	start := time.Now()
	err := parallel.RunTasks(tasks, options.Parallelism, func(i int) error {
		if i == c.nFolds {
			est, err := c.fitOne(X, y, nil, options)
			if err != nil {
				return errors.Wrap(err, "overall model")
			}
			overall = est
			return nil
		}

		foldStart := time.Now()
		est, err := c.fitOne(X, y, folds[i].Train, options)
		if err != nil {
			return errors.Wrapf(err, "fold %d", i)
		}
		estimators[i] = est
		testIndices[i] = folds[i].Test
		logger.Debug("fold model trained",
			log.FoldKey, i,
			log.DurationMsKey, time.Since(foldStart).Milliseconds(),
		)
		return nil
	})
	if err != nil {
		return err
	}

	c.estimators = estimators
	c.testIndices = testIndices
	c.overall = overall
	c.SetFitted()
	logger.Info("cross-fit complete", log.DurationMsKey, time.Since(start).Milliseconds())
	return nil
}

// fitOne trains a fresh model on the given row subset (nil means all rows).
func (c *CrossFitEstimator) fitOne(X, y mat.Matrix, rows []int, options FitOptions) (model.Estimator, error) {
	est := c.factory()

	if len(options.Params) > 0 {
		ps, ok := est.(model.ParameterSetter)
		if !ok {
			return nil, errors.NewValidationError("fit_params",
				"the underlying model does not accept extra fit parameters", options.Params)
		}
		if err := ps.SetParams(options.Params); err != nil {
			return nil, err
		}
	}

	subX, subY := X, y
	subW := options.SampleWeight
	if rows != nil && len(rows) == 0 {
		return nil, errors.NewValueError("CrossFitEstimator.Fit", "fold has an empty training complement")
	}
	if rows != nil {
		subX = indexMatrix(X, rows)
		subY = indexMatrix(y, rows)
		if subW != nil {
			subW = indexSlice(subW, rows)
		}
	}

	if subW != nil {
		wf, ok := est.(model.WeightedFitter)
		if !ok {
			return nil, errors.NewValidationError("sample_weight",
				"the underlying model's fit method does not support sample weights", nil)
		}
		if err := wf.FitWeighted(subX, subY, subW); err != nil {
			return nil, err
		}
		return est, nil
	}

	if err := est.Fit(subX, subY); err != nil {
		return nil, err
	}
	return est, nil
}

// NClasses returns the common class count reported by the fitted fold
// models. It fails if the estimator is unfitted, if any fold model is not a
// classifier, or if the fold models disagree.
func (c *CrossFitEstimator) NClasses() (int, error) {
	if !c.IsFitted() {
		return 0, errors.NewNotFittedError("CrossFitEstimator", "NClasses")
	}
	nClasses := 0
	for _, est := range c.estimators {
		clf, ok := est.(model.Classifier)
		if !ok {
			return 0, errors.NewValidationError("estimators",
				"number of classes can only be determined if all fold models are classifiers", nil)
		}
		if nClasses == 0 {
			nClasses = clf.NClasses()
			continue
		}
		if clf.NClasses() != nClasses {
			return 0, errors.NewValidationError("estimators",
				"fold models do not all report the same number of classes", clf.NClasses())
		}
	}
	return nClasses, nil
}

// nOutputs returns the per-observation output arity of the given predict
// method: 1 for point predictions, the class count for probabilities.
func (c *CrossFitEstimator) nOutputs(method predictMethod) (int, error) {
	if method == methodPredictProba {
		return c.NClasses()
	}
	return 1, nil
}

// Predict predicts point values from X.
//
// If isOOS is false, every observation is served by the unique fold model
// whose held-out set contained it. Otherwise oosMethod selects between the
// overall model and the mean/median aggregation of the fold models. A mean
// over hard class predictions is rejected; request probabilities instead.
func (c *CrossFitEstimator) Predict(X mat.Matrix, isOOS bool, oosMethod OOSMethod) (*mat.Dense, error) {
	return c.predict(X, isOOS, methodPredict, oosMethod)
}

// PredictProba predicts class-probability rows from X. The fold models must
// all be classifiers reporting an identical class count.
func (c *CrossFitEstimator) PredictProba(X mat.Matrix, isOOS bool, oosMethod OOSMethod) (*mat.Dense, error) {
	return c.predict(X, isOOS, methodPredictProba, oosMethod)
}

func (c *CrossFitEstimator) predict(X mat.Matrix, isOOS bool, method predictMethod, oosMethod OOSMethod) (*mat.Dense, error) {
	if !c.IsFitted() {
		return nil, errors.NewNotFittedError("CrossFitEstimator", "Predict")
	}

	if !isOOS {
		return c.predictInSample(X, method)
	}

	if err := validateOOSMethod(oosMethod, c.enableOverall); err != nil {
		return nil, err
	}
	switch oosMethod {
	case Overall:
		return c.predictWith(c.overall, X, method)
	case Mean:
		if method != methodPredictProba {
			for _, est := range c.estimators {
				if model.IsClassifier(est) {
					return nil, errors.NewValidationError("oos_method",
						"cannot take a mean of hard class predictions; use probability outputs or a different oos_method", string(oosMethod))
				}
			}
		}
		return c.predictReduced(X, method, meanReduce)
	default:
		return c.predictReduced(X, method, medianReduce)
	}
}

// predictInSample serves every row from the fold model that held it out.
func (c *CrossFitEstimator) predictInSample(X mat.Matrix, method predictMethod) (*mat.Dense, error) {
	if c.testIndices == nil {
		return nil, errors.NewNotFittedError("CrossFitEstimator", "Predict")
	}
	nOutputs, err := c.nOutputs(method)
	if err != nil {
		return nil, err
	}

	n, _ := X.Dims()
	predictions := mat.NewDense(n, nOutputs, nil)
	for i, est := range c.estimators {
		indices := c.testIndices[i]
		foldPredictions, err := c.predictWith(est, indexMatrix(X, indices), method)
		if err != nil {
			return nil, err
		}
		for row, idx := range indices {
			for j := 0; j < nOutputs; j++ {
				predictions.Set(idx, j, foldPredictions.At(row, j))
			}
		}
	}
	return predictions, nil
}

// predictReduced stacks the fold models' predictions along a third axis of
// shape (n, nOutputs, nFolds) and reduces it elementwise.
func (c *CrossFitEstimator) predictReduced(X mat.Matrix, method predictMethod, reduce func([]float64) float64) (*mat.Dense, error) {
	nOutputs, err := c.nOutputs(method)
	if err != nil {
		return nil, err
	}

	n, _ := X.Dims()
	stacked := make([]*mat.Dense, c.nFolds)
	for i, est := range c.estimators {
		p, err := c.predictWith(est, X, method)
		if err != nil {
			return nil, err
		}
		stacked[i] = p
	}

	result := mat.NewDense(n, nOutputs, nil)
	buf := make([]float64, c.nFolds)
	for i := 0; i < n; i++ {
		for j := 0; j < nOutputs; j++ {
			for k := 0; k < c.nFolds; k++ {
				buf[k] = stacked[k].At(i, j)
			}
			result.Set(i, j, reduce(buf))
		}
	}
	return result, nil
}

// predictWith invokes the selected predict method on a single model and
// normalizes the result to a dense matrix.
func (c *CrossFitEstimator) predictWith(est model.Estimator, X mat.Matrix, method predictMethod) (*mat.Dense, error) {
	if method == methodPredictProba {
		pp, ok := est.(model.ProbabilityPredictor)
		if !ok {
			return nil, errors.NewValidationError("estimators",
				"probability prediction requires classifier models", nil)
		}
		p, err := pp.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return mat.DenseCopyOf(p), nil
	}
	p, err := est.Predict(X)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(p), nil
}

// Score is intentionally unimplemented; model selection is out of scope.
func (c *CrossFitEstimator) Score(X, y mat.Matrix) (float64, error) {
	return 0, errors.WithStack(errors.ErrNotImplemented)
}

// SetParams is intentionally unimplemented; model selection is out of scope.
func (c *CrossFitEstimator) SetParams(params map[string]interface{}) error {
	return errors.WithStack(errors.ErrNotImplemented)
}

func meanReduce(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func medianReduce(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// indexMatrix selects the given rows of X into a new dense matrix.
func indexMatrix(X mat.Matrix, rows []int) *mat.Dense {
	_, cols := X.Dims()
	sub := mat.NewDense(len(rows), cols, nil)
	for i, idx := range rows {
		for j := 0; j < cols; j++ {
			sub.Set(i, j, X.At(idx, j))
		}
	}
	return sub
}

func indexSlice(values []float64, rows []int) []float64 {
	sub := make([]float64, len(rows))
	for i, idx := range rows {
		sub[i] = values[idx]
	}
	return sub
}
