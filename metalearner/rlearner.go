package metalearner

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/crossfit"
	"github.com/YuminosukeSato/causalgo/metrics"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// DefaultEpsilon is the stabilizing constant added to the treatment
// residual in the pseudo-outcome denominator. It is a fixed default, not
// scaled to the data's units; override it per fit with WithEpsilon.
const DefaultEpsilon = 1e-9

// RLearner estimates the CATE as described by Nie et al.
// (https://arxiv.org/pdf/1712.04912.pdf).
//
// The R-Learner contains two nuisance slots
//
//   - "propensity_model" estimating P(W=1|X)
//   - "outcome_model" estimating E[Y|X]
//
// and one treatment slot
//
//   - "treatment_model" estimating E[Y(1) - Y(0)|X]
//
// The current implementation only supports binary treatment variants and,
// for classification outcomes, binary classes. The treatment model factory
// has to support a per-observation sample weight in its fit method.
type RLearner struct {
	*MetaLearner
}

// RLearnerSlots returns the R-Learner's declarative slot table.
func RLearnerSlots() Slots {
	one := func(int) int { return 1 }
	return Slots{
		Nuisance: []ModelSpec{
			{
				Name:        PropensityModel,
				Cardinality: one,
				Method:      func(bool) PredictMethod { return PredictProbability },
			},
			{
				Name:        OutcomeModel,
				Cardinality: one,
				Method: func(isClassification bool) PredictMethod {
					if isClassification {
						return PredictProbability
					}
					return PredictPoint
				},
			},
		},
		Treatment: []ModelSpec{
			{
				Name:        TreatmentModel,
				Cardinality: one,
				Method:      func(bool) PredictMethod { return PredictPoint },
			},
		},
		SupportsMultiTreatment: false,
		SupportsMultiClass:     false,
	}
}

// NewRLearner constructs an R-Learner from cfg. Beyond the generic slot
// validation, the treatment model factory must support weighted fitting.
func NewRLearner(cfg Config) (*RLearner, error) {
	m, err := New(RLearnerSlots(), cfg)
	if err != nil {
		return nil, err
	}

	treatmentFactory := cfg.TreatmentFactory
	if f, ok := cfg.TreatmentFactories[TreatmentModel]; ok {
		treatmentFactory = f
	}
	if !model.SupportsWeightedFit(treatmentFactory()) {
		return nil, errors.NewValidationError(TreatmentModel,
			"the treatment model's fit method does not support a sample weight", nil)
	}

	return &RLearner{MetaLearner: m}, nil
}

// RFitOptions carries per-fit parameters of the R-Learner.
type RFitOptions struct {
	// Epsilon stabilizes the pseudo-outcome denominator.
	Epsilon float64
	// Parallelism bounds per-slot cross-fitting concurrency.
	Parallelism int
	// FitParams are routed to the slots' underlying model fits.
	FitParams *FitParams
}

// RFitOption mutates RFitOptions.
type RFitOption func(*RFitOptions)

// WithEpsilon overrides the stabilizing epsilon of the pseudo-outcome.
func WithEpsilon(eps float64) RFitOption {
	return func(o *RFitOptions) { o.Epsilon = eps }
}

// WithParallelism bounds the number of concurrently trained fold models
// within each slot's cross-fitting.
func WithParallelism(n int) RFitOption {
	return func(o *RFitOptions) { o.Parallelism = n }
}

// WithFitParams routes fit parameters to the slots' underlying model fits.
func WithFitParams(fp *FitParams) RFitOption {
	return func(o *RFitOptions) { o.FitParams = fp }
}

// Fit fits all models of the R-Learner: the propensity nuisance on (X, w),
// the outcome nuisance on (X, y), then the treatment model on the
// residual-on-residual pseudo outcome via weighted regression.
//
// Fit is all-or-nothing: on any slot failure the learner remains observably
// unfitted. Pre-fitted slots are never refitted.
func (r *RLearner) Fit(X mat.Matrix, y, w *mat.VecDense, opts ...RFitOption) error {
	if r.IsFitted() {
		return errors.NewConfigurationError("RLearner.Fit", "learner is already fitted; re-fitting is not supported")
	}

	options := RFitOptions{Epsilon: DefaultEpsilon}
	for _, opt := range opts {
		opt(&options)
	}

	n, _ := X.Dims()
	if y.Len() != n {
		return errors.NewDimensionError("RLearner.Fit", n, y.Len(), 0)
	}
	if w.Len() != n {
		return errors.NewDimensionError("RLearner.Fit", n, w.Len(), 0)
	}
	if err := r.ValidateTreatment(w); err != nil {
		return err
	}
	if err := r.ValidateOutcome(y); err != nil {
		return err
	}

	logger := log.GetLogger().With(log.OperationKey, "fit", log.SamplesKey, n)
	nuisanceParams, treatmentParams := options.FitParams.qualified(r.slots)

	// All slots are fitted on staged estimators; the registry keeps its
	// unfitted estimators until every slot has succeeded.
	restore, err := r.beginFit()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			restore()
		}
	}()

	if err := r.FitNuisance(X, w, PropensityModel, 0, nuisanceParams[PropensityModel], options.Parallelism); err != nil {
		return err
	}
	if err := r.FitNuisance(X, y, OutcomeModel, 0, nuisanceParams[OutcomeModel], options.Parallelism); err != nil {
		return err
	}
	logger.Debug("nuisance models fitted")

	pseudoOutcomes, weights, err := r.pseudoOutcomeAndWeights(X, y, w, options.Epsilon)
	if err != nil {
		return err
	}

	params := make(Params, len(treatmentParams[TreatmentModel])+1)
	for k, v := range treatmentParams[TreatmentModel] {
		params[k] = v
	}
	params[SampleWeightKey] = weights
	if err := r.FitTreatment(X, pseudoOutcomes, TreatmentModel, 0, params, options.Parallelism); err != nil {
		return err
	}
	logger.Debug("treatment model fitted")

	r.recordTreatmentVariantRows(w)
	r.SetFitted()
	committed = true
	return nil
}

// Predict estimates the CATE. The returned tensor has shape
// (n_observations, 1, 1) for regression outcomes and
// (n_observations, 1, 2) for binary classification outcomes, where the two
// trailing entries are the CATE attributed to the negative and positive
// class, [-τ̂, τ̂].
func (r *RLearner) Predict(X mat.Matrix, isOOS bool, oosMethod crossfit.OOSMethod) (*Tensor3, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RLearner", "Predict")
	}

	estimates, err := r.PredictTreatment(X, TreatmentModel, 0, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}

	n, _ := estimates.Dims()
	if r.IsClassification() {
		// The R-Learner only supports binary classes, so the CATE of the
		// complementary class is the negation of the positive-class CATE.
		result := NewTensor3(n, 1, 2)
		for i := 0; i < n; i++ {
			tau := estimates.At(i, 0)
			result.Set(i, 0, 0, -tau)
			result.Set(i, 0, 1, tau)
		}
		return result, nil
	}

	result := NewTensor3(n, 1, 1)
	for i := 0; i < n; i++ {
		result.Set(i, 0, 0, estimates.At(i, 0))
	}
	return result, nil
}

// Evaluate recomputes the nuisance and treatment predictions at the
// requested sampling mode and reports the outcome loss, the propensity
// cross-entropy and the R-loss, keyed "outcome_rmse" or "outcome_log_loss",
// "propensity_cross_entropy" and "r_loss".
func (r *RLearner) Evaluate(X mat.Matrix, y, w *mat.VecDense, isOOS bool, oosMethod crossfit.OOSMethod) (map[string]float64, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RLearner", "Evaluate")
	}

	wHat, err := r.positiveClassProbability(X, PropensityModel, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}
	yHat, err := r.outcomeEstimates(X, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}
	tauMat, err := r.PredictTreatment(X, TreatmentModel, 0, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}
	tauHat := columnVec(tauMat, 0)

	result := make(map[string]float64, 3)
	if r.IsClassification() {
		loss, err := metrics.LogLoss(y, yHat)
		if err != nil {
			return nil, err
		}
		result["outcome_log_loss"] = loss
	} else {
		rmse, err := metrics.RMSE(y, yHat)
		if err != nil {
			return nil, err
		}
		result["outcome_rmse"] = rmse
	}

	crossEntropy, err := metrics.LogLoss(w, wHat)
	if err != nil {
		return nil, err
	}
	result["propensity_cross_entropy"] = crossEntropy

	// The R-loss reuses the nuisance predictions computed above rather
	// than re-deriving in-sample ones.
	rLoss, err := metrics.RLoss(tauHat, yHat, wHat, y, w)
	if err != nil {
		return nil, err
	}
	result["r_loss"] = rLoss

	return result, nil
}

// pseudoOutcomeAndWeights computes the R-Learner pseudo outcome and the
// corresponding weights from in-sample (never out-of-sample) nuisance
// predictions.
//
// The pseudo outcome is a fraction of residuals; a small epsilon keeps the
// denominator away from zero. Adding epsilon could itself cause numerical
// harm if the treatment residual is approximately -epsilon, so epsilon is
// added in the direction pointing away from zero.
func (r *RLearner) pseudoOutcomeAndWeights(X mat.Matrix, y, w *mat.VecDense, epsilon float64) (*mat.VecDense, []float64, error) {
	yEstimates, err := r.outcomeEstimates(X, false, "")
	if err != nil {
		return nil, nil, err
	}
	wEstimates, err := r.positiveClassProbability(X, PropensityModel, false, "")
	if err != nil {
		return nil, nil, err
	}

	n := y.Len()
	pseudoOutcomes := mat.NewVecDense(n, nil)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		yResidual := y.AtVec(i) - yEstimates.AtVec(i)
		wResidual := w.AtVec(i) - wEstimates.AtVec(i)

		signedEpsilon := epsilon
		if wResidual < 0 {
			signedEpsilon = -epsilon
		}

		pseudoOutcomes.SetVec(i, yResidual/(wResidual+signedEpsilon))
		weights[i] = wResidual * wResidual
	}
	return pseudoOutcomes, weights, nil
}

// outcomeEstimates returns ĥ(X): the positive-class probability for
// classification outcomes, the point estimate otherwise.
func (r *RLearner) outcomeEstimates(X mat.Matrix, isOOS bool, oosMethod crossfit.OOSMethod) (*mat.VecDense, error) {
	if r.IsClassification() {
		return r.positiveClassProbability(X, OutcomeModel, isOOS, oosMethod)
	}
	estimates, err := r.PredictNuisance(X, OutcomeModel, 0, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}
	return columnVec(estimates, 0), nil
}

// positiveClassProbability returns column 1 of a probability-predicting
// nuisance slot's output.
func (r *RLearner) positiveClassProbability(X mat.Matrix, modelKind string, isOOS bool, oosMethod crossfit.OOSMethod) (*mat.VecDense, error) {
	probabilities, err := r.PredictNuisance(X, modelKind, 0, isOOS, oosMethod)
	if err != nil {
		return nil, err
	}
	_, cols := probabilities.Dims()
	if cols < 2 {
		return nil, errors.NewDimensionError("RLearner."+modelKind, 2, cols, 1)
	}
	return columnVec(probabilities, 1), nil
}

func columnVec(m *mat.Dense, col int) *mat.VecDense {
	rows, _ := m.Dims()
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		v.SetVec(i, m.At(i, col))
	}
	return v
}
