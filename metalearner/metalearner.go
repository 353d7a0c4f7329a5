// Package metalearner implements meta-learners for the estimation of
// conditional average treatment effects (CATE) on top of cross-fitted base
// models.
//
// A meta-learner decomposes a causal estimand into auxiliary ("nuisance")
// prediction problems and one or more "treatment" prediction problems, each
// solved by a pluggable supervised model, then combines them algebraically
// into a CATE estimate. A concrete algorithm is declared as a table of
// model slots (see Slots) consumed by the generic orchestration in this
// package; RLearner is the concrete algorithm shipped here.
package metalearner

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/crossfit"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// DefaultNFolds is the fold count used when Config.NFolds is zero.
const DefaultNFolds = 10

// Config carries the construction parameters of a MetaLearner.
//
// Factories and feature sets follow a broadcast-or-map pattern: the single
// value applies to every slot absent from the corresponding per-slot map.
// Hyperparameters live inside the factory closures.
type Config struct {
	// IsClassification declares the outcome a class rather than a scalar.
	IsClassification bool
	// NVariants is the number of treatment variants, at least 2. The
	// treatment vector must be integer-coded over {0..NVariants-1}.
	NVariants int

	// NuisanceFactory/NuisanceFactories configure the non-propensity
	// nuisance slots. Supplying the propensity slot here is a
	// configuration error; use PropensityFactory.
	NuisanceFactory   model.Factory
	NuisanceFactories map[string]model.Factory
	// PropensityFactory is the dedicated channel for the propensity slot.
	PropensityFactory model.Factory

	TreatmentFactory   model.Factory
	TreatmentFactories map[string]model.Factory

	// FittedNuisanceModels supplies pre-fitted estimators per nuisance
	// slot. Ownership transfers to the learner; such slots are never
	// refitted. The models must have been fitted on the same data the
	// learner's Fit will be called with.
	FittedNuisanceModels  map[string][]*crossfit.CrossFitEstimator
	FittedPropensityModel *crossfit.CrossFitEstimator

	FeatureSet  *FeatureSet
	FeatureSets map[string]*FeatureSet

	// NFolds is the cross-fitting fold count (default DefaultNFolds).
	NFolds       int
	NFoldsBySlot map[string]int

	// Seed controls every slot's fold partition. Each slot derives its own
	// sub-seed, so partitions are reproducible but not aligned across
	// slots.
	Seed uint64
}

// MetaLearner is the generic slot-based training and prediction
// coordinator. It owns one or more CrossFitEstimator instances per declared
// slot, routes fit parameters and feature subsets, and serves the generic
// per-slot fit/predict operations that concrete algorithms are built from.
type MetaLearner struct {
	model.BaseEstimator

	slots            Slots
	isClassification bool
	nVariants        int
	seed             uint64

	featureSets map[string]*FeatureSet

	// The resolved per-slot factories and fold counts are retained so that
	// a fit attempt can construct fresh staging estimators (see beginFit).
	nuisanceFactories  map[string]model.Factory
	treatmentFactories map[string]model.Factory
	nFoldsBySlot       map[string]int

	nuisance  map[string][]*crossfit.CrossFitEstimator
	treatment map[string][]*crossfit.CrossFitEstimator
	// prefitted holds the nuisance slot names whose models were supplied
	// pre-fitted; those are permanently excluded from fitting.
	prefitted map[string]bool

	// treatmentVariantRows[v] holds the observation rows assigned variant v
	// during fit, in fit order. Required by the conditional-average-outcome
	// helper.
	treatmentVariantRows [][]int
}

// New constructs a MetaLearner from an algorithm's slot table and a Config.
// All configuration validation is eager: factory resolution, the reserved
// propensity channel, pre-fitted handle bookkeeping, and capability
// compatibility are checked here, before any training work.
func New(slots Slots, cfg Config) (*MetaLearner, error) {
	if err := validateNVariants(slots, cfg.NVariants); err != nil {
		return nil, err
	}

	if _, ok := slots.treatmentSpec(PropensityModel); ok {
		return nil, errors.NewConfigurationErrorf("MetaLearner",
			"%s cannot be used as a treatment slot name", PropensityModel)
	}
	if _, ok := cfg.NuisanceFactories[PropensityModel]; ok {
		return nil, errors.NewConfigurationError("MetaLearner",
			"the propensity model must be supplied via PropensityFactory, not via the generic nuisance channel")
	}
	if _, ok := cfg.FittedNuisanceModels[PropensityModel]; ok {
		return nil, errors.NewConfigurationError("MetaLearner",
			"a pre-fitted propensity model must be supplied via FittedPropensityModel, not via FittedNuisanceModels")
	}

	nuisanceNames := slots.nuisanceNames()
	treatmentNames := slots.treatmentNames()

	nuisanceFactories := broadcastOrMap(cfg.NuisanceFactory, cfg.NuisanceFactories, nuisanceNames)
	if _, ok := slots.nuisanceSpec(PropensityModel); ok {
		nuisanceFactories[PropensityModel] = cfg.PropensityFactory
	}
	treatmentFactories := broadcastOrMap(cfg.TreatmentFactory, cfg.TreatmentFactories, treatmentNames)

	nFolds := cfg.NFolds
	if nFolds == 0 {
		nFolds = DefaultNFolds
	}
	nFoldsBySlot := broadcastOrMap(nFolds, cfg.NFoldsBySlot, slots.allNames())
	for name, k := range nFoldsBySlot {
		if k <= 0 {
			return nil, errors.NewConfigurationErrorf("MetaLearner",
				"%s n_folds needs to be a strictly positive integer but is %d", name, k)
		}
	}

	m := &MetaLearner{
		slots:              slots,
		isClassification:   cfg.IsClassification,
		nVariants:          cfg.NVariants,
		seed:               cfg.Seed,
		featureSets:        broadcastOrMap(cfg.FeatureSet, cfg.FeatureSets, slots.allNames()),
		nuisanceFactories:  nuisanceFactories,
		treatmentFactories: treatmentFactories,
		nFoldsBySlot:       nFoldsBySlot,
		nuisance:           make(map[string][]*crossfit.CrossFitEstimator, len(slots.Nuisance)),
		treatment:          make(map[string][]*crossfit.CrossFitEstimator, len(slots.Treatment)),
		prefitted:          make(map[string]bool),
	}

	// Pre-fitted handles move into the registry once and are never
	// revisited by fit.
	for name, handles := range cfg.FittedNuisanceModels {
		spec, ok := slots.nuisanceSpec(name)
		if !ok {
			return nil, errors.NewConfigurationErrorf("MetaLearner",
				"pre-fitted models supplied for unknown nuisance slot %q", name)
		}
		if want := spec.Cardinality(cfg.NVariants); len(handles) != want {
			return nil, errors.NewConfigurationErrorf("MetaLearner",
				"nuisance slot %q requires %d estimator instances, got %d pre-fitted", name, want, len(handles))
		}
		m.nuisance[name] = handles
		m.prefitted[name] = true
	}
	if cfg.FittedPropensityModel != nil {
		if _, ok := slots.nuisanceSpec(PropensityModel); !ok {
			return nil, errors.NewConfigurationError("MetaLearner",
				"a pre-fitted propensity model was supplied but the algorithm declares no propensity slot")
		}
		m.nuisance[PropensityModel] = []*crossfit.CrossFitEstimator{cfg.FittedPropensityModel}
		m.prefitted[PropensityModel] = true
	}

	for _, spec := range slots.Nuisance {
		if m.prefitted[spec.Name] {
			continue
		}
		factory := nuisanceFactories[spec.Name]
		if factory == nil {
			if spec.Name == PropensityModel {
				return nil, errors.NewConfigurationErrorf("MetaLearner",
					"a model for the nuisance slot %q needs to be defined, either via PropensityFactory or FittedPropensityModel", spec.Name)
			}
			return nil, errors.NewConfigurationErrorf("MetaLearner",
				"a model for the nuisance slot %q needs to be defined, either via the nuisance factories or FittedNuisanceModels", spec.Name)
		}
		instances, err := m.newInstances(spec, factory, nFoldsBySlot[spec.Name])
		if err != nil {
			return nil, err
		}
		m.nuisance[spec.Name] = instances
	}

	for _, spec := range slots.Treatment {
		factory := treatmentFactories[spec.Name]
		if factory == nil {
			return nil, errors.NewConfigurationErrorf("MetaLearner",
				"a model for the treatment slot %q needs to be defined", spec.Name)
		}
		instances, err := m.newInstances(spec, factory, nFoldsBySlot[spec.Name])
		if err != nil {
			return nil, err
		}
		m.treatment[spec.Name] = instances
	}

	if err := m.validateModels(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MetaLearner) newInstances(spec ModelSpec, factory model.Factory, nFolds int) ([]*crossfit.CrossFitEstimator, error) {
	cardinality := spec.Cardinality(m.nVariants)
	instances := make([]*crossfit.CrossFitEstimator, cardinality)
	for ord := 0; ord < cardinality; ord++ {
		cfe, err := crossfit.New(nFolds, factory,
			crossfit.WithSeed(slotSeed(m.seed, spec.Name, ord)))
		if err != nil {
			return nil, err
		}
		instances[ord] = cfe
	}
	return instances, nil
}

func validateNVariants(slots Slots, nVariants int) error {
	if nVariants < 2 {
		return errors.NewConfigurationErrorf("MetaLearner",
			"n_variants needs to be an integer strictly greater than 1 but is %d", nVariants)
	}
	if nVariants > 2 && !slots.SupportsMultiTreatment {
		return errors.NewConfigurationErrorf("MetaLearner",
			"this algorithm only supports binary treatment variants, yet n_variants is %d", nVariants)
	}
	return nil
}

// validateModels checks that every slot's designated predict method is
// compatible with the capability of its factory (or pre-fitted handle):
// probability slots require classifiers, point slots require regressors.
func (m *MetaLearner) validateModels() error {
	check := func(spec ModelSpec, isClassifier bool) error {
		switch spec.Method(m.isClassification) {
		case PredictProbability:
			if !isClassifier {
				return errors.NewValidationError(spec.Name,
					"slot uses probability prediction but its model is not a classifier", nil)
			}
		default:
			if isClassifier {
				return errors.NewValidationError(spec.Name,
					"slot uses point prediction but its model is a classifier", nil)
			}
		}
		return nil
	}

	for _, spec := range m.slots.Nuisance {
		if err := check(spec, m.nuisance[spec.Name][0].IsClassifier()); err != nil {
			return err
		}
	}
	for _, spec := range m.slots.Treatment {
		if err := check(spec, m.treatment[spec.Name][0].IsClassifier()); err != nil {
			return err
		}
	}
	return nil
}

// IsClassification reports whether the outcome is a class.
func (m *MetaLearner) IsClassification() bool { return m.isClassification }

// NVariants returns the number of treatment variants.
func (m *MetaLearner) NVariants() int { return m.nVariants }

// NuisanceEstimator returns a nuisance slot's estimator instance, e.g. for
// reuse as a pre-fitted model in another learner.
func (m *MetaLearner) NuisanceEstimator(modelKind string, modelOrd int) (*crossfit.CrossFitEstimator, error) {
	instances, ok := m.nuisance[modelKind]
	if !ok {
		return nil, errors.NewConfigurationErrorf("MetaLearner", "unknown nuisance slot %q", modelKind)
	}
	if modelOrd < 0 || modelOrd >= len(instances) {
		return nil, errors.NewValueError("MetaLearner.NuisanceEstimator", "model_ord out of range")
	}
	return instances[modelOrd], nil
}

// ValidateTreatment checks that w is integer-coded over exactly
// {0..NVariants-1} with every variant present.
func (m *MetaLearner) ValidateTreatment(w *mat.VecDense) error {
	seen := make(map[float64]bool)
	for i := 0; i < w.Len(); i++ {
		seen[w.AtVec(i)] = true
	}
	if len(seen) != m.nVariants {
		return errors.NewValidationError("w",
			"number of variants present in the treatment differs from n_variants", len(seen))
	}
	for v := 0; v < m.nVariants; v++ {
		if !seen[float64(v)] {
			return errors.NewValidationError("w",
				"treatment variants must be encoded with the values {0..n_variants-1} and all variants must be present", v)
		}
	}
	return nil
}

// ValidateOutcome checks the outcome's class cardinality against the
// algorithm's support.
func (m *MetaLearner) ValidateOutcome(y *mat.VecDense) error {
	if !m.isClassification || m.slots.SupportsMultiClass {
		return nil
	}
	seen := make(map[float64]bool)
	for i := 0; i < y.Len(); i++ {
		seen[y.AtVec(i)] = true
	}
	if len(seen) > 2 {
		return errors.NewValidationError("y",
			"this algorithm does not support multiclass classification", len(seen))
	}
	return nil
}

// beginFit installs freshly constructed estimators for every fittable slot
// and returns a restore function that reinstates the previous registry.
// A fit that fails part-way calls restore, so a failed fit never leaves a
// partially fitted slot observable and a retry starts from unfitted
// estimators again. Pre-fitted slots keep their handles either way.
//
// The staged estimators reuse each slot's derived sub-seed, so fold
// partitions are identical across fit attempts.
func (m *MetaLearner) beginFit() (restore func(), err error) {
	stage := func(specs []ModelSpec, factories map[string]model.Factory, current map[string][]*crossfit.CrossFitEstimator) (map[string][]*crossfit.CrossFitEstimator, error) {
		fresh := make(map[string][]*crossfit.CrossFitEstimator, len(specs))
		for _, spec := range specs {
			if m.prefitted[spec.Name] {
				fresh[spec.Name] = current[spec.Name]
				continue
			}
			instances, err := m.newInstances(spec, factories[spec.Name], m.nFoldsBySlot[spec.Name])
			if err != nil {
				return nil, err
			}
			fresh[spec.Name] = instances
		}
		return fresh, nil
	}

	stagedNuisance, err := stage(m.slots.Nuisance, m.nuisanceFactories, m.nuisance)
	if err != nil {
		return nil, err
	}
	stagedTreatment, err := stage(m.slots.Treatment, m.treatmentFactories, m.treatment)
	if err != nil {
		return nil, err
	}

	prevNuisance, prevTreatment := m.nuisance, m.treatment
	m.nuisance, m.treatment = stagedNuisance, stagedTreatment
	return func() {
		m.nuisance, m.treatment = prevNuisance, prevTreatment
	}, nil
}

// FitNuisance fits one nuisance slot instance. y is the objective of that
// slot, not necessarily the outcome of the experiment. Pre-fitted slots are
// never refitted; for those the call is a no-op.
func (m *MetaLearner) FitNuisance(X mat.Matrix, y mat.Matrix, modelKind string, modelOrd int, fitParams Params, parallelism int) error {
	if m.prefitted[modelKind] {
		return nil
	}
	instances, ok := m.nuisance[modelKind]
	if !ok {
		return errors.NewConfigurationErrorf("MetaLearner", "unknown nuisance slot %q", modelKind)
	}
	return m.fitSlot(instances, X, y, modelKind, modelOrd, fitParams, parallelism)
}

// FitTreatment fits one treatment slot instance. y is the objective of that
// slot (for the R-Learner, the pseudo outcome).
func (m *MetaLearner) FitTreatment(X mat.Matrix, y mat.Matrix, modelKind string, modelOrd int, fitParams Params, parallelism int) error {
	instances, ok := m.treatment[modelKind]
	if !ok {
		return errors.NewConfigurationErrorf("MetaLearner", "unknown treatment slot %q", modelKind)
	}
	return m.fitSlot(instances, X, y, modelKind, modelOrd, fitParams, parallelism)
}

func (m *MetaLearner) fitSlot(instances []*crossfit.CrossFitEstimator, X, y mat.Matrix, modelKind string, modelOrd int, fitParams Params, parallelism int) error {
	if modelOrd < 0 || modelOrd >= len(instances) {
		return errors.NewValueError("MetaLearner.fitSlot", "model_ord out of range")
	}
	filtered, err := filterX(X, m.featureSets[modelKind])
	if err != nil {
		return err
	}

	opts := []crossfit.FitOption{crossfit.WithParallelism(parallelism)}
	if fitParams != nil {
		weight, rest, err := fitParams.sampleWeight()
		if err != nil {
			return err
		}
		if weight != nil {
			opts = append(opts, crossfit.WithSampleWeight(weight))
		}
		if len(rest) > 0 {
			opts = append(opts, crossfit.WithFitParams(rest))
		}
	}

	rows, cols := filtered.Dims()
	log.GetLogger().Debug("fitting model slot",
		log.ModelKindKey, modelKind,
		log.ModelOrdKey, modelOrd,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
	)
	return instances[modelOrd].Fit(filtered, y, opts...)
}

// PredictNuisance estimates based on a given nuisance slot instance, using
// the slot's declared prediction capability and feature subset.
func (m *MetaLearner) PredictNuisance(X mat.Matrix, modelKind string, modelOrd int, isOOS bool, oosMethod crossfit.OOSMethod) (*mat.Dense, error) {
	spec, ok := m.slots.nuisanceSpec(modelKind)
	if !ok {
		return nil, errors.NewConfigurationErrorf("MetaLearner", "unknown nuisance slot %q", modelKind)
	}
	instances := m.nuisance[modelKind]
	if modelOrd < 0 || modelOrd >= len(instances) {
		return nil, errors.NewValueError("MetaLearner.PredictNuisance", "model_ord out of range")
	}
	filtered, err := filterX(X, m.featureSets[modelKind])
	if err != nil {
		return nil, err
	}
	if spec.Method(m.isClassification) == PredictProbability {
		return instances[modelOrd].PredictProba(filtered, isOOS, oosMethod)
	}
	return instances[modelOrd].Predict(filtered, isOOS, oosMethod)
}

// PredictTreatment estimates based on a given treatment slot instance.
func (m *MetaLearner) PredictTreatment(X mat.Matrix, modelKind string, modelOrd int, isOOS bool, oosMethod crossfit.OOSMethod) (*mat.Dense, error) {
	instances, ok := m.treatment[modelKind]
	if !ok {
		return nil, errors.NewConfigurationErrorf("MetaLearner", "unknown treatment slot %q", modelKind)
	}
	if modelOrd < 0 || modelOrd >= len(instances) {
		return nil, errors.NewValueError("MetaLearner.PredictTreatment", "model_ord out of range")
	}
	filtered, err := filterX(X, m.featureSets[modelKind])
	if err != nil {
		return nil, err
	}
	return instances[modelOrd].Predict(filtered, isOOS, oosMethod)
}

// recordTreatmentVariantRows stores, per variant, the observation rows
// assigned that variant at fit time.
func (m *MetaLearner) recordTreatmentVariantRows(w *mat.VecDense) {
	rows := make([][]int, m.nVariants)
	for i := 0; i < w.Len(); i++ {
		v := int(w.AtVec(i))
		rows[v] = append(rows[v], i)
	}
	m.treatmentVariantRows = rows
}

// PredictConditionalAverageOutcomes predicts, per treatment variant v, the
// conditional average outcome E[Y(v)|X] from the variant-outcome slot.
//
// Observations actually treated with v are served by that variant model's
// leakage-safe in-sample estimate; all other observations use the model's
// aggregated out-of-sample estimate. The returned tensor has shape
// (n_observations, n_variants, n_outputs).
func (m *MetaLearner) PredictConditionalAverageOutcomes(X mat.Matrix, isOOS bool, oosMethod crossfit.OOSMethod) (*Tensor3, error) {
	if m.treatmentVariantRows == nil {
		return nil, errors.NewNotFittedError("MetaLearner", "PredictConditionalAverageOutcomes")
	}
	instances, ok := m.nuisance[VariantOutcomeModel]
	if !ok {
		return nil, errors.NewConfigurationErrorf("MetaLearner",
			"this algorithm declares no %s slot", VariantOutcomeModel)
	}

	n, _ := X.Dims()
	nOutputs := 1
	if m.isClassification {
		var err error
		nOutputs, err = instances[0].NClasses()
		if err != nil {
			return nil, err
		}
	}

	outcomes := NewTensor3(n, m.nVariants, nOutputs)
	for v := 0; v < m.nVariants; v++ {
		if isOOS {
			preds, err := m.PredictNuisance(X, VariantOutcomeModel, v, true, oosMethod)
			if err != nil {
				return nil, err
			}
			for i := 0; i < n; i++ {
				for j := 0; j < nOutputs; j++ {
					outcomes.Set(i, v, j, preds.At(i, j))
				}
			}
			continue
		}

		variantRows := m.treatmentVariantRows[v]
		otherRows := complementRows(n, variantRows)

		inSample, err := m.PredictNuisance(SelectRows(X, variantRows), VariantOutcomeModel, v, false, "")
		if err != nil {
			return nil, err
		}
		for i, row := range variantRows {
			for j := 0; j < nOutputs; j++ {
				outcomes.Set(row, v, j, inSample.At(i, j))
			}
		}

		outOfSample, err := m.PredictNuisance(SelectRows(X, otherRows), VariantOutcomeModel, v, true, oosMethod)
		if err != nil {
			return nil, err
		}
		for i, row := range otherRows {
			for j := 0; j < nOutputs; j++ {
				outcomes.Set(row, v, j, outOfSample.At(i, j))
			}
		}
	}
	return outcomes, nil
}

// SelectRows extracts the given rows of X into a new dense matrix.
func SelectRows(X mat.Matrix, rows []int) *mat.Dense {
	_, cols := X.Dims()
	sub := mat.NewDense(len(rows), cols, nil)
	for i, idx := range rows {
		for j := 0; j < cols; j++ {
			sub.Set(i, j, X.At(idx, j))
		}
	}
	return sub
}

func complementRows(n int, rows []int) []int {
	in := make(map[int]bool, len(rows))
	for _, r := range rows {
		in[r] = true
	}
	out := make([]int, 0, n-len(rows))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}
