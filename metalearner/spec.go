package metalearner

import (
	"hash/fnv"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Reserved model-slot names shared across meta-learner algorithms.
const (
	// PropensityModel is the nuisance slot estimating P(W=w|X). It has a
	// dedicated configuration channel and must not be supplied through the
	// generic nuisance channel.
	PropensityModel = "propensity_model"
	// OutcomeModel is the nuisance slot estimating E[Y|X].
	OutcomeModel = "outcome_model"
	// VariantOutcomeModel is the per-variant nuisance slot estimating
	// E[Y|X, W=w], used by conditional-average-outcome algorithms.
	VariantOutcomeModel = "variant_outcome_model"
	// TreatmentModel is the slot whose output yields the CATE estimate.
	TreatmentModel = "treatment_model"
)

// PredictMethod selects which prediction capability a model slot uses.
type PredictMethod int

const (
	// PredictPoint uses the point-prediction capability.
	PredictPoint PredictMethod = iota
	// PredictProbability uses the class-probability capability.
	PredictProbability
)

// ModelSpec declares a model slot: its name, how many estimator instances
// it holds, and which prediction capability it uses. A concrete algorithm
// is wired by a plain declarative table of these specs consumed by the
// generic orchestration code.
type ModelSpec struct {
	Name string
	// Cardinality maps the number of treatment variants to the number of
	// estimator instances of this slot.
	Cardinality func(nVariants int) int
	// Method maps the learner's classification flag to the prediction
	// capability this slot uses.
	Method func(isClassification bool) PredictMethod
}

// Slots is the declarative slot table of one meta-learner algorithm.
type Slots struct {
	Nuisance  []ModelSpec
	Treatment []ModelSpec

	// SupportsMultiTreatment permits more than two treatment variants.
	SupportsMultiTreatment bool
	// SupportsMultiClass permits more than two outcome classes.
	SupportsMultiClass bool
}

func (s Slots) nuisanceNames() []string {
	names := make([]string, len(s.Nuisance))
	for i, spec := range s.Nuisance {
		names[i] = spec.Name
	}
	return names
}

func (s Slots) treatmentNames() []string {
	names := make([]string, len(s.Treatment))
	for i, spec := range s.Treatment {
		names[i] = spec.Name
	}
	return names
}

func (s Slots) nuisanceSpec(name string) (ModelSpec, bool) {
	for _, spec := range s.Nuisance {
		if spec.Name == name {
			return spec, true
		}
	}
	return ModelSpec{}, false
}

func (s Slots) treatmentSpec(name string) (ModelSpec, bool) {
	for _, spec := range s.Treatment {
		if spec.Name == name {
			return spec, true
		}
	}
	return ModelSpec{}, false
}

// allNames returns the nuisance slot names followed by the treatment slot
// names.
func (s Slots) allNames() []string {
	return append(s.nuisanceNames(), s.treatmentNames()...)
}

// broadcastOrMap produces a total mapping over the declared slot names from
// either a single broadcast value or a partial per-slot mapping. Slots
// absent from the partial mapping receive the broadcast value.
func broadcastOrMap[T any](single T, perSlot map[string]T, names []string) map[string]T {
	result := make(map[string]T, len(names))
	for _, name := range names {
		if v, ok := perSlot[name]; ok {
			result[name] = v
			continue
		}
		result[name] = single
	}
	return result
}

// slotSeed derives the fold-partition seed of one estimator instance from
// the learner seed, the slot name and the instance index. Slots therefore
// get reproducible but deliberately unaligned partitions.
func slotSeed(base uint64, name string, ord int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return base ^ h.Sum64() ^ (uint64(ord) << 32)
}

// Params carries fit parameters routed to the underlying model fits.
// SampleWeightKey is consumed by the cross-fitting layer; any remaining
// keys are handed to models implementing model.ParameterSetter.
type Params map[string]interface{}

// SampleWeightKey is the routed fit parameter carrying a per-observation
// weight ([]float64).
const SampleWeightKey = "sample_weight"

// sampleWeight splits the per-observation weight off a parameter set.
func (p Params) sampleWeight() ([]float64, Params, error) {
	raw, ok := p[SampleWeightKey]
	if !ok {
		return nil, p, nil
	}
	w, ok := raw.([]float64)
	if !ok {
		return nil, nil, errors.NewValidationError(SampleWeightKey, "must be a []float64", raw)
	}
	rest := make(Params, len(p)-1)
	for k, v := range p {
		if k != SampleWeightKey {
			rest[k] = v
		}
	}
	return w, rest, nil
}

// FitParams routes fit parameters to slots. Either Flat is broadcast to
// every slot, or the nested Nuisance/Treatment maps address slots by name;
// under the nested form, unmentioned slots receive an empty parameter set.
type FitParams struct {
	Flat      Params
	Nuisance  map[string]Params
	Treatment map[string]Params
}

// qualified resolves a FitParams into total per-slot parameter maps.
func (fp *FitParams) qualified(slots Slots) (nuisance, treatment map[string]Params) {
	nuisance = make(map[string]Params, len(slots.Nuisance))
	treatment = make(map[string]Params, len(slots.Treatment))

	if fp == nil || (fp.Nuisance == nil && fp.Treatment == nil) {
		var flat Params
		if fp != nil {
			flat = fp.Flat
		}
		for _, name := range slots.nuisanceNames() {
			nuisance[name] = flat
		}
		for _, name := range slots.treatmentNames() {
			treatment[name] = flat
		}
		return nuisance, treatment
	}

	for _, name := range slots.nuisanceNames() {
		nuisance[name] = fp.Nuisance[name]
	}
	for _, name := range slots.treatmentNames() {
		treatment[name] = fp.Treatment[name]
	}
	return nuisance, treatment
}
