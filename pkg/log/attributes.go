package log

// Standard attribute keys for structured logging of estimation operations.
// Using shared constants keeps field names consistent across packages.
const (
	// ModelKindKey identifies a model slot ("propensity_model", ...).
	ModelKindKey = "model_kind"
	// ModelOrdKey is the instance index within a slot.
	ModelOrdKey = "model_ord"
	// OperationKey names the operation being performed ("fit", "predict").
	OperationKey = "operation"
	// FoldKey is the cross-fitting fold index.
	FoldKey = "fold"
	// NFoldsKey is the total number of cross-fitting folds.
	NFoldsKey = "n_folds"
	// SamplesKey is the number of observations involved.
	SamplesKey = "samples"
	// FeaturesKey is the number of feature columns involved.
	FeaturesKey = "features"
	// DurationMsKey is an elapsed wall-clock duration in milliseconds.
	DurationMsKey = "duration_ms"
	// SeedKey is the random seed controlling a fold partition.
	SeedKey = "seed"
)
