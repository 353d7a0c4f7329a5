// Package model defines the capability contract consumed from trainable
// models. This file complements the base interfaces in estimator.go with the
// classifier-side capabilities used for probability prediction.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// ProbabilityPredictor is the interface for models that can produce
// per-class probability estimates.
type ProbabilityPredictor interface {
	// PredictProba returns one row of per-class probabilities per
	// observation, shaped (n, n_classes). Columns are ordered by class
	// label.
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// ClassCounter is the interface for fitted classifiers that report how many
// classes they saw during fitting.
type ClassCounter interface {
	// NClasses returns the number of distinct classes seen during fitting.
	// The value is only meaningful once the model has been fitted.
	NClasses() int
}

// Classifier combines the capabilities required of a classification model.
type Classifier interface {
	Estimator
	ProbabilityPredictor
	ClassCounter
}

// ParameterSetter is the interface for models that accept extra fit
// parameters before training.
type ParameterSetter interface {
	// SetParams sets model-specific parameters.
	SetParams(params map[string]interface{}) error
}

// IsClassifier reports whether est exposes the classifier capabilities.
func IsClassifier(est Estimator) bool {
	_, ok := est.(Classifier)
	return ok
}

// SupportsWeightedFit reports whether est accepts per-observation sample
// weights in its fit method.
func SupportsWeightedFit(est Estimator) bool {
	_, ok := est.(WeightedFitter)
	return ok
}
