// Package causalgo provides meta-learners for the estimation of
// heterogeneous treatment effects (CATE) in Go, built on cross-fitted,
// pluggable supervised base models.
//
// A meta-learner decomposes a causal estimand into auxiliary ("nuisance")
// prediction problems and one or more "treatment" prediction problems, each
// solved by any model satisfying the capability contract in core/model,
// then combines them algebraically into a CATE estimate.
//
// # Packages
//
//   - crossfit: k-fold cross-fitting with leakage-safe in-sample prediction
//     and aggregated out-of-sample prediction
//   - metalearner: generic slot-based orchestration and the R-Learner
//   - linear: reference base models (weighted least squares, binary
//     logistic regression)
//   - metrics: RMSE, log-loss and the R-loss
//
// # Quick Start
//
// Estimating a CATE with the R-Learner:
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "gonum.org/v1/gonum/mat"
//
//	    "github.com/YuminosukeSato/causalgo/core/model"
//	    "github.com/YuminosukeSato/causalgo/linear"
//	    "github.com/YuminosukeSato/causalgo/metalearner"
//	)
//
//	func main() {
//	    learner, err := metalearner.NewRLearner(metalearner.Config{
//	        NVariants:         2,
//	        PropensityFactory: func() model.Estimator { return linear.NewLogistic() },
//	        NuisanceFactory:   func() model.Estimator { return linear.NewRegression() },
//	        TreatmentFactory:  func() model.Estimator { return linear.NewRegression() },
//	        NFolds:            5,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // X covariates, y outcomes, w integer-coded treatments.
//	    var X *mat.Dense
//	    var y, w *mat.VecDense
//	    // ... load data ...
//
//	    if err := learner.Fit(X, y, w); err != nil {
//	        log.Fatal(err)
//	    }
//	    cate, err := learner.Predict(X, false, "")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(cate.At(0, 0, 0))
//	}
package causalgo
