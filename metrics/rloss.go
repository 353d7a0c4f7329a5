package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// RLoss computes the square root of the R-loss introduced by Nie et al.
// (https://arxiv.org/pdf/1712.04912.pdf):
//
//	sqrt( 1/N * Σ ((y_i - μ(X_i)) - τ̂(X_i) * (w_i - e(X_i)))² )
//
// where μ is the outcome estimate and e the propensity score. The R-Learner
// minimizes this loss, but it can also be used to evaluate arbitrary CATE
// estimates.
//
// All five vectors must have the same length.
func RLoss(cateEstimates, outcomeEstimates, propensityScores, outcomes, treatments *mat.VecDense) (float64, error) {
	n := cateEstimates.Len()
	for _, v := range []*mat.VecDense{outcomeEstimates, propensityScores, outcomes, treatments} {
		if v.Len() != n {
			return 0, errors.NewDimensionError("RLoss", n, v.Len(), 0)
		}
	}
	if n == 0 {
		return 0, errors.NewValueError("RLoss", "empty vector")
	}

	residualOutcomes := mat.NewVecDense(n, nil)
	scaledResidualTreatments := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		residualOutcomes.SetVec(i, outcomes.AtVec(i)-outcomeEstimates.AtVec(i))
		scaledResidualTreatments.SetVec(i, cateEstimates.AtVec(i)*(treatments.AtVec(i)-propensityScores.AtVec(i)))
	}

	return RMSE(residualOutcomes, scaledResidualTreatments)
}
