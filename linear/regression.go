// Package linear provides small reference base models satisfying the
// capability contract in core/model: a least-squares regressor with
// optional per-observation weights and a binary logistic classifier. They
// keep the library usable end to end without an external model backend.
package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Regression は正規方程式による線形回帰モデル。
// FitWeighted により観測ごとの重み付き最小二乗にも対応する。
type Regression struct {
	model.BaseEstimator

	Weights   *mat.VecDense // 重み（係数）
	Intercept float64       // 切片
	NFeatures int           // 特徴量の数
}

// NewRegression は新しい線形回帰モデルを作成する
func NewRegression() *Regression {
	return &Regression{}
}

// Fit はモデルを訓練データで学習させる。
// 正規方程式 w = (X^T X)^(-1) X^T y を使用
func (lr *Regression) Fit(X, y mat.Matrix) error {
	return lr.FitWeighted(X, y, nil)
}

// FitWeighted は重み付き正規方程式 (X^T W X) w = X^T W y を解く。
// sampleWeight が nil の場合は通常の最小二乗になる。
func (lr *Regression) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	// 入力の検証
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewValueError("Regression.Fit", "empty data")
	}
	if ry != r {
		return errors.NewDimensionError("Regression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("Regression.Fit", "y must be a column vector")
	}
	if sampleWeight != nil && len(sampleWeight) != r {
		return errors.NewDimensionError("Regression.Fit", r, len(sampleWeight), 0)
	}

	lr.NFeatures = c

	// 切片項のために X に 1 の列を追加
	XWithIntercept := mat.NewDense(r, c+1, nil)

	// 並列処理の閾値（この値以下の行数では逐次処理を使用）
	const parallelThreshold = 1000

	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			XWithIntercept.Set(i, 0, 1.0) // 切片項
			for j := 0; j < c; j++ {
				XWithIntercept.Set(i, j+1, X.At(i, j))
			}
		}
	})

	// 重み付きデザイン行列 W X と W y
	weighted := XWithIntercept
	yVec := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		yVec.SetVec(i, y.At(i, 0))
	}
	if sampleWeight != nil {
		weighted = mat.NewDense(r, c+1, nil)
		for i := 0; i < r; i++ {
			for j := 0; j <= c; j++ {
				weighted.Set(i, j, sampleWeight[i]*XWithIntercept.At(i, j))
			}
			yVec.SetVec(i, sampleWeight[i]*y.At(i, 0))
		}
	}

	// 正規方程式を解く: (X^T W X)^(-1) X^T W y
	var XT mat.Dense
	XT.CloneFrom(XWithIntercept.T())

	var XTX mat.Dense
	XTX.Mul(&XT, weighted)

	var XTXInv mat.Dense
	if err := XTXInv.Inverse(&XTX); err != nil {
		return errors.NewModelError("Regression.Fit", "singular matrix", errors.ErrSingularMatrix)
	}

	var XTy mat.VecDense
	XTy.MulVec(&XT, yVec)

	solution := mat.NewVecDense(c+1, nil)
	solution.MulVec(&XTXInv, &XTy)

	// 切片と重みを分離
	lr.Intercept = solution.AtVec(0)
	lr.Weights = mat.NewVecDense(c, nil)
	for i := 0; i < c; i++ {
		lr.Weights.SetVec(i, solution.AtVec(i+1))
	}

	lr.SetFitted()
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *Regression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("Regression", "Predict")
	}

	r, c := X.Dims()
	if c != lr.NFeatures {
		return nil, errors.NewDimensionError("Regression.Predict", lr.NFeatures, c, 1)
	}

	// 予測: y = X w + intercept
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := lr.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * lr.Weights.AtVec(j)
		}
		predictions.Set(i, 0, pred)
	}

	return predictions, nil
}
