package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// WeightedFitter は観測ごとの重み付き学習をサポートするモデルのインターフェース
type WeightedFitter interface {
	// FitWeighted は各観測に重みを付けてモデルを学習させる。
	// sampleWeight の長さは X の行数と一致しなければならない。
	FitWeighted(X, y mat.Matrix, sampleWeight []float64) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う。
	// 戻り値は (n, 1) の列ベクトル行列
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator は交差適合の対象となる最小のモデル契約
type Estimator interface {
	Fitter
	Predictor
}

// Factory は未学習のモデルインスタンスを生成する。
// 呼び出しごとに独立した新しいインスタンスを返さなければならない。
type Factory func() Estimator
