package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// probClipEps は log(0) を避けるための確率のクリッピング値
const probClipEps = 1e-15

// LogLoss は二値分類の交差エントロピー損失を計算する。
// yTrue は {0, 1} のラベル、pPred は陽性クラスの予測確率。
// 予測確率は [probClipEps, 1-probClipEps] にクリップされる。
func LogLoss(yTrue, pPred *mat.VecDense) (float64, error) {
	// 入力検証
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("LogLoss", "empty vector")
	}

	if pPred.Len() != n {
		return 0, errors.NewDimensionError("LogLoss", n, pPred.Len(), 0)
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := pPred.AtVec(i)
		if p < probClipEps {
			p = probClipEps
		} else if p > 1-probClipEps {
			p = 1 - probClipEps
		}

		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}

	return sum / float64(n), nil
}
