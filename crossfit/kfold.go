package crossfit

import (
	"math/rand/v2"
)

// Fold holds the train/test index sets of a single cross-fitting fold.
type Fold struct {
	Train []int
	Test  []int
}

// KFold partitions observation indices into k shuffled folds. The test sets
// of the k folds are disjoint and exhaustive over 0..nSamples-1.
//
// The shuffle is driven by a PCG source seeded from Seed, so fold membership
// is reproducible given a fixed seed.
type KFold struct {
	NSplits int
	Seed    uint64
}

// NewKFold creates a new k-fold splitter.
func NewKFold(nSplits int, seed uint64) *KFold {
	return &KFold{NSplits: nSplits, Seed: seed}
}

// Split generates the train/test indices for each fold over nSamples
// observations. The remainder of nSamples/NSplits is spread over the first
// folds, so test-set sizes differ by at most one.
func (kf *KFold) Split(nSamples int) []Fold {
	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	r := rand.New(rand.NewPCG(kf.Seed, kf.Seed))
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	folds := make([]Fold, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	currentIdx := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}

		testIndices := make([]int, testSize)
		copy(testIndices, indices[currentIdx:currentIdx+testSize])

		// Train indices are the complement of the test set.
		inTest := make(map[int]bool, testSize)
		for _, idx := range testIndices {
			inTest[idx] = true
		}
		trainIndices := make([]int, 0, nSamples-testSize)
		for j := 0; j < nSamples; j++ {
			if !inTest[j] {
				trainIndices = append(trainIndices, j)
			}
		}

		folds[i] = Fold{Train: trainIndices, Test: testIndices}
		currentIdx += testSize
	}

	return folds
}
