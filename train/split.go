package train

import (
	"math"
	"math/rand"
	"sort"
)

// stratifiedSplit partitions row indices into train and test sets,
// sampling each class separately so the test fold preserves the class
// balance. The same seed, fraction and input order always yield the same
// split. Each class keeps at least one row on both sides when it has at
// least two rows.
func stratifiedSplit(y []float64, testFraction float64, seed int64) (trainIdx, testIdx []int) {
	byClass := map[float64][]int{}
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		rows := byClass[c]
		nTest := int(math.Round(testFraction * float64(len(rows))))
		if nTest == 0 && len(rows) > 1 {
			nTest = 1
		}
		if nTest >= len(rows) {
			nTest = len(rows) - 1
		}
		perm := rng.Perm(len(rows))
		for k, p := range perm {
			if k < nTest {
				testIdx = append(testIdx, rows[p])
			} else {
				trainIdx = append(trainIdx, rows[p])
			}
		}
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return trainIdx, testIdx
}
