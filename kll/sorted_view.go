/*
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kll

import (
	"sort"

	"github.com/openmeasure/sketches-go/common"
	"github.com/openmeasure/sketches-go/internal"
)

// SortedView is the fully merged, weighted view of a sketch: every retained
// item paired with its cumulative weight, sorted by the comparator. Quantile
// and rank queries run against this view.
type SortedView[C comparable] struct {
	quantiles  []C
	cumWeights []uint64 // inclusive cumulative weights; last entry equals totalN
	totalN     uint64
	minItem    C
	maxItem    C
	lessFn     common.CompareFn[C]
}

// newSortedView merges the levels pairwise into one sorted weighted vector.
// Level 0 is sorted in place first if needed; levels >= 1 are always sorted.
func newSortedView[C comparable](s *Sketch[C]) (*SortedView[C], error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if !s.isLevelZeroSorted {
		sortRange(s.items, s.levels[0], s.levels[1]-s.levels[0], s.lessFn)
		s.isLevelZeroSorted = true
	}

	numRetained := s.GetNumRetained()
	quantiles := make([]C, 0, numRetained)
	weights := make([]uint64, 0, numRetained)
	for level := uint8(0); level < s.numLevels; level++ {
		fromIndex := s.levels[level]
		toIndex := s.levels[level+1]
		if fromIndex == toIndex {
			continue
		}
		oldLen := len(quantiles)
		for i := fromIndex; i < toIndex; i++ {
			quantiles = append(quantiles, s.items[i])
			weights = append(weights, uint64(1)<<level)
		}
		if oldLen > 0 {
			tandemMerge(quantiles, weights, oldLen, s.lessFn)
		}
	}
	totalWeight := convertToCumulative(weights)
	if totalWeight != s.n {
		panic("kll: sorted view weight does not match n")
	}

	return &SortedView[C]{
		quantiles:  quantiles,
		cumWeights: weights,
		totalN:     s.n,
		minItem:    *s.minItem,
		maxItem:    *s.maxItem,
		lessFn:     s.lessFn,
	}, nil
}

// GetQuantile returns the item at the given fraction in [0, 1]: the first
// entry whose strictly-less prefix weight reaches fraction * totalN.
// Fraction 0 maps to the exact minimum and 1 to the exact maximum.
func (v *SortedView[C]) GetQuantile(fraction float64) (C, error) {
	if err := checkFraction(fraction); err != nil {
		return *new(C), err
	}
	if fraction == 0.0 {
		return v.minItem, nil
	}
	if fraction == 1.0 {
		return v.maxItem, nil
	}
	maxWeight := uint64(fraction * float64(v.totalN))
	index := sort.Search(len(v.quantiles), func(i int) bool {
		return v.prefixWeight(i) >= maxWeight
	})
	if index == len(v.quantiles) {
		return v.quantiles[len(v.quantiles)-1], nil
	}
	return v.quantiles[index], nil
}

// GetRank returns the normalized rank of the given item: the fraction of the
// stream below it (inclusive: at or below it).
func (v *SortedView[C]) GetRank(item C, inclusive bool) float64 {
	crit := internal.InequalityLT
	if inclusive {
		crit = internal.InequalityLE
	}
	index := internal.FindWithInequality(v.quantiles, 0, len(v.quantiles)-1, item, crit, v.lessFn)
	if index == -1 {
		return 0
	}
	return float64(v.cumWeights[index]) / float64(v.totalN)
}

// GetCDF evaluates the cumulative distribution function at the given split
// points. The result has one more entry than splitPoints; the last entry is
// always 1.
func (v *SortedView[C]) GetCDF(splitPoints []C, inclusive bool) ([]float64, error) {
	if err := checkSplitPoints(splitPoints, v.lessFn); err != nil {
		return nil, err
	}
	buckets := make([]float64, len(splitPoints)+1)
	for i := range splitPoints {
		buckets[i] = v.GetRank(splitPoints[i], inclusive)
	}
	buckets[len(splitPoints)] = 1.0
	return buckets, nil
}

// GetPMF returns the probability masses of the m+1 intervals delimited by
// the given split points: the first difference of the CDF.
func (v *SortedView[C]) GetPMF(splitPoints []C, inclusive bool) ([]float64, error) {
	buckets, err := v.GetCDF(splitPoints, inclusive)
	if err != nil {
		return nil, err
	}
	for i := len(buckets) - 1; i > 0; i-- {
		buckets[i] -= buckets[i-1]
	}
	return buckets, nil
}

// GetN returns the stream length backing this view.
func (v *SortedView[C]) GetN() uint64 {
	return v.totalN
}

func (v *SortedView[C]) prefixWeight(i int) uint64 {
	if i == 0 {
		return 0
	}
	return v.cumWeights[i-1]
}

// tandemMerge merges the sorted halves [0, mid) and [mid, len) of quantiles,
// carrying the weights along. Stable: on ties the lower half goes first.
func tandemMerge[C comparable](quantiles []C, weights []uint64, mid int, lessFn common.CompareFn[C]) {
	length := len(quantiles)
	qOut := make([]C, length)
	wOut := make([]uint64, length)
	i, j, k := 0, mid, 0
	for i < mid && j < length {
		if lessFn(quantiles[j], quantiles[i]) {
			qOut[k] = quantiles[j]
			wOut[k] = weights[j]
			j++
		} else {
			qOut[k] = quantiles[i]
			wOut[k] = weights[i]
			i++
		}
		k++
	}
	for i < mid {
		qOut[k] = quantiles[i]
		wOut[k] = weights[i]
		i++
		k++
	}
	for j < length {
		qOut[k] = quantiles[j]
		wOut[k] = weights[j]
		j++
		k++
	}
	copy(quantiles, qOut)
	copy(weights, wOut)
}
