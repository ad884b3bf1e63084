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
	"errors"
	"fmt"
	"math"

	"github.com/openmeasure/sketches-go/common"
	"github.com/openmeasure/sketches-go/internal"
)

var (
	// ErrEmptySketch is returned by observers called on a sketch with no data.
	ErrEmptySketch = errors.New("operation is undefined for an empty sketch")
	// ErrInvalidFraction is returned when a quantile fraction lies outside [0, 1].
	ErrInvalidFraction = errors.New("fraction must be between 0 and 1 inclusive")
	// ErrIncompatibleParameters is returned when sketches with different k or
	// comparator are merged.
	ErrIncompatibleParameters = errors.New("sketches must share k and comparator")
)

const (
	_CDF_COEF = 2.296
	_CDF_EXP  = 0.9723
	_PMF_COEF = 2.446
	_PMF_EXP  = 0.9433
)

func checkK(k uint16) error {
	if k < _MIN_K {
		return fmt.Errorf("k must be >= %d and <= %d: %d", _MIN_K, _MAX_K, k)
	}
	return nil
}

func checkFraction(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFraction, fraction)
	}
	return nil
}

// checkSplitPoints verifies that split points are unique and monotonically
// increasing under the comparator.
func checkSplitPoints[C comparable](splitPoints []C, lessFn common.CompareFn[C]) error {
	for i := 0; i+1 < len(splitPoints); i++ {
		if !lessFn(splitPoints[i], splitPoints[i+1]) {
			return errors.New("split points must be unique and monotonically increasing")
		}
	}
	return nil
}

// getNormalizedRankError is a best fit to the empirically measured max rank
// error at 99 percent confidence. pmf selects the "double-sided" error used
// by GetPMF; otherwise the "single-sided" error applies.
func getNormalizedRankError(k uint16, pmf bool) float64 {
	if pmf {
		return _PMF_COEF / math.Pow(float64(k), _PMF_EXP)
	}
	return _CDF_COEF / math.Pow(float64(k), _CDF_EXP)
}

// KFromEpsilon returns the smallest k whose normalized rank error does not
// exceed epsilon, clamped to the valid k range.
func KFromEpsilon(epsilon float64, pmf bool) uint16 {
	coef, exp := _CDF_COEF, _CDF_EXP
	if pmf {
		coef, exp = _PMF_COEF, _PMF_EXP
	}
	k := math.Ceil(math.Pow(coef/epsilon, 1/exp))
	if k < float64(_MIN_K) {
		return _MIN_K
	}
	if k > float64(_MAX_K) {
		return _MAX_K
	}
	return uint16(k)
}

// ubOnNumLevels is an upper bound on the number of levels a sketch holding n
// values can have.
func ubOnNumLevels(n uint64) int {
	if n == 0 {
		return 1
	}
	return 1 + internal.FloorLog2(n)
}

func currentLevelSize(level, numLevels uint8, levels []uint32) uint32 {
	if level >= numLevels {
		return 0
	}
	return levels[level+1] - levels[level]
}

func getNumRetainedAboveLevelZero(numLevels uint8, levels []uint32) uint32 {
	return levels[numLevels] - levels[1]
}

// sumSampleWeights computes the effective weight of the retained items:
// each level-i item stands for 2^i stream values.
func sumSampleWeights(numLevels uint8, levels []uint32) uint64 {
	var total uint64
	weight := uint64(1)
	for level := uint8(0); level < numLevels; level++ {
		total += weight * uint64(levels[level+1]-levels[level])
		weight <<= 1
	}
	return total
}

func convertToCumulative(weights []uint64) uint64 {
	var subtotal uint64
	for i := range weights {
		subtotal += weights[i]
		weights[i] = subtotal
	}
	return subtotal
}
