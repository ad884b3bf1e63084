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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeasure/sketches-go/common"
)

func tenValueSketch(t *testing.T) *Sketch[int64] {
	t.Helper()
	sketch, err := NewWithDefault[int64](common.ItemSketchLongComparator(false))
	require.NoError(t, err)
	for _, v := range []int64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5} {
		sketch.Update(v)
	}
	return sketch
}

func TestSortedView_ExactRanks(t *testing.T) {
	sketch := tenValueSketch(t)
	view, err := sketch.GetSortedView()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), view.GetN())

	for i := int64(1); i <= 10; i++ {
		assert.Equal(t, float64(i-1)/10, view.GetRank(i, false), "item %d exclusive", i)
		assert.Equal(t, float64(i)/10, view.GetRank(i, true), "item %d inclusive", i)
	}
	// Below the minimum and above the maximum.
	assert.Equal(t, 0.0, view.GetRank(0, true))
	assert.Equal(t, 1.0, view.GetRank(11, false))
}

func TestSortedView_QuantilesSweepIsMonotone(t *testing.T) {
	sketch := tenValueSketch(t)
	view, err := sketch.GetSortedView()
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i <= 20; i++ {
		q := float64(i) / 20
		v, err := view.GetQuantile(q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestSortedView_CDFAndPMF(t *testing.T) {
	sketch := tenValueSketch(t)

	cdf, err := sketch.GetCDF([]int64{3, 6}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.5, 1.0}, cdf)

	pmf, err := sketch.GetPMF([]int64{3, 6}, false)
	require.NoError(t, err)
	require.Len(t, pmf, 3)
	assert.InDelta(t, 0.2, pmf[0], 1e-12)
	assert.InDelta(t, 0.3, pmf[1], 1e-12)
	assert.InDelta(t, 0.5, pmf[2], 1e-12)

	var sum float64
	for _, p := range pmf {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestSortedView_InclusiveCDF(t *testing.T) {
	sketch := tenValueSketch(t)
	cdf, err := sketch.GetCDF([]int64{3, 6}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.6, 1.0}, cdf)
}

func TestSortedView_BadSplitPoints(t *testing.T) {
	sketch := tenValueSketch(t)
	_, err := sketch.GetCDF([]int64{6, 3}, true)
	assert.Error(t, err)
	_, err = sketch.GetPMF([]int64{3, 3}, true)
	assert.Error(t, err)
}

func TestSortedView_DuplicateItems(t *testing.T) {
	sketch, err := NewWithDefault[int64](common.ItemSketchLongComparator(false))
	require.NoError(t, err)
	for _, v := range []int64{5, 5, 5, 1, 9} {
		sketch.Update(v)
	}
	view, err := sketch.GetSortedView()
	require.NoError(t, err)

	// Ranks around the duplicated value.
	assert.Equal(t, 0.2, view.GetRank(5, false))
	assert.Equal(t, 0.8, view.GetRank(5, true))
}

func TestSortedView_CachedUntilMutation(t *testing.T) {
	sketch := tenValueSketch(t)
	v1, err := sketch.GetSortedView()
	require.NoError(t, err)
	v2, err := sketch.GetSortedView()
	require.NoError(t, err)
	assert.Same(t, v1, v2)

	sketch.Update(11)
	v3, err := sketch.GetSortedView()
	require.NoError(t, err)
	assert.NotSame(t, v1, v3)
}

func TestSortedView_WeightsAfterCompaction(t *testing.T) {
	sketch, err := New[int64](_MIN_K, common.ItemSketchLongComparator(false), nil, _DEFAULT_SEED)
	require.NoError(t, err)
	const n = 1000
	for i := int64(0); i < n; i++ {
		sketch.Update(i)
	}
	view, err := sketch.GetSortedView()
	require.NoError(t, err)
	// Cumulative weights end at n no matter how aggressively levels compacted.
	assert.Equal(t, uint64(n), view.cumWeights[len(view.cumWeights)-1])
}
