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

	"github.com/openmeasure/sketches-go/common"
)

// fixedBits replays a canned bit sequence so compaction outcomes are exact.
type fixedBits struct {
	bits []uint32
	i    int
}

func (f *fixedBits) bit() uint32 {
	b := f.bits[f.i%len(f.bits)]
	f.i++
	return b
}

func TestRandomlyHalveDown(t *testing.T) {
	buf := []int64{10, 11, 12, 13, 14, 15, 16, 17}

	even := append([]int64(nil), buf...)
	randomlyHalveDown(even, 0, 8, &fixedBits{bits: []uint32{0}})
	assert.Equal(t, []int64{10, 12, 14, 16}, even[:4])

	odd := append([]int64(nil), buf...)
	randomlyHalveDown(odd, 0, 8, &fixedBits{bits: []uint32{1}})
	assert.Equal(t, []int64{11, 13, 15, 17}, odd[:4])
}

func TestRandomlyHalveDown_SubRange(t *testing.T) {
	buf := []int64{99, 99, 1, 2, 3, 4, 99}
	randomlyHalveDown(buf, 2, 4, &fixedBits{bits: []uint32{0}})
	assert.Equal(t, []int64{1, 3}, buf[2:4])
	// Bytes outside the range stay untouched.
	assert.Equal(t, int64(99), buf[0])
	assert.Equal(t, int64(99), buf[6])
}

func TestRandomlyHalveUp(t *testing.T) {
	buf := []int64{10, 11, 12, 13, 14, 15, 16, 17}

	odd := append([]int64(nil), buf...)
	randomlyHalveUp(odd, 0, 8, &fixedBits{bits: []uint32{0}})
	assert.Equal(t, []int64{11, 13, 15, 17}, odd[4:])

	even := append([]int64(nil), buf...)
	randomlyHalveUp(even, 0, 8, &fixedBits{bits: []uint32{1}})
	assert.Equal(t, []int64{10, 12, 14, 16}, even[4:])
}

func TestRandomlyHalve_OddLengthPanics(t *testing.T) {
	buf := make([]int64, 8)
	assert.Panics(t, func() { randomlyHalveDown(buf, 0, 5, &fixedBits{bits: []uint32{0}}) })
	assert.Panics(t, func() { randomlyHalveUp(buf, 0, 5, &fixedBits{bits: []uint32{0}}) })
}

func TestMergeOverlap(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	// A at [0,3), B at [6,9), output at [3,9) overlapping B.
	buf := []int64{1, 3, 5, 0, 0, 0, 2, 4, 6}
	mergeOverlap(buf, 0, 3, 6, 3, 3, lessFn)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, buf[3:9])
}

func TestMergeOverlap_EmptySides(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)

	buf := []int64{7, 8, 9, 0, 0, 0}
	mergeOverlap(buf, 0, 3, 6, 0, 3, lessFn)
	assert.Equal(t, []int64{7, 8, 9}, buf[3:6])

	buf = []int64{0, 0, 0, 1, 2, 3}
	mergeOverlap(buf, 0, 0, 3, 3, 0, lessFn)
	assert.Equal(t, []int64{1, 2, 3}, buf[0:3])
}

func TestMergeOverlap_PreconditionPanics(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	buf := make([]int64, 10)
	// Output range starts before A has been fully read.
	assert.Panics(t, func() { mergeOverlap(buf, 0, 4, 6, 2, 2, lessFn) })
	// Output range would overtake unread B elements.
	assert.Panics(t, func() { mergeOverlap(buf, 0, 3, 4, 3, 3, lessFn) })
}

func TestFindLevelToCompact(t *testing.T) {
	// Level 0 full.
	assert.Equal(t, uint8(0), findLevelToCompact(8, 2, []uint32{0, 8, 16}))
	// Level 0 has room, level 1 full.
	assert.Equal(t, uint8(1), findLevelToCompact(8, 2, []uint32{1, 4, 12}))
}

func TestFindLevelToCompact_NoFullLevelPanics(t *testing.T) {
	assert.Panics(t, func() { findLevelToCompact(8, 2, []uint32{1, 5, 8}) })
}

func TestGeneralCompress_UnderfullLevelsCarriedOver(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	// 12 items against a target capacity of 16: nothing compacts.
	items := []int64{4, 2, 3, 1, 8, 7, 6, 5, 10, 20, 30, 40, 0, 0, 0, 0}
	inLevels := []uint32{0, 8, 12, 0}
	outLevels := make([]uint32, 4)
	bits := &fixedBits{bits: []uint32{0}}

	result := generalCompress[int64](8, 2, items, inLevels, outLevels, false, lessFn, bits)

	assert.Equal(t, uint8(2), result.finalNumLevels)
	assert.Equal(t, uint32(16), result.finalCapacity)
	assert.Equal(t, uint32(12), result.finalNumItems)
	assert.Equal(t, []uint32{0, 8, 12}, outLevels[:3])
	// No random bit was consumed.
	assert.Equal(t, 0, bits.i)
}

func TestGeneralCompress_OverfullLevelZero(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	// 16 items, target capacity 16: level 0 (12 items, capacity 8) compacts.
	items := []int64{12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 2, 4, 6, 8}
	inLevels := []uint32{0, 12, 16, 0}
	outLevels := make([]uint32, 4)

	result := generalCompress[int64](8, 2, items, inLevels, outLevels, false, lessFn, &fixedBits{bits: []uint32{0}})

	assert.Equal(t, uint8(2), result.finalNumLevels)
	assert.Equal(t, uint32(16), result.finalCapacity)
	assert.Equal(t, uint32(10), result.finalNumItems)
	// Level 0 emptied, level 1 holds the merged survivors.
	assert.Equal(t, []uint32{0, 0, 10}, outLevels[:3])
	// Level 0 was sorted to [1..12], halving with offset 0 kept the odd
	// values, and the merge folded in the old level 1.
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 11}, items[0:10])
	// Weight is preserved: 12*1 + 4*2 == 0*1 + 10*2.
	assert.Equal(t, uint64(20), sumSampleWeights(2, outLevels[:3]))
}

func TestGeneralCompress_OddPopulationKeepsOrphan(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	// Level 0 holds 13 items: the lowest survives untouched as a carry-over.
	items := make([]int64, 17)
	for i := 0; i < 13; i++ {
		items[i] = int64(i) // already sorted
	}
	items[13], items[14], items[15], items[16] = 5, 10, 15, 20
	inLevels := []uint32{0, 13, 17, 0}
	outLevels := make([]uint32, 4)

	result := generalCompress[int64](8, 2, items, inLevels, outLevels, true, lessFn, &fixedBits{bits: []uint32{0}})

	assert.Equal(t, uint8(2), result.finalNumLevels)
	assert.Equal(t, uint32(11), result.finalNumItems)
	assert.Equal(t, []uint32{0, 1, 11}, outLevels[:3])
	assert.Equal(t, int64(0), items[0])
	// 13*1 + 4*2 == 21 == 1*1 + 10*2.
	assert.Equal(t, uint64(21), sumSampleWeights(2, outLevels[:3]))
}

func TestGeneralCompress_TopLevelGrowth(t *testing.T) {
	lessFn := common.ItemSketchLongComparator(false)
	// A single over-full level: compacting the top level adds a level.
	items := []int64{8, 7, 6, 5, 4, 3, 2, 1, 0, 0}
	inLevels := []uint32{0, 8, 0, 0}
	outLevels := make([]uint32, 4)

	result := generalCompress[int64](8, 1, items, inLevels, outLevels, false, lessFn, &fixedBits{bits: []uint32{0}})

	assert.Equal(t, uint8(2), result.finalNumLevels)
	assert.Equal(t, uint32(4), result.finalNumItems)
	// Survivors moved up a level; weight preserved: 8*1 == 4*2.
	assert.Equal(t, uint64(8), sumSampleWeights(2, outLevels[:3]))
}
