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
	"slices"

	"github.com/openmeasure/sketches-go/common"
)

// randomlyHalveDown keeps the elements at odd or even positions of
// buf[start:start+length) (one fresh bit decides which) and compacts the
// survivors into the lower half of the range. length must be even.
func randomlyHalveDown[C comparable](buf []C, start, length uint32, bits bitSource) {
	if length&1 != 0 {
		panic("kll: randomlyHalveDown requires an even length")
	}
	halfLength := length / 2
	offset := bits.bit()
	j := start + offset
	for i := start; i < start+halfLength; i++ {
		buf[i] = buf[j]
		j += 2
	}
}

// randomlyHalveUp is the mirror of randomlyHalveDown: the survivors are
// compacted into the upper half of the range.
func randomlyHalveUp[C comparable](buf []C, start, length uint32, bits bitSource) {
	if length&1 != 0 {
		panic("kll: randomlyHalveUp requires an even length")
	}
	halfLength := length / 2
	offset := bits.bit()
	j := (start + length) - 1 - offset
	for i := (start + length) - 1; i >= start+halfLength; i-- {
		buf[i] = buf[j]
		j -= 2
	}
}

// mergeOverlap merges the sorted ranges buf[startA:startA+lenA) and
// buf[startB:startB+lenB) into the range starting at startC. The output may
// overlap range B, so writes proceed strictly left to right; the caller must
// guarantee startA+lenA <= startC and startC+lenA <= startB so no unread
// element is overwritten.
func mergeOverlap[C comparable](buf []C, startA, lenA, startB, lenB, startC uint32, lessFn common.CompareFn[C]) {
	limA := startA + lenA
	limB := startB + lenB
	if limA > startC {
		panic("kll: mergeOverlap output range overlaps unread A elements")
	}
	if startC+lenA > startB {
		panic("kll: mergeOverlap output range overtakes unread B elements")
	}
	a := startA
	b := startB
	c := startC
	for a < limA && b < limB {
		if lessFn(buf[a], buf[b]) {
			buf[c] = buf[a]
			a++
		} else {
			buf[c] = buf[b]
			b++
		}
		c++
	}
	for a < limA {
		buf[c] = buf[a]
		a++
		c++
	}
	for b < limB {
		buf[c] = buf[b]
		b++
		c++
	}
}

// findLevelToCompact returns the lowest level whose population has reached
// its capacity. The caller must only invoke this on a sketch with no free
// space at level 0, which guarantees such a level exists.
func findLevelToCompact(k uint16, numLevels uint8, levels []uint32) uint8 {
	for level := uint8(0); level < numLevels; level++ {
		pop := levels[level+1] - levels[level]
		if pop >= levelCapacity(k, numLevels, level) {
			return level
		}
	}
	panic("kll: full sketch has no level at capacity")
}

type compressResult struct {
	finalNumLevels uint8
	finalCapacity  uint32
	finalNumItems  uint32
}

// generalCompress rebalances a possibly over-full multi-level configuration,
// bottom-up, into a valid one. For each level: if the sketch as a whole or
// the level itself is under capacity the level is moved over as is (never
// upward in the buffer). Otherwise the level is compacted: an odd population
// leaves its lowest element behind as a carry-over, level zero is sorted
// first if needed, and the effective range is halved up into an empty level
// above, or halved down and merge-overlapped into a non-empty one.
// Compacting the top level grows the configuration by one level.
//
// All levels except level zero must be sorted on entry and remain sorted on
// return; level zero's sortedness matches isLevelZeroSorted. On return
// outLevels[finalNumLevels]-outLevels[0] == finalNumItems.
func generalCompress[C comparable](
	k uint16,
	numLevelsIn uint8,
	items []C,
	inLevels []uint32,
	outLevels []uint32,
	isLevelZeroSorted bool,
	lessFn common.CompareFn[C],
	bits bitSource,
) compressResult {
	if numLevelsIn == 0 {
		panic("kll: generalCompress requires at least one level")
	}
	currentNumLevels := numLevelsIn
	// Decreases with each compaction.
	currentItemCount := inLevels[numLevelsIn] - inLevels[0]
	// Increases when levels are added.
	targetItemCount := computeTotalCapacity(k, currentNumLevels)
	outLevels[0] = 0
	for level := uint8(0); level < currentNumLevels; level++ {
		// At the current top level, add an empty level above it for
		// convenience; currentNumLevels is incremented later.
		if level == currentNumLevels-1 {
			inLevels[level+2] = inLevels[level+1]
		}
		rawBeg := inLevels[level]
		rawLim := inLevels[level+1]
		rawPop := rawLim - rawBeg
		if currentItemCount < targetItemCount || rawPop < levelCapacity(k, currentNumLevels, level) {
			// Move the level over as is, never upward in the buffer.
			if rawBeg < outLevels[level] {
				panic("kll: generalCompress would move data upward")
			}
			copy(items[outLevels[level]:], items[rawBeg:rawLim])
			outLevels[level+1] = outLevels[level] + rawPop
		} else {
			// The sketch is too full AND this level is too full.
			popAbove := inLevels[level+2] - rawLim
			oddPop := rawPop&1 == 1
			adjBeg := rawBeg
			adjPop := rawPop
			if oddPop {
				adjBeg++
				adjPop--
			}
			halfAdjPop := adjPop / 2

			if oddPop { // Move one carry-over item.
				items[outLevels[level]] = items[rawBeg]
				outLevels[level+1] = outLevels[level] + 1
			} else {
				outLevels[level+1] = outLevels[level]
			}

			if level == 0 && !isLevelZeroSorted {
				sortRange(items, adjBeg, adjPop, lessFn)
			}

			if popAbove == 0 {
				randomlyHalveUp(items, adjBeg, adjPop, bits)
			} else {
				randomlyHalveDown(items, adjBeg, adjPop, bits)
				mergeOverlap(items, adjBeg, halfAdjPop, rawLim, popAbove, adjBeg+halfAdjPop, lessFn)
			}

			currentItemCount -= halfAdjPop
			// The lower boundary of the level above moves down.
			inLevels[level+1] -= halfAdjPop

			// Compacting the old top level adds capacity: the size of the
			// new bottom level.
			if level == currentNumLevels-1 {
				currentNumLevels++
				targetItemCount += levelCapacity(k, currentNumLevels, 0)
			}
		}
	}
	if outLevels[currentNumLevels]-outLevels[0] != currentItemCount {
		panic("kll: generalCompress item accounting mismatch")
	}
	return compressResult{
		finalNumLevels: currentNumLevels,
		finalCapacity:  targetItemCount,
		finalNumItems:  currentItemCount,
	}
}

func sortRange[C comparable](buf []C, start, length uint32, lessFn common.CompareFn[C]) {
	slices.SortFunc(buf[start:start+length], func(a, b C) int {
		if lessFn(a, b) {
			return -1
		}
		return 1
	})
}
