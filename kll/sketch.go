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

// Package kll implements a very compact streaming quantile sketch with a lazy
// compaction scheme and nearly optimal accuracy per retained item.
//
// Reference: https://arxiv.org/abs/1603.05346v2 "Optimal Quantile Approximation
// in Streams"
//
// The default k of 200 yields a single-sided normalized rank error of about
// 1.33% with a confidence of 99%.
//
// A sketch is not safe for concurrent mutation. The intended concurrency
// pattern is fan-out: feed independent sketches from disjoint partitions of
// the stream, then reduce them with Merge.
package kll

import (
	"container/heap"
	"fmt"
	"reflect"

	"github.com/openmeasure/sketches-go/common"
)

const (
	_DEFAULT_K = uint16(200)
	_MIN_K     = uint16(8)
	_MAX_K     = uint16((1 << 16) - 1)

	_DEFAULT_SEED = uint64(9001)
)

// Sketch estimates quantiles of a stream of items of a totally ordered type.
// Items are kept in a single buffer split into levels: level i holds items
// that each stand for 2^i stream values. Level 0 fills on every update; when
// it is full the lowest level at capacity is randomly halved, its survivors
// promoted one level up, and the freed space handed back to level 0.
type Sketch[C comparable] struct {
	// k controls the accuracy of the sketch and its memory usage.
	k                 uint16
	n                 uint64
	numLevels         uint8
	isLevelZeroSorted bool
	levels            []uint32
	items             []C
	minItem           *C
	maxItem           *C
	bits              bitSource
	allocator         Allocator
	lessFn            common.CompareFn[C]
	sortedView        *SortedView[C]
}

// New creates a sketch with the given accuracy parameter, comparator,
// allocator and random seed. A nil allocator falls back to DefaultAllocator.
// Sketches built with the same (k, seed) and fed the same input in the same
// order have identical internal state.
func New[C comparable](k uint16, lessFn common.CompareFn[C], allocator Allocator, seed uint64) (*Sketch[C], error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	if lessFn == nil {
		return nil, fmt.Errorf("no compare function provided")
	}
	if allocator == nil {
		allocator = DefaultAllocator()
	}
	s := &Sketch[C]{
		k:         k,
		numLevels: 1,
		bits:      newRandomBit(seed),
		allocator: allocator,
		lessFn:    lessFn,
	}
	s.items = s.allocItems(int(k))
	s.levels = s.allocLevels(2)
	s.levels[0] = uint32(k)
	s.levels[1] = uint32(k)
	return s, nil
}

// NewWithDefault creates a sketch with the default k of 200, the default
// allocator and the default seed.
func NewWithDefault[C comparable](lessFn common.CompareFn[C]) (*Sketch[C], error) {
	return New[C](_DEFAULT_K, lessFn, nil, _DEFAULT_SEED)
}

// IsEmpty returns true if the sketch has seen no data.
func (s *Sketch[C]) IsEmpty() bool {
	return s.n == 0
}

// GetN returns the length of the input stream offered to the sketch.
func (s *Sketch[C]) GetN() uint64 {
	return s.n
}

// GetK returns the accuracy parameter.
func (s *Sketch[C]) GetK() uint16 {
	return s.k
}

// GetNumRetained returns the number of items retained by the sketch.
func (s *Sketch[C]) GetNumRetained() uint32 {
	return s.levels[s.numLevels] - s.levels[0]
}

// GetMinItem returns the exact minimum of the stream.
func (s *Sketch[C]) GetMinItem() (C, error) {
	if s.IsEmpty() {
		return *new(C), ErrEmptySketch
	}
	return *s.minItem, nil
}

// GetMaxItem returns the exact maximum of the stream.
func (s *Sketch[C]) GetMaxItem() (C, error) {
	if s.IsEmpty() {
		return *new(C), ErrEmptySketch
	}
	return *s.maxItem, nil
}

// IsEstimationMode returns true once the sketch has started compacting.
func (s *Sketch[C]) IsEstimationMode() bool {
	return s.numLevels > 1
}

// IsLevelZeroSorted returns true if level 0 is currently in sorted order.
func (s *Sketch[C]) IsLevelZeroSorted() bool {
	return s.isLevelZeroSorted
}

// GetNormalizedRankError returns the rank error of this sketch as a fraction.
// With pmf true the "double-sided" error for GetPMF applies; otherwise the
// "single-sided" error for all other queries.
func (s *Sketch[C]) GetNormalizedRankError(pmf bool) float64 {
	return getNormalizedRankError(s.k, pmf)
}

// GetQuantile returns the approximate quantile at the given fraction in
// [0, 1]. Fraction 0 maps to the exact minimum and 1 to the exact maximum.
func (s *Sketch[C]) GetQuantile(fraction float64) (C, error) {
	if s.IsEmpty() {
		return *new(C), ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return *new(C), err
	}
	return s.sortedView.GetQuantile(fraction)
}

// GetQuantiles returns the approximate quantiles at the given fractions.
func (s *Sketch[C]) GetQuantiles(fractions []float64) ([]C, error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	out := make([]C, len(fractions))
	for i, fraction := range fractions {
		v, err := s.sortedView.GetQuantile(fraction)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GetRank returns the normalized rank of the given item. If inclusive, items
// equal to the argument count toward the rank.
func (s *Sketch[C]) GetRank(item C, inclusive bool) (float64, error) {
	if s.IsEmpty() {
		return 0, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return 0, err
	}
	return s.sortedView.GetRank(item, inclusive), nil
}

// GetRanks returns the normalized ranks of the given items.
func (s *Sketch[C]) GetRanks(items []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	ranks := make([]float64, len(items))
	for i := range items {
		ranks[i] = s.sortedView.GetRank(items[i], inclusive)
	}
	return ranks, nil
}

// GetCDF returns an approximation to the cumulative distribution function of
// the stream evaluated at the given split points, which must be unique and
// monotonically increasing. The returned slice has one more entry than
// splitPoints; its last entry is always 1.
func (s *Sketch[C]) GetCDF(splitPoints []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView.GetCDF(splitPoints, inclusive)
}

// GetPMF returns an approximation to the probability mass function of the
// stream over the m+1 intervals delimited by the given split points. The
// masses sum to 1.
func (s *Sketch[C]) GetPMF(splitPoints []C, inclusive bool) ([]float64, error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView.GetPMF(splitPoints, inclusive)
}

// GetSortedView returns the weighted sorted view of this sketch. The view is
// cached until the next Update, Merge or Reset.
func (s *Sketch[C]) GetSortedView() (*SortedView[C], error) {
	if s.IsEmpty() {
		return nil, ErrEmptySketch
	}
	if err := s.setupSortedView(); err != nil {
		return nil, err
	}
	return s.sortedView, nil
}

// GetIterator returns an iterator over the retained (item, weight) pairs, in
// no particular order.
func (s *Sketch[C]) GetIterator() *Iterator[C] {
	return newIterator[C](s.items, s.levels, s.numLevels)
}

// Update offers one item to the sketch.
func (s *Sketch[C]) Update(item C) {
	if s.IsEmpty() {
		v := item
		s.minItem = &v
		s.maxItem = &v
	} else {
		if s.lessFn(item, *s.minItem) {
			v := item
			s.minItem = &v
		}
		if s.lessFn(*s.maxItem, item) {
			v := item
			s.maxItem = &v
		}
	}
	s.items[s.insertPosition()] = item
	s.sortedView = nil
}

// insertPosition reserves one slot at the low end of level 0 and returns its
// index. When level 0 has no free slot the lowest full level is compacted in
// place first: survivors of a random halving move one level up and the levels
// below shift upward, opening halfAdjPop slots for level 0.
func (s *Sketch[C]) insertPosition() uint32 {
	if s.levels[0] == 0 {
		level := findLevelToCompact(s.k, s.numLevels, s.levels)

		// Grow before compacting the top level. This grows the buffer,
		// shifts the data and the level boundaries, and adds a level.
		if level == s.numLevels-1 {
			s.addEmptyTopLevelToCompletelyFullSketch()
		}

		rawBeg := s.levels[level]
		rawLim := s.levels[level+1]
		// +2 is safe because the new top level was already added.
		popAbove := s.levels[level+2] - rawLim
		rawPop := rawLim - rawBeg
		oddPop := rawPop&1 == 1
		adjBeg := rawBeg
		adjPop := rawPop
		if oddPop {
			adjBeg++
			adjPop--
		}
		halfAdjPop := adjPop / 2

		if level == 0 && !s.isLevelZeroSorted {
			sortRange(s.items, adjBeg, adjPop, s.lessFn)
		}
		if popAbove == 0 {
			randomlyHalveUp(s.items, adjBeg, adjPop, s.bits)
		} else {
			randomlyHalveDown(s.items, adjBeg, adjPop, s.bits)
			mergeOverlap(s.items, adjBeg, halfAdjPop, rawLim, popAbove, adjBeg+halfAdjPop, s.lessFn)
		}
		s.levels[level+1] -= halfAdjPop
		if oddPop {
			// The compacted level keeps one leftover item.
			s.levels[level] = s.levels[level+1] - 1
			if s.levels[level] != rawBeg {
				s.items[s.levels[level]] = s.items[rawBeg]
			}
		} else {
			s.levels[level] = s.levels[level+1]
		}
		if s.levels[level] != rawBeg+halfAdjPop {
			panic("kll: compaction freed an unexpected number of slots")
		}

		// Shift the levels below upward so the freed space ends up at the
		// low end of level 0.
		if level > 0 {
			base := s.levels[0]
			amount := rawBeg - base
			copy(s.items[base+halfAdjPop:base+halfAdjPop+amount], s.items[base:base+amount])
			for lvl := uint8(0); lvl < level; lvl++ {
				s.levels[lvl] += halfAdjPop
			}
		}
	}
	s.n++
	s.isLevelZeroSorted = false
	s.levels[0]--
	return s.levels[0]
}

// addEmptyTopLevelToCompletelyFullSketch grows the item buffer by the
// capacity of the new bottom level, shifts the existing contents to the new
// high end, raises every boundary accordingly and appends the new top
// boundary.
func (s *Sketch[C]) addEmptyTopLevelToCompletelyFullSketch() {
	curTotalCap := s.levels[s.numLevels]
	if s.levels[0] != 0 || uint32(len(s.items)) != curTotalCap {
		panic("kll: sketch must be completely full before adding a level")
	}

	deltaCap := levelCapacity(s.k, s.numLevels+1, 0)
	newTotalCap := curTotalCap + deltaCap

	newItems := s.allocItems(int(newTotalCap))
	copy(newItems[deltaCap:], s.items)
	s.freeItems(s.items)
	s.items = newItems

	newLevels := s.allocLevels(int(s.numLevels) + 2)
	for i := uint8(0); i <= s.numLevels; i++ {
		newLevels[i] = s.levels[i] + deltaCap
	}
	newLevels[s.numLevels+1] = newTotalCap
	s.freeLevels(s.levels)
	s.levels = newLevels
	s.numLevels++
}

// Merge folds the given sketches into this one. All sketches must share k
// and comparator. The peers are read but not modified; merging a sketch into
// itself is not supported.
func (s *Sketch[C]) Merge(others ...*Sketch[C]) error {
	for _, other := range others {
		if other.k != s.k {
			return fmt.Errorf("%w: k %d vs %d", ErrIncompatibleParameters, s.k, other.k)
		}
		if reflect.ValueOf(other.lessFn).Pointer() != reflect.ValueOf(s.lessFn).Pointer() {
			return fmt.Errorf("%w: comparators differ", ErrIncompatibleParameters)
		}
	}

	newN := s.n
	for _, other := range others {
		if other.n == 0 {
			continue
		}
		if newN == 0 {
			vMin, vMax := *other.minItem, *other.maxItem
			s.minItem = &vMin
			s.maxItem = &vMax
		} else {
			if s.lessFn(*other.minItem, *s.minItem) {
				v := *other.minItem
				s.minItem = &v
			}
			if s.lessFn(*s.maxItem, *other.maxItem) {
				v := *other.maxItem
				s.maxItem = &v
			}
		}
		newN += other.n
	}
	if newN == s.n {
		return nil
	}

	// Bottom level: low-resolution residues enter through insertPosition
	// like any other update.
	for _, other := range others {
		for j := other.levels[0]; j < other.levels[1]; j++ {
			s.items[s.insertPosition()] = other.items[j]
		}
	}

	// Higher levels: k-way merge each level from self and all peers into a
	// workspace, then compress the workspace into a valid configuration.
	tmpNumItems := s.GetNumRetained()
	provisionalNumLevels := s.numLevels
	for _, other := range others {
		if other.numLevels >= 2 {
			tmpNumItems += getNumRetainedAboveLevelZero(other.numLevels, other.levels)
			provisionalNumLevels = max(provisionalNumLevels, other.numLevels)
		}
	}
	if tmpNumItems > s.GetNumRetained() {
		workbuf := s.allocItems(int(tmpNumItems))
		ub := ubOnNumLevels(newN)
		worklevels := s.allocLevels(ub + 2)
		outlevels := s.allocLevels(ub + 2)

		worklevels[0] = 0
		copy(workbuf, s.items[s.levels[0]:s.levels[1]])
		worklevels[1] = currentLevelSize(0, s.numLevels, s.levels)
		for lvl := uint8(1); lvl < provisionalNumLevels; lvl++ {
			worklevels[lvl+1] = kWayMergeLevel(workbuf, worklevels[lvl], lvl, s, others)
		}

		result := generalCompress(s.k, provisionalNumLevels, workbuf, worklevels, outlevels, s.isLevelZeroSorted, s.lessFn, s.bits)
		if int(result.finalNumLevels) > ub {
			panic("kll: compressed level count exceeds upper bound")
		}

		// Transfer the result back: data at the high end, free space at the
		// low end.
		newItems := s.allocItems(int(result.finalCapacity))
		freeSpaceAtBottom := result.finalCapacity - result.finalNumItems
		copy(newItems[freeSpaceAtBottom:], workbuf[outlevels[0]:outlevels[0]+result.finalNumItems])
		s.freeItems(s.items)
		s.items = newItems

		newLevels := s.allocLevels(int(result.finalNumLevels) + 1)
		offset := freeSpaceAtBottom - outlevels[0]
		for lvl := range newLevels {
			newLevels[lvl] = outlevels[lvl] + offset
		}
		s.freeLevels(s.levels)
		s.levels = newLevels
		s.numLevels = result.finalNumLevels

		s.freeItems(workbuf)
		s.freeLevels(worklevels)
		s.freeLevels(outlevels)
	}

	s.n = newN
	if sumSampleWeights(s.numLevels, s.levels) != s.n {
		panic("kll: weight sum does not match n after merge")
	}
	s.sortedView = nil
	return nil
}

// Reset returns the sketch to its freshly constructed state, keeping k,
// comparator, allocator and the random bit stream.
func (s *Sketch[C]) Reset() {
	s.freeItems(s.items)
	s.freeLevels(s.levels)
	s.n = 0
	s.numLevels = 1
	s.isLevelZeroSorted = false
	s.minItem = nil
	s.maxItem = nil
	s.items = s.allocItems(int(s.k))
	s.levels = s.allocLevels(2)
	s.levels[0] = uint32(s.k)
	s.levels[1] = uint32(s.k)
	s.sortedView = nil
}

func (s *Sketch[C]) setupSortedView() error {
	if s.sortedView == nil {
		view, err := newSortedView(s)
		if err != nil {
			return err
		}
		s.sortedView = view
	}
	return nil
}

// mergeCursor is a read cursor over one sorted level slice.
type mergeCursor[C comparable] struct {
	buf []C
	pos uint32
	lim uint32
}

type mergeHeap[C comparable] struct {
	cursors []mergeCursor[C]
	lessFn  common.CompareFn[C]
}

func (h *mergeHeap[C]) Len() int { return len(h.cursors) }

func (h *mergeHeap[C]) Less(i, j int) bool {
	return h.lessFn(h.cursors[i].buf[h.cursors[i].pos], h.cursors[j].buf[h.cursors[j].pos])
}

func (h *mergeHeap[C]) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *mergeHeap[C]) Push(x any) {
	h.cursors = append(h.cursors, x.(mergeCursor[C]))
}

func (h *mergeHeap[C]) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}

// kWayMergeLevel merges the sorted slices of the given level from self and
// every peer into dst starting at outIndex, and returns the index one past
// the last element written. Levels >= 1 of every sketch are already sorted.
func kWayMergeLevel[C comparable](dst []C, outIndex uint32, level uint8, self *Sketch[C], others []*Sketch[C]) uint32 {
	h := &mergeHeap[C]{lessFn: self.lessFn}
	addCursor := func(sk *Sketch[C]) {
		if sz := currentLevelSize(level, sk.numLevels, sk.levels); sz > 0 {
			h.cursors = append(h.cursors, mergeCursor[C]{
				buf: sk.items,
				pos: sk.levels[level],
				lim: sk.levels[level] + sz,
			})
		}
	}
	addCursor(self)
	for _, other := range others {
		addCursor(other)
	}
	heap.Init(h)
	for h.Len() > 0 {
		c := &h.cursors[0]
		dst[outIndex] = c.buf[c.pos]
		outIndex++
		c.pos++
		if c.pos == c.lim {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return outIndex
}
