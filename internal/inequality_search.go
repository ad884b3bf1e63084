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

package internal

import (
	"github.com/openmeasure/sketches-go/common"
)

type Inequality int

const (
	InequalityLT Inequality = iota
	InequalityLE
	InequalityGE
	InequalityGT
)

// FindWithInequality searches the sorted slice arr[low..high] (inclusive
// bounds) for the index matching v under the given criterion:
//
//	LT: rightmost index i with arr[i] <  v
//	LE: rightmost index i with arr[i] <= v
//	GE: leftmost  index i with arr[i] >= v
//	GT: leftmost  index i with arr[i] >  v
//
// Returns -1 when no element qualifies.
func FindWithInequality[C comparable](arr []C, low, high int, v C, crit Inequality, lessFn common.CompareFn[C]) int {
	if len(arr) == 0 || low > high {
		return -1
	}
	switch crit {
	case InequalityLT:
		return rightmost(arr, low, high, func(x C) bool { return lessFn(x, v) })
	case InequalityLE:
		return rightmost(arr, low, high, func(x C) bool { return !lessFn(v, x) })
	case InequalityGE:
		return leftmost(arr, low, high, func(x C) bool { return !lessFn(x, v) })
	case InequalityGT:
		return leftmost(arr, low, high, func(x C) bool { return lessFn(v, x) })
	default:
		panic("invalid inequality")
	}
}

// rightmost returns the largest index in [low, high] whose element satisfies
// pred, or -1. pred must hold on a (possibly empty) prefix of the range.
func rightmost[C comparable](arr []C, low, high int, pred func(C) bool) int {
	if !pred(arr[low]) {
		return -1
	}
	lo, hi := low, high
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if pred(arr[mid]) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// leftmost returns the smallest index in [low, high] whose element satisfies
// pred, or -1. pred must hold on a (possibly empty) suffix of the range.
func leftmost[C comparable](arr []C, low, high int, pred func(C) bool) int {
	if !pred(arr[high]) {
		return -1
	}
	lo, hi := low, high
	for lo < hi {
		mid := lo + (hi-lo)/2
		if pred(arr[mid]) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
