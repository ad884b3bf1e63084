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

// Package common holds the vocabulary shared by the sketch families: the
// comparator contract and ready-made comparators for the usual item types.
package common

import "golang.org/x/exp/constraints"

// CompareFn reports whether a sorts strictly before b. It must define a
// strict weak order over the item type.
type CompareFn[C comparable] func(a, b C) bool

// OrderedComparator returns a CompareFn for any ordered item type, in
// natural or reverse order.
// The two orders are distinct function literals so that sketch merge
// compatibility checks, which compare comparator code pointers, can tell
// natural from reverse order apart.
func OrderedComparator[C constraints.Ordered](reverseOrder bool) CompareFn[C] {
	if reverseOrder {
		return func(a, b C) bool { return a > b }
	}
	return func(a, b C) bool { return a < b }
}

var (
	ItemSketchLongComparator = func(reverseOrder bool) CompareFn[int64] {
		return OrderedComparator[int64](reverseOrder)
	}

	ItemSketchDoubleComparator = func(reverseOrder bool) CompareFn[float64] {
		return OrderedComparator[float64](reverseOrder)
	}

	ItemSketchStringComparator = func(reverseOrder bool) CompareFn[string] {
		return OrderedComparator[string](reverseOrder)
	}
)
