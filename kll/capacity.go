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

// The levels follow a geometric capacity schedule: counting down from the
// top, each level holds ceil(k * (2/3)^depth) items, floored at _MIN_K.
// The arithmetic below evaluates that expression exactly in integers.

var powersOfThree = []uint64{1, 3, 9, 27, 81, 243, 729, 2187, 6561, 19683, 59049, 177147, 531441,
	1594323, 4782969, 14348907, 43046721, 129140163, 387420489, 1162261467,
	3486784401, 10460353203, 31381059609, 94143178827, 282429536481,
	847288609443, 2541865828329, 7625597484987, 22876792454961, 68630377364883,
	205891132094649}

// levelCapacity returns the capacity of the level at the given height when
// the sketch has numLevels levels. Height 0 is the bottom level, which has
// the smallest capacity; the top level has capacity k.
func levelCapacity(k uint16, numLevels uint8, height uint8) uint32 {
	depth := numLevels - height - 1
	return max(uint32(_MIN_K), intCapAux(k, depth))
}

// computeTotalCapacity sums the level capacities across all levels.
func computeTotalCapacity(k uint16, numLevels uint8) uint32 {
	var total uint32
	for height := uint8(0); height < numLevels; height++ {
		total += levelCapacity(k, numLevels, height)
	}
	return total
}

func intCapAux(k uint16, depth uint8) uint32 {
	if depth <= 30 {
		return intCapAuxAux(k, depth)
	}
	half := depth / 2
	rest := depth - half
	tmp := intCapAuxAux(k, half)
	return intCapAuxAux(uint16(tmp), rest)
}

func intCapAuxAux(k uint16, depth uint8) uint32 {
	// Integer ceiling of k * 2^depth / 3^depth.
	pow := powersOfThree[depth]
	result := ((uint64(k) << depth) + pow - 1) / pow
	if result <= uint64(k) {
		return uint32(result)
	}
	return uint32(k)
}
