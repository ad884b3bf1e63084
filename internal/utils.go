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

import "math/bits"

// FloorPowerOf2 returns the largest power of two that is <= n, or 1 for n <= 1.
func FloorPowerOf2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return int64(1) << (63 - bits.LeadingZeros64(uint64(n)))
}

// FloorLog2 returns floor(log2(n)) for n >= 1.
func FloorLog2(n uint64) int {
	if n == 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(n)
}
