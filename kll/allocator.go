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

import "unsafe"

// Allocator observes the memory backing a sketch's buffers. The sketch
// reports the size in bytes of every buffer it creates or drops, which lets
// embedding systems charge the sketch against a memory budget. A sketch owns
// its buffers exclusively; calls are never concurrent.
type Allocator interface {
	Allocate(bytes uint64)
	Release(bytes uint64)
}

type defaultAllocator struct{}

func (defaultAllocator) Allocate(uint64) {}
func (defaultAllocator) Release(uint64)  {}

// DefaultAllocator returns an allocator that performs no accounting.
func DefaultAllocator() Allocator { return defaultAllocator{} }

// CountingAllocator tracks the net number of bytes currently backing the
// sketches that use it.
type CountingAllocator struct {
	bytes uint64
}

func (a *CountingAllocator) Allocate(bytes uint64) { a.bytes += bytes }
func (a *CountingAllocator) Release(bytes uint64)  { a.bytes -= bytes }

// Bytes returns the net bytes currently allocated.
func (a *CountingAllocator) Bytes() uint64 { return a.bytes }

func (s *Sketch[C]) allocItems(n int) []C {
	s.allocator.Allocate(uint64(n) * uint64(unsafe.Sizeof(*new(C))))
	return make([]C, n)
}

func (s *Sketch[C]) freeItems(buf []C) {
	s.allocator.Release(uint64(len(buf)) * uint64(unsafe.Sizeof(*new(C))))
}

func (s *Sketch[C]) allocLevels(n int) []uint32 {
	s.allocator.Allocate(uint64(n) * 4)
	return make([]uint32, n)
}

func (s *Sketch[C]) freeLevels(levels []uint32) {
	s.allocator.Release(uint64(len(levels)) * 4)
}
