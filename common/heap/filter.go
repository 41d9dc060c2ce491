// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heap

import (
	"cmp"
	"container/heap"
)

// Elem is a value with its weight.
type Elem[T cmp.Ordered, W cmp.Ordered] struct {
	Value  T
	Weight W
}

// better reports whether a ranks before b: heavier first, then smaller value.
func (a Elem[T, W]) better(b Elem[T, W]) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.Value < b.Value
}

// elems is a min-heap whose root is the worst element kept so far.
type elems[T cmp.Ordered, W cmp.Ordered] []Elem[T, W]

func (h elems[T, W]) Len() int           { return len(h) }
func (h elems[T, W]) Less(i, j int) bool { return h[j].better(h[i]) }
func (h elems[T, W]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *elems[T, W]) Push(x any) {
	*h = append(*h, x.(Elem[T, W]))
}

func (h *elems[T, W]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopKFilter keeps the k elements with maximum weights. Elements with equal
// weights are ordered by value, so the result does not depend on push order.
type TopKFilter[T cmp.Ordered, W cmp.Ordered] struct {
	elems elems[T, W]
	k     int
}

// NewTopKFilter creates a top k filter.
func NewTopKFilter[T cmp.Ordered, W cmp.Ordered](k int) *TopKFilter[T, W] {
	return &TopKFilter[T, W]{k: k}
}

func (filter *TopKFilter[T, W]) Len() int {
	return filter.elems.Len()
}

// Push pushes an element. The complexity is O(log k).
func (filter *TopKFilter[T, W]) Push(value T, weight W) {
	if filter.k <= 0 {
		return
	}
	heap.Push(&filter.elems, Elem[T, W]{Value: value, Weight: weight})
	if filter.elems.Len() > filter.k {
		heap.Pop(&filter.elems)
	}
}

// PopAll pops all elements, best first.
func (filter *TopKFilter[T, W]) PopAll() ([]T, []W) {
	values := make([]T, filter.elems.Len())
	weights := make([]W, filter.elems.Len())
	for i := len(values) - 1; i >= 0; i-- {
		elem := heap.Pop(&filter.elems).(Elem[T, W])
		values[i], weights[i] = elem.Value, elem.Weight
	}
	return values, weights
}
