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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKFilter(t *testing.T) {
	filter := NewTopKFilter[string, float64](3)
	filter.Push("a", 1)
	filter.Push("b", 5)
	filter.Push("c", 3)
	filter.Push("d", 4)
	filter.Push("e", 2)
	values, weights := filter.PopAll()
	assert.Equal(t, []string{"b", "d", "c"}, values)
	assert.Equal(t, []float64{5, 4, 3}, weights)
	assert.Zero(t, filter.Len())
}

func TestTopKFilterTieBreak(t *testing.T) {
	for _, order := range [][]string{{"x", "y", "z", "w"}, {"w", "z", "y", "x"}} {
		filter := NewTopKFilter[string, int64](3)
		for _, value := range order {
			filter.Push(value, 7)
		}
		values, _ := filter.PopAll()
		assert.Equal(t, []string{"w", "x", "y"}, values)
	}
}

func TestTopKFilterEmpty(t *testing.T) {
	filter := NewTopKFilter[string, float64](0)
	filter.Push("a", 1)
	values, weights := filter.PopAll()
	assert.Empty(t, values)
	assert.Empty(t, weights)
}
