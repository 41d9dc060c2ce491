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

package parallel

import (
	"fmt"
	"sync"

	"github.com/zaillisy/goryl/base/log"
	"go.uber.org/zap"
)

// Pool runs side-channel jobs. A job failing or panicking never reaches the
// goroutine that submitted it.
type Pool interface {
	Run(runner func())
	Wait()
}

// SequentialPool runs jobs inline on the calling goroutine.
type SequentialPool struct{}

func NewSequentialPool() *SequentialPool {
	return &SequentialPool{}
}

func (p *SequentialPool) Run(runner func()) {
	guard(runner)
}

func (p *SequentialPool) Wait() {}

// BoundedPool runs jobs on background goroutines, at most size at a time.
// Run never blocks: jobs submitted while all workers are busy are queued.
type BoundedPool struct {
	wg   sync.WaitGroup
	size int

	mu      sync.Mutex
	running int
	queue   []func()
}

func NewBoundedPool(size int) *BoundedPool {
	if size <= 0 {
		size = 1
	}
	return &BoundedPool{size: size}
}

func (p *BoundedPool) Run(runner func()) {
	p.wg.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.size {
		p.queue = append(p.queue, runner)
		return
	}
	p.running++
	go p.work(runner)
}

// work runs runner, then drains the queue until it is empty.
func (p *BoundedPool) work(runner func()) {
	for {
		guard(runner)
		p.wg.Done()
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running--
			p.mu.Unlock()
			return
		}
		runner = p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()
	}
}

// Pending returns the number of queued jobs not yet started.
func (p *BoundedPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Wait blocks until every submitted job returned.
func (p *BoundedPool) Wait() {
	p.wg.Wait()
}

func guard(runner func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("side-channel job panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	runner()
}
