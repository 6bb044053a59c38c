//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package process

import (
	"sync"

	"github.com/hedronos/roottask/domain"
)

// windowCache is the per-process cache of mapped windows spec.md §4.B's
// CreateGetMapping consults: windows are kept for the life of the process
// and reused by any later syscall whose requested range a cached window
// fully covers; a partially overlapping request is not served from the
// cache (spec.md §3, "Mapped Window").
type windowCache struct {
	mu      sync.Mutex
	windows []domain.MappedWindowIface
}

func newWindowCache() *windowCache {
	return &windowCache{}
}

func (c *windowCache) Find(addr uint64, ln uint64) (domain.MappedWindowIface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if addr >= w.GuestAddr() && addr+ln <= w.GuestAddr()+w.Len() {
			return w, true
		}
	}
	return nil, false
}

func (c *windowCache) Insert(w domain.MappedWindowIface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append(c.windows, w)
}

var _ domain.WindowCacheIface = (*windowCache)(nil)
