// SPDX-License-Identifier: GPL-3.0-or-later
package discovery

import (
	"sort"
	"strings"
	"sync"

	"github.com/CrawX/go-mailsync/domain"
)

// Collector gathers the unique addresses of the messages it observes.
// Addresses are compared lower cased.
type Collector struct {
	mu        sync.Mutex
	addresses map[string]struct{}
	processed int
}

func NewCollector() *Collector {
	return &Collector{addresses: map[string]struct{}{}}
}

func (c *Collector) Observe(m *domain.MailMessage) {
	if m == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.processed++
	for _, a := range m.Addresses() {
		address := strings.ToLower(strings.TrimSpace(a.Address))
		if address == "" {
			continue
		}
		c.addresses[address] = struct{}{}
	}
}

// Addresses returns the collected addresses sorted.
func (c *Collector) Addresses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.addresses))
	for a := range c.addresses {
		result = append(result, a)
	}
	sort.Strings(result)

	return result
}

func (c *Collector) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.processed
}
