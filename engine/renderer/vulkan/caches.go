package vulkan

import (
	"sync"
)

// cache is the acquire-by-key store behind the renderpass, framebuffer,
// sampler and pipeline caches. Creation runs under the cache lock so
// each key is realized exactly once; entries are read-mostly after
// population.
type cache[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

func newCache[V any]() *cache[V] {
	return &cache[V]{entries: make(map[string]V)}
}

func (c *cache[V]) acquire(key string, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.entries[key] = v
	return v, nil
}

func (c *cache[V]) drain(destroy func(V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		destroy(v)
		delete(c.entries, k)
	}
}
