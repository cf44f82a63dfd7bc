package osmodel

import (
	"net"
	"strings"
	"sync"
)

// reverseDNSCache resolves remote addresses to short hostnames and caches
// the result process-wide, guarded by an internal mutex per spec.md's
// shared-resource model. A miss falls back to the dotted address itself.
type reverseDNSCache struct {
	mtx     sync.Mutex
	cache   map[string]string
	lookup  func(string) ([]string, error)
}

func newReverseDNSCache() *reverseDNSCache {
	return &reverseDNSCache{
		cache:  make(map[string]string),
		lookup: net.LookupAddr,
	}
}

// resolve returns a cached short hostname (first label before the first
// dot) for addr, performing and caching a reverse lookup on a miss.
func (c *reverseDNSCache) resolve(addr string) string {
	c.mtx.Lock()
	if host, ok := c.cache[addr]; ok {
		c.mtx.Unlock()
		return host
	}
	c.mtx.Unlock()

	host := addr
	if names, err := c.lookup(addr); err == nil && len(names) > 0 {
		name := strings.TrimSuffix(names[0], ".")
		if i := strings.IndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
		host = name
	}

	c.mtx.Lock()
	c.cache[addr] = host
	c.mtx.Unlock()
	return host
}
