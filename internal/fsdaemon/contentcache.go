package fsdaemon

import "sync"

// contentCache holds the last-synced text content per URL, the "content
// cache" spec.md §4.8 refers to from both directions: the outbound debounce
// path diffs a freshly read file against this cache's entry to produce
// patches, and the inbound subscription path updates it after every write
// so the next local edit diffs against what the server actually has, not
// stale data.
type contentCache struct {
	mu      sync.Mutex
	content map[string]string
}

func newContentCache() *contentCache {
	return &contentCache{content: map[string]string{}}
}

// Get returns the cached content for url and whether an entry exists.
func (c *contentCache) Get(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.content[url]
	return v, ok
}

// Set records content as url's last-known-synced state.
func (c *contentCache) Set(url, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content[url] = content
}

// Delete drops url's cached content, e.g. once it's no longer synced.
func (c *contentCache) Delete(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.content, url)
}
