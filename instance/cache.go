package instance

import "github.com/c360/coupling/message"

// fInitCache holds the messages pre-received on F_INIT ports at the
// start of a reuse iteration, keyed by the string form of the port
// reference ("port" or "port[slot]"). Entries are removed as the user
// receives them; a clean iteration ends with an empty cache.
type fInitCache struct {
	entries map[string]message.Message
	order   []string
}

func newFInitCache() *fInitCache {
	return &fInitCache{entries: make(map[string]message.Message)}
}

// Clear removes all entries.
func (c *fInitCache) Clear() {
	c.entries = make(map[string]message.Message)
	c.order = nil
}

// Store adds an entry; an existing entry under the same key is kept.
func (c *fInitCache) Store(key string, msg message.Message) {
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = msg
	c.order = append(c.order, key)
}

// Get returns the entry under key, if any.
func (c *fInitCache) Get(key string) (message.Message, bool) {
	msg, ok := c.entries[key]
	return msg, ok
}

// Erase removes the entry under key.
func (c *fInitCache) Erase(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached messages.
func (c *fInitCache) Len() int {
	return len(c.entries)
}

// Each calls fn for every entry in insertion order.
func (c *fInitCache) Each(fn func(key string, msg message.Message)) {
	for _, k := range c.order {
		fn(k, c.entries[k])
	}
}
