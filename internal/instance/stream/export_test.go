package stream

// LockCount reports how many per-instance locks the client holds.
func (c *Client) LockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
