package models

import "time"

// ChunkState is the per-chunk bookkeeping record a Transfer's state
// machine owns for the life of a transfer.
type ChunkState struct {
	ID              ChunkID    `json:"id"`
	Received        bool       `json:"received"`
	ReceivedAt      *time.Time `json:"receivedAt,omitempty"`
	AvailableFrom   []NodeID   `json:"availableFrom"`
	CurrentSource   *NodeID    `json:"currentSource,omitempty"`
	RetryCount      int        `json:"retryCount"`
	Priority        int        `json:"priority"`
	LastRequestedAt *time.Time `json:"lastRequestedAt,omitempty"`
}

// HasSource reports whether node is already listed as a source for this
// chunk.
func (c *ChunkState) HasSource(node NodeID) bool {
	for _, n := range c.AvailableFrom {
		if n == node {
			return true
		}
	}
	return false
}

// AddSource records node as an available source for this chunk, if not
// already present. Only the owning Machine (internal/transfer) calls
// this, but it lives on the value type since AvailableFrom is otherwise
// unexported-mutation-only state.
func (c *ChunkState) AddSource(node NodeID) {
	if !c.HasSource(node) {
		c.AvailableFrom = append(c.AvailableFrom, node)
	}
}

// RemoveSource drops node from the available-source list and clears it as
// the current source if it was assigned that role.
func (c *ChunkState) RemoveSource(node NodeID) {
	out := c.AvailableFrom[:0]
	for _, n := range c.AvailableFrom {
		if n != node {
			out = append(out, n)
		}
	}
	c.AvailableFrom = out
	if c.CurrentSource != nil && *c.CurrentSource == node {
		c.CurrentSource = nil
	}
}

// MarkReceived flips the chunk to received, idempotently. Returns false if
// the chunk was already received (caller should treat the second call as a
// no-op per the idempotence law).
func (c *ChunkState) MarkReceived(at time.Time, source *NodeID) bool {
	if c.Received {
		return false
	}
	c.Received = true
	c.ReceivedAt = &at
	c.CurrentSource = source
	return true
}
