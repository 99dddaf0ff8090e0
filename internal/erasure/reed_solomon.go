// Package erasure implements Reed-Solomon shard encode/decode for chunk
// redundancy: internal/store wraps a ShardCoder to rebuild a chunk's
// payload from surviving shards when its primary file is lost or
// corrupted.
package erasure

import (
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

// ShardCoder splits a chunk payload into dataShards+parityShards equal-size
// shards and reconstructs the payload from any dataShards of them.
type ShardCoder struct {
	DataShards   int
	ParityShards int
	ShardSize    int

	codec rs.Encoder
}

// NewShardCoder builds a ShardCoder for the given shard counts.
func NewShardCoder(dataShards, parityShards int) (*ShardCoder, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, fmt.Errorf("dataShards and parityShards must be > 0")
	}
	codec, err := rs.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ShardCoder{
		DataShards:   dataShards,
		ParityShards: parityShards,
		codec:        codec,
	}, nil
}

// shardSizeFor returns the per-shard byte count that evenly covers
// payloadSize across DataShards, recording it in ShardSize as the shard
// size of the most recent encode.
func (c *ShardCoder) shardSizeFor(payloadSize int64) int {
	if payloadSize <= 0 {
		return 0
	}
	shards := int64(c.DataShards)
	size := (payloadSize + shards - 1) / shards
	c.ShardSize = int(size)
	return c.ShardSize
}

// EncodeChunk splits a chunk's payload into its full data+parity shard set.
func (c *ShardCoder) EncodeChunk(payload []byte) ([][]byte, error) {
	if c.DataShards == 0 {
		return nil, fmt.Errorf("shard coder not initialized")
	}
	shardSize := c.shardSizeFor(int64(len(payload)))
	totalShards := c.DataShards + c.ParityShards
	shards := make([][]byte, totalShards)

	for i := 0; i < c.DataShards; i++ {
		start := i * shardSize
		end := start + shardSize
		if start >= len(payload) {
			shards[i] = make([]byte, shardSize)
			continue
		}
		if end > len(payload) {
			end = len(payload)
		}
		shard := make([]byte, shardSize)
		copy(shard, payload[start:end])
		shards[i] = shard
	}
	for i := c.DataShards; i < totalShards; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := c.codec.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// DecodeChunk reconstructs a chunk's payload from its shard set. shards may
// contain nils for missing members, up to ParityShards of them; the result
// is truncated by the caller to the chunk's original length, since shard
// padding can otherwise leave trailing zero bytes.
func (c *ShardCoder) DecodeChunk(shards [][]byte) ([]byte, error) {
	if err := c.ValidateShards(shards); err != nil {
		return nil, err
	}
	if err := c.codec.Reconstruct(shards); err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(shards[0])*c.DataShards)
	for i := 0; i < c.DataShards; i++ {
		payload = append(payload, shards[i]...)
	}
	return payload, nil
}

// ValidateShards checks that shards has the right cardinality, that every
// present shard has the same length, and that enough shards survived to
// reconstruct the payload (at least DataShards of them).
func (c *ShardCoder) ValidateShards(shards [][]byte) error {
	if len(shards) != c.DataShards+c.ParityShards {
		return fmt.Errorf("expected %d shards, got %d", c.DataShards+c.ParityShards, len(shards))
	}
	var shardLen int
	present := 0
	for i, sh := range shards {
		if sh == nil {
			continue
		}
		if shardLen == 0 {
			shardLen = len(sh)
		} else if len(sh) != shardLen {
			return fmt.Errorf("shard %d has inconsistent length", i)
		}
		present++
	}
	if present < c.DataShards {
		return fmt.Errorf("not enough shards present: have %d, need %d", present, c.DataShards)
	}
	return nil
}
