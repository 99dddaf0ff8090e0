package models

import "errors"

const (
	// MinChunkSize and MaxChunkSize bound FileMeta.ChunkSize per the data
	// model invariant: chunk_size must fall within [4 KiB, 16 MiB].
	MinChunkSize ByteSize = 4 * 1024
	MaxChunkSize ByteSize = 16 * 1024 * 1024
)

// FileMeta describes the file being transferred. Immutable after
// construction; it travels with the file_init envelope.
type FileMeta struct {
	Name      string   `json:"name"`
	Size      ByteSize `json:"size"`
	ChunkSize ByteSize `json:"chunkSize"`
	Checksum  Checksum `json:"checksum"`
}

// Validate enforces the data-model invariants for FileMeta.
func (f FileMeta) Validate() error {
	if f.Name == "" {
		return errors.New("file name must not be empty")
	}
	if f.Size < 0 {
		return errors.New("file size must be non-negative")
	}
	if f.ChunkSize < MinChunkSize || f.ChunkSize > MaxChunkSize {
		return errors.New("chunk size must be within [4KiB, 16MiB]")
	}
	if err := f.Checksum.Validate(); err != nil {
		return err
	}
	return nil
}

// TotalChunks returns the number of chunks a file of this size splits into
// under this ChunkSize, including a short final chunk. A zero-byte file
// has zero chunks.
func (f FileMeta) TotalChunks() int {
	if f.Size <= 0 || f.ChunkSize <= 0 {
		return 0
	}
	n := int64(f.Size) / int64(f.ChunkSize)
	if int64(f.Size)%int64(f.ChunkSize) != 0 {
		n++
	}
	return int(n)
}

// ChunkOffsets returns the ordered list of byte offsets chunks begin at for
// a file of this size and chunk size.
func (f FileMeta) ChunkOffsets() []int64 {
	n := f.TotalChunks()
	offsets := make([]int64, n)
	for i := 0; i < n; i++ {
		offsets[i] = int64(i) * int64(f.ChunkSize)
	}
	return offsets
}

// ChunkLength returns the number of bytes the chunk starting at offset
// should contain: ChunkSize for all but the final chunk, which may be
// short.
func (f FileMeta) ChunkLength(offset int64) int64 {
	remaining := int64(f.Size) - offset
	if remaining <= 0 {
		return 0
	}
	if remaining > int64(f.ChunkSize) {
		return int64(f.ChunkSize)
	}
	return remaining
}
