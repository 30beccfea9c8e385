package models

// Chunk is one ciphertext segment of a file's content, including its
// authentication tag. Chunks are owned exclusively by their File; deleting
// the File deletes all of them.
type Chunk struct {
	// FileID references the owning File.
	FileID string
	// Seq is the zero-based position of the chunk. Unique and contiguous
	// within a completed file.
	Seq int64
	// IsLast records the client-declared terminal-chunk flag. Bookkeeping
	// only: the server cannot verify it cryptographically.
	IsLast bool
	// Content is the ciphertext of the chunk.
	Content []byte
}
