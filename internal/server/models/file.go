// Package models defines server-side data models persisted in the database.
// The server stores ciphertext and key-derivation material only; none of
// these fields ever contain plaintext.
package models

import "time"

// File is the metadata record of one shareable object.
type File struct {
	// ID is the opaque identifier allocated at upload start. Immutable.
	ID string
	// EncryptedFilename is the filename ciphertext, sealed client-side.
	EncryptedFilename []byte
	// FilenameNonce is the nonce used for filename encryption. Independent
	// of the content stream nonce.
	FilenameNonce []byte
	// Salt is the 32-byte random value the client combines with its
	// passphrase to derive the content key. Never reused across files.
	Salt []byte
	// StreamNonce is the 19-byte random base nonce seeding the per-chunk
	// nonce derivation of the content stream.
	StreamNonce []byte
	// ChunkSize is the plaintext block size this file was encrypted with.
	// Downloads split the ciphertext stream at ChunkSize plus the AEAD
	// overhead, so it must survive server reconfiguration.
	ChunkSize int64
	// UploadComplete is false until the upload session finalizes. A record
	// with UploadComplete=false is never exposed to downloads.
	UploadComplete bool
	// CreatedAt is the creation timestamp. Immutable.
	CreatedAt time.Time
}
