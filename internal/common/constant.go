package common

// SaltSize is the exact length of the random salt used for key derivation.
const SaltSize = 32

// StreamNonceSize is the length of the random base nonce that seeds the
// per-chunk nonce derivation for content encryption.
const StreamNonceSize = 19

// FilenameNonceSize is the full XChaCha20-Poly1305 nonce length used for
// filename encryption, independent of the content stream.
const FilenameNonceSize = 24
