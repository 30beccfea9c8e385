package cryptox

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/skystar-p/hako/internal/common"
)

// Overhead is the per-chunk ciphertext expansion added by the AEAD tag.
const Overhead = chacha20poly1305.Overhead

// lastChunkFlag is the value of the final nonce byte for the terminal chunk.
const lastChunkFlag byte = 1

// ErrStreamClosed is returned when a chunk is pushed or pulled after the
// last-flagged chunk has been processed.
var ErrStreamClosed = errors.New("stream already finished")

// ErrCounterOverflow is returned when a stream exceeds the 32-bit chunk
// counter. At the default chunk size this is beyond any practical file.
var ErrCounterOverflow = errors.New("chunk counter overflow")

// streamState holds the shared nonce machinery of the encrypting and
// decrypting halves of the protocol.
//
// The effective 24-byte XChaCha20-Poly1305 nonce of chunk i is
//
//	baseNonce(19) || bigEndian32(i) || flag(1)
//
// where flag is 1 only on the terminal chunk. The counter starts at zero and
// increases by one per chunk, so every ciphertext is bound to its position
// and to whether it terminates the stream. Reordering, truncation or
// substitution of chunks therefore fails authentication on decrypt.
type streamState struct {
	aead    cipher.AEAD
	nonce   [chacha20poly1305.NonceSizeX]byte
	counter uint32
	done    bool
}

func newStreamState(key, baseNonce []byte) (*streamState, error) {
	if len(baseNonce) != common.StreamNonceSize {
		return nil, fmt.Errorf("%w: stream nonce must be %d bytes, got %d",
			common.ErrorValidation, common.StreamNonceSize, len(baseNonce))
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	s := &streamState{aead: aead}
	copy(s.nonce[:common.StreamNonceSize], baseNonce)
	return s, nil
}

// chunkNonce materializes the nonce for the current counter value.
func (s *streamState) chunkNonce(last bool) []byte {
	binary.BigEndian.PutUint32(s.nonce[common.StreamNonceSize:], s.counter)
	if last {
		s.nonce[chacha20poly1305.NonceSizeX-1] = lastChunkFlag
	} else {
		s.nonce[chacha20poly1305.NonceSizeX-1] = 0
	}
	return s.nonce[:]
}

func (s *streamState) advance(last bool) error {
	if last {
		s.done = true
		return nil
	}
	if s.counter == math.MaxUint32 {
		return ErrCounterOverflow
	}
	s.counter++
	return nil
}

// StreamEncryptor turns a plaintext byte stream into an ordered sequence of
// independently decryptable, tamper-evident ciphertext chunks.
//
// Exactly one chunk per stream must be encrypted with last=true and it must
// be the final one; an empty file is encrypted as a single empty last chunk
// so termination stays authenticated.
type StreamEncryptor struct {
	state *streamState
}

func NewStreamEncryptor(key, baseNonce []byte) (*StreamEncryptor, error) {
	state, err := newStreamState(key, baseNonce)
	if err != nil {
		return nil, err
	}
	return &StreamEncryptor{state: state}, nil
}

// Encrypt seals the next chunk. After a last=true chunk the stream is closed
// and further calls fail with ErrStreamClosed.
func (e *StreamEncryptor) Encrypt(plaintext []byte, last bool) ([]byte, error) {
	s := e.state
	if s.done {
		return nil, ErrStreamClosed
	}
	ciphertext := s.aead.Seal(nil, s.chunkNonce(last), plaintext, nil)
	if err := s.advance(last); err != nil {
		return nil, err
	}
	return ciphertext, nil
}

// StreamDecryptor inverts StreamEncryptor. Chunks must be supplied in the
// exact order they were produced; any authentication failure, a chunk
// presented at the wrong position, or a mismatched last flag yields
// common.ErrorIntegrity.
type StreamDecryptor struct {
	state *streamState
}

func NewStreamDecryptor(key, baseNonce []byte) (*StreamDecryptor, error) {
	state, err := newStreamState(key, baseNonce)
	if err != nil {
		return nil, err
	}
	return &StreamDecryptor{state: state}, nil
}

// Decrypt opens the next chunk. The caller states whether this chunk is
// expected to be the terminal one; if the encryptor flagged it differently
// the tag check fails, which is how truncated or extended streams are caught.
func (d *StreamDecryptor) Decrypt(ciphertext []byte, last bool) ([]byte, error) {
	s := d.state
	if s.done {
		return nil, ErrStreamClosed
	}
	plaintext, err := s.aead.Open(nil, s.chunkNonce(last), ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %v", common.ErrorIntegrity, s.counter, err)
	}
	if err := s.advance(last); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Finished reports whether the last-flagged chunk has been decrypted. A
// download that drains the transport without Finished() returning true was
// truncated before the authenticated terminator.
func (d *StreamDecryptor) Finished() bool {
	return d.state.done
}
