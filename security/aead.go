// Package security implements the AEAD and compression codecs ROS
// segment chunks are sealed with (spec.md §4.5, §6.4): "Package security
// implements AES-GCM encryption" — generalized from bundoc's single
// fixed-algorithm Encryptor into an AEAD interface so a table's
// catalog.EncryptionPolicy can select AES-GCM or ChaCha20-Poly1305 per
// spec.md §6.4's domain-stack wiring. A sealed block is [ciphertext][tag]:
// the nonce is derived per chunk (ChunkNonce) rather than stored.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kartikbazzad/dbx/errs"
)

// KeySize is the required symmetric key length for every AEAD kind this
// package supports (AES-256 and ChaCha20-Poly1305 both use 32-byte keys).
const KeySize = 32

// AEAD seals and opens opaque byte blocks, generalizing bundoc's
// Encryptor/Decryptor pair behind a common interface.
type AEAD interface {
	// Seal encrypts plaintext with the given nonce, producing
	// [ciphertext][tag]. The caller supplies the nonce (spec.md §6.4:
	// "nonce derived from (segment_id, chunk_index)") rather than a
	// random one, so sealing is deterministic per chunk.
	Seal(nonce, plaintext []byte) []byte
	// Open reverses Seal.
	Open(nonce, sealed []byte) ([]byte, error)
	// NonceSize returns the AEAD's required nonce length.
	NonceSize() int
}

type aeadWrapper struct {
	aead cipher.AEAD
}

func (a *aeadWrapper) Seal(nonce, plaintext []byte) []byte {
	return a.aead.Seal(nil, nonce, plaintext, nil)
}

func (a *aeadWrapper) Open(nonce, sealed []byte) ([]byte, error) {
	plaintext, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: aead open: %v", errs.ErrCorruption, err)
	}
	return plaintext, nil
}

func (a *aeadWrapper) NonceSize() int {
	return a.aead.NonceSize()
}

// NewAESGCM builds an AES-256-GCM AEAD, the same construction as
// bundoc's security.Encryptor. Used for both catalog.EncryptionAESGCMSIV
// (approximated — see DESIGN.md) and any table that asks for plain GCM.
func NewAESGCM(key []byte) (AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aes-gcm key must be %d bytes, got %d", errs.ErrIO, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", errs.ErrIO, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm mode: %v", errs.ErrIO, err)
	}
	return &aeadWrapper{aead: aead}, nil
}

// NewChaCha20Poly1305 builds a ChaCha20-Poly1305 AEAD, wiring in
// golang.org/x/crypto for tables whose catalog.EncryptionPolicy selects
// it (spec.md §6.4 domain stack).
func NewChaCha20Poly1305(key []byte) (AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: chacha20poly1305 key must be %d bytes, got %d", errs.ErrIO, KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: chacha20poly1305: %v", errs.ErrIO, err)
	}
	return &aeadWrapper{aead: aead}, nil
}

// GenerateKey returns a random KeySize key, generalizing bundoc's
// security.GenerateKey (which was AES-256-only since it had only one
// AEAD kind).
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", errs.ErrIO, err)
	}
	return key, nil
}

// ChunkNonce derives a deterministic per-chunk nonce from (segment_id,
// chunk_index), truncated or zero-extended to size (spec.md §4.5:
// "per-chunk nonce derived from (segment_id, chunk_index)"; §6.4:
// "nonce = xxhash64(segmentID) || chunkIndex(4 bytes) truncated/extended
// to the AEAD's nonce size"). Deterministic nonces are safe here only
// because (segment_id, chunk_index) never repeats: segments are
// immutable and never rewritten (spec.md §4.5 "never mutated").
func ChunkNonce(segmentIDHash uint64, chunkIndex uint32, size int) []byte {
	raw := make([]byte, 8+4)
	binary.BigEndian.PutUint64(raw[0:8], segmentIDHash)
	binary.BigEndian.PutUint32(raw[8:12], chunkIndex)

	nonce := make([]byte, size)
	if size <= len(raw) {
		copy(nonce, raw[:size])
		return nonce
	}
	copy(nonce, raw)
	return nonce
}
