package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESGCMSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	aead, err := NewAESGCM(key)
	require.NoError(t, err)

	nonce := ChunkNonce(12345, 2, aead.NonceSize())
	sealed := aead.Seal(nonce, []byte("hello chunk"))
	plain, err := aead.Open(nonce, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("hello chunk"), plain)
}

func TestChaCha20Poly1305SealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	aead, err := NewChaCha20Poly1305(key)
	require.NoError(t, err)

	nonce := ChunkNonce(999, 0, aead.NonceSize())
	sealed := aead.Seal(nonce, []byte("payload"))
	plain, err := aead.Open(nonce, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), plain)
}

func TestAEADOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	aead, err := NewAESGCM(key)
	require.NoError(t, err)

	nonce := ChunkNonce(1, 1, aead.NonceSize())
	sealed := aead.Seal(nonce, []byte("data"))
	sealed[0] ^= 0xFF
	_, err = aead.Open(nonce, sealed)
	require.Error(t, err)
}

func TestChunkNonceIsDeterministic(t *testing.T) {
	n1 := ChunkNonce(42, 3, 12)
	n2 := ChunkNonce(42, 3, 12)
	n3 := ChunkNonce(42, 4, 12)
	require.Equal(t, n1, n2)
	require.NotEqual(t, n1, n3)
}

func TestZstdCompressDecompressRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor(0)
	require.NoError(t, err)

	original := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestNoneCompressorIsIdentity(t *testing.T) {
	c := NoneCompressor()
	data := []byte("raw bytes")
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	require.Equal(t, data, compressed)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, decompressed)
}
