package decodewrap

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStream adapts a bytes.Reader to the Stream interface for tests.
type memStream struct {
	*bytes.Reader
}

func (memStream) Close() error { return nil }

func newMemStream(data []byte) Stream {
	return memStream{bytes.NewReader(data)}
}

func TestLimitClampsReadsAndEOF(t *testing.T) {
	s := NewLimit(newMemStream([]byte("hello world")), 5)

	buf := make([]byte, 10)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLimitSeekRejectsPastLength(t *testing.T) {
	s := NewLimit(newMemStream([]byte("hello world")), 5)

	pos, err := s.Seek(2, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	_, err = s.Seek(6, io.SeekStart)
	assert.Error(t, err)
}

// ctrEncrypt is a test helper producing the ciphertext a plaintext would
// decrypt to under AES-CTR with the given key/iv, so tests can build
// fixtures without depending on Aes itself.
func ctrEncrypt(t *testing.T, key, iv, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, plaintext)
	return out
}

func TestAesDecryptsFromStart(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	iv := bytes.Repeat([]byte{0x01}, 16)
	plaintext := []byte("the quick brown fox jumps over the lazy dog!!!!")
	ciphertext := ctrEncrypt(t, key, iv, plaintext)

	s, err := NewAes(newMemStream(ciphertext), key, iv)
	require.NoError(t, err)

	out := make([]byte, len(plaintext))
	n, err := io.ReadFull(s, out)
	require.NoError(t, err)
	assert.Equal(t, len(plaintext), n)
	assert.Equal(t, plaintext, out)
}

func TestAesSeekMidBlockDecryptsCorrectly(t *testing.T) {
	key := bytes.Repeat([]byte{0x7a}, 32)
	iv := bytes.Repeat([]byte{0x00}, 16)
	plaintext := bytes.Repeat([]byte("0123456789abcdef"), 4) // 64 bytes, 4 AES blocks
	ciphertext := ctrEncrypt(t, key, iv, plaintext)

	s, err := NewAes(newMemStream(ciphertext), key, iv)
	require.NoError(t, err)

	// Seek to an offset that isn't block-aligned to exercise the
	// within-block keystream discard path.
	const offset = 20
	_, err = s.Seek(offset, io.SeekStart)
	require.NoError(t, err)

	out := make([]byte, 10)
	n, err := s.Read(out)
	require.NoError(t, err)
	assert.Equal(t, plaintext[offset:offset+int64(n)], out[:n])
}

func TestAesRejectsBadIVLength(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	_, err := NewAes(newMemStream(nil), key, []byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDetectRarObfuscation(t *testing.T) {
	assert.True(t, DetectRarObfuscation([]byte{0xAA, 0x04, 0x1D, 0x6D, 0x00}))
	assert.False(t, DetectRarObfuscation([]byte{0x00, 0x00, 0x00, 0x00}))
	assert.False(t, DetectRarObfuscation([]byte{0xAA, 0x04}))
}

func TestRarXorRoundTripsFromMagicOffset(t *testing.T) {
	plain := []byte("AAAAheader-bytes-before-magicBBBBCCCCDDDD")
	magicOffset := int64(30)

	obfuscated := append([]byte(nil), plain...)
	for i := int(magicOffset); i < len(obfuscated); i++ {
		obfuscated[i] ^= rarObfuscationKey[(int64(i)-magicOffset)%4]
	}

	s := NewRarXor(newMemStream(obfuscated), magicOffset)
	out := make([]byte, len(plain))
	n, err := io.ReadFull(s, out)
	require.NoError(t, err)
	assert.Equal(t, len(plain), n)
	assert.Equal(t, plain, out)
}

func TestRarXorLeavesBytesBeforeMagicOffsetUntouched(t *testing.T) {
	data := []byte("unobfuscated-prefix")
	s := NewRarXor(newMemStream(data), int64(len(data)+100))

	out := make([]byte, len(data))
	n, err := io.ReadFull(s, out)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

func TestComposedLimitAesRarXor(t *testing.T) {
	key := bytes.Repeat([]byte{0x5c}, 16)
	iv := bytes.Repeat([]byte{0x02}, 16)

	plain := []byte("leading-clear-bytes")
	magicOffset := int64(5)
	obfuscated := append([]byte(nil), plain...)
	for i := int(magicOffset); i < len(obfuscated); i++ {
		obfuscated[i] ^= rarObfuscationKey[(int64(i)-magicOffset)%4]
	}
	ciphertext := ctrEncrypt(t, key, iv, obfuscated)

	limited := NewLimit(newMemStream(ciphertext), int64(len(ciphertext)))
	decrypted, err := NewAes(limited, key, iv)
	require.NoError(t, err)
	deobfuscated := NewRarXor(decrypted, magicOffset)

	out := make([]byte, len(plain))
	n, err := io.ReadFull(deobfuscated, out)
	require.NoError(t, err)
	assert.Equal(t, len(plain), n)
	assert.Equal(t, plain, out)
}
